package bus

import "testing"

func TestStreamForSubject_RoutesOrderbook(t *testing.T) {
	cases := map[string]string{
		"orderbook.full.binance.btc-usdt":      StreamOrderbookFull,
		"orderbook.snapshot.okx.eth-usdt":      StreamOrderbookFull,
		"orderbook.delta.binance.btc-usdt":     StreamOrderbookDelta,
		"orderbook.pure_delta.kraken.btc-usdt": StreamOrderbookDelta,
		"trade.coinbase.btc-usd":               StreamMarketTrades,
		"funding_rate.binance.btc-usdt":        StreamMarketData,
		"volatility_index.binance.btc-usdt":    StreamMarketData,
	}
	for subject, want := range cases {
		if got := StreamForSubject(subject); got != want {
			t.Errorf("StreamForSubject(%q) = %s, want %s", subject, got, want)
		}
	}
}

func TestDefaultStreams_RetentionAndConsumers(t *testing.T) {
	streams := DefaultStreams()
	byName := make(map[string]StreamConfig)
	for _, s := range streams {
		byName[s.Name] = s
	}

	full := byName[StreamOrderbookFull]
	if full.ConsumerCount != 10 {
		t.Errorf("ORDERBOOK_FULL consumer_count = %d, want 10", full.ConsumerCount)
	}

	delta := byName[StreamOrderbookDelta]
	if delta.ConsumerCount != 20 {
		t.Errorf("ORDERBOOK_DELTA consumer_count = %d, want 20", delta.ConsumerCount)
	}
	if delta.MaxAge.Hours() != 1 {
		t.Errorf("ORDERBOOK_DELTA max_age = %v, want 1h", delta.MaxAge)
	}

	trades := byName[StreamMarketTrades]
	if trades.ConsumerCount != 15 {
		t.Errorf("MARKET_TRADES consumer_count = %d, want 15", trades.ConsumerCount)
	}
}
