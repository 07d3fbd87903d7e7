package normalize

import (
	"errors"
	"testing"

	"github.com/marketprism/ingest/internal/record"
)

func TestBinanceNormalizeTrade_SpecScenario(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketSpot)

	raw := []byte(`{"s":"BTCUSDT","t":"42","p":"30000.10","q":"0.5","T":1720000000123,"m":false}`)

	env, err := n.Normalize(record.DataTypeTrade, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	trade, ok := env.Payload.(record.Trade)
	if !ok {
		t.Fatalf("expected record.Trade payload, got %T", env.Payload)
	}

	if env.Exchange != "binance" {
		t.Errorf("exchange = %q, want binance", env.Exchange)
	}
	if env.MarketType != record.MarketSpot {
		t.Errorf("market_type = %q, want spot", env.MarketType)
	}
	if env.Symbol != "BTC-USDT" {
		t.Errorf("symbol = %q, want BTC-USDT", env.Symbol)
	}
	if trade.TradeID != "42" {
		t.Errorf("trade_id = %q, want 42", trade.TradeID)
	}
	if trade.Price.String() != "30000.1" {
		t.Errorf("price = %q, want 30000.1", trade.Price.String())
	}
	if trade.Quantity.String() != "0.5" {
		t.Errorf("quantity = %q, want 0.5", trade.Quantity.String())
	}
	if trade.Side != record.SideBuy {
		t.Errorf("side = %q, want buy", trade.Side)
	}
	if env.TsMs != 1720000000123 {
		t.Errorf("ts_ms = %d, want 1720000000123", env.TsMs)
	}
}

func TestBinanceNormalizeTrade_BuyerMaker(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketSpot)
	raw := []byte(`{"s":"BTCUSDT","t":"43","p":"30000.10","q":"0.5","T":1720000000123,"m":true}`)

	env, err := n.Normalize(record.DataTypeTrade, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trade := env.Payload.(record.Trade)
	if trade.Side != record.SideSell {
		t.Errorf("side = %q, want sell when isBuyerMaker=true", trade.Side)
	}
}

func TestBinanceNormalizeTrade_InvalidPayload(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketSpot)

	_, err := n.Normalize(record.DataTypeTrade, []byte(`{"s":"BTCUSDT","t":"1","p":"1","q":"1","T":0,"m":false}`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestBinanceNormalizeTrade_UnknownSymbol(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketSpot)

	_, err := n.Normalize(record.DataTypeTrade, []byte(`{"s":"ZZZZZZ","t":"1","p":"1","q":"1","T":1720000000123,"m":false}`))
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestBinanceNormalizeTrade_PrecisionLoss(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketSpot)

	_, err := n.Normalize(record.DataTypeTrade, []byte(`{"s":"BTCUSDT","t":"1","p":"not-a-number","q":"1","T":1720000000123,"m":false}`))
	if !errors.Is(err, ErrPrecisionLoss) {
		t.Fatalf("expected ErrPrecisionLoss, got %v", err)
	}
}

func TestBinanceNormalizeSnapshot(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketSpot)
	raw := []byte(`{"s":"BTCUSDT","lastUpdateId":1000,"E":1720000000123,"bids":[["100.0","1.0"]],"asks":[["100.1","2.0"]]}`)

	env, err := n.Normalize(record.DataTypeOrderbookSnapshot, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := env.Payload.(record.OrderbookSnapshot)
	if snap.LastUpdateID != 1000 {
		t.Errorf("last_update_id = %d, want 1000", snap.LastUpdateID)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("expected one bid and one ask level")
	}
	if env.OrderbookKind != record.OrderbookKindSnapshot {
		t.Errorf("orderbook_kind = %q, want snapshot", env.OrderbookKind)
	}
}

func TestBinanceNormalizeSnapshot_CrossedBookRejected(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketSpot)
	raw := []byte(`{"s":"BTCUSDT","lastUpdateId":1000,"E":1720000000123,"bids":[["100.2","1.0"]],"asks":[["100.1","2.0"]]}`)

	if _, err := n.Normalize(record.DataTypeOrderbookSnapshot, raw); err == nil {
		t.Fatal("expected crossed-book error")
	}
}

func TestBinanceNormalizeDelta(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketSpot)
	raw := []byte(`{"s":"BTCUSDT","E":1720000000200,"U":1001,"u":1010,"pu":1000,"b":[["100.0","0"]],"a":[["100.1","3.0"]]}`)

	env, err := n.Normalize(record.DataTypeOrderbookDelta, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	delta := env.Payload.(record.OrderbookDelta)
	if delta.FirstUpdateID != 1001 || delta.LastUpdateID != 1010 {
		t.Fatalf("unexpected update IDs: first=%d last=%d", delta.FirstUpdateID, delta.LastUpdateID)
	}
	if !delta.BidChanges[0].Removed() {
		t.Fatal("expected zero-quantity bid change to be a removal")
	}
}

func TestBinanceNormalizeFundingRate(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketPerpetual)
	raw := []byte(`{"s":"BTCUSDT","r":"0.0001","T":1720000000000,"nextFundingTime":1720028800000,"p":"30010.5","i":"30009.0"}`)

	env, err := n.Normalize(record.DataTypeFundingRate, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Symbol != "BTC-USDT-PERP" {
		t.Errorf("symbol = %q, want BTC-USDT-PERP", env.Symbol)
	}
	funding := env.Payload.(record.FundingRate)
	if funding.MarkPrice == nil || funding.MarkPrice.String() != "30010.5" {
		t.Errorf("unexpected mark price: %+v", funding.MarkPrice)
	}
}

func TestBinanceUnsupportedDataType(t *testing.T) {
	n := NewBinanceNormalizer(record.MarketSpot)
	if _, err := n.Normalize(record.DataTypeLSRTopPosition, []byte(`{}`)); !errors.Is(err, ErrUnsupportedDataType) {
		t.Fatalf("expected ErrUnsupportedDataType, got %v", err)
	}
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(NewBinanceNormalizer(record.MarketSpot), NewOKXNormalizer(record.MarketSpot))

	raw := []byte(`{"s":"BTCUSDT","t":"42","p":"30000.10","q":"0.5","T":1720000000123,"m":false}`)
	if _, err := reg.Normalize("binance", record.DataTypeTrade, raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := reg.Normalize("unknown-exchange", record.DataTypeTrade, raw); err == nil {
		t.Fatal("expected error for unregistered exchange")
	}
}
