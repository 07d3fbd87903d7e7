package binance

import (
	"testing"

	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/record"
)

func TestAdapter_DialConfig_SpotStreams(t *testing.T) {
	a := New([]string{"BTCUSDT"}, record.MarketSpot, "")
	cfg := a.DialConfig()
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/btcusdt@depth@100ms"
	if cfg.URL != want {
		t.Errorf("url = %q, want %q", cfg.URL, want)
	}
}

func TestAdapter_DialConfig_PerpetualIncludesFundingAndLiquidation(t *testing.T) {
	a := New([]string{"BTCUSDT"}, record.MarketPerpetual, "")
	cfg := a.DialConfig()
	if cfg.URL == "" {
		t.Fatal("expected non-empty url")
	}
	for _, want := range []string{"fstream.binance.com", "markPrice", "forceOrder"} {
		if !contains(cfg.URL, want) {
			t.Errorf("url %q missing %q", cfg.URL, want)
		}
	}
}

func TestAdapter_HandleFrame_RoutesTradeStream(t *testing.T) {
	a := New([]string{"BTCUSDT"}, record.MarketSpot, "")
	frame := []byte(`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","t":"1","p":"1","q":"1","T":1,"m":false}}`)

	var got []exchange.RawMessage
	if err := a.HandleFrame(frame, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].DataType != record.DataTypeTrade {
		t.Errorf("data type = %q, want trade", got[0].DataType)
	}
}

func TestAdapter_HandleFrame_UnknownStreamIgnored(t *testing.T) {
	a := New([]string{"BTCUSDT"}, record.MarketSpot, "")
	frame := []byte(`{"stream":"btcusdt@kline_1m","data":{}}`)

	var got []exchange.RawMessage
	if err := a.HandleFrame(frame, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no messages for unrecognized stream, got %d", len(got))
	}
}

func discardControl(exchange.ControlEvent) {}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
