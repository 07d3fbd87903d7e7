// Package binance adapts Binance's combined-stream WebSocket endpoint to
// the internal/exchange.Session contract.
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/record"
)

// Adapter streams Binance spot or perpetual data for a fixed symbol set.
// Binance multiplexes every subscribed channel over one socket via the
// combined-stream URL, so there is no post-connect subscribe frame.
type Adapter struct {
	symbols    []string
	marketType record.MarketType
	proxyURL   string
}

// New builds a Binance adapter for symbols (exchange-native form, e.g.
// "BTCUSDT") on the given market type.
func New(symbols []string, marketType record.MarketType, proxyURL string) *Adapter {
	return &Adapter{symbols: symbols, marketType: marketType, proxyURL: proxyURL}
}

func (a *Adapter) Exchange() string { return "binance" }

func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{SupportsProxy: true, MultiplexedSubscription: true}
}

func (a *Adapter) DialConfig() exchange.DialConfig {
	streams := make([]string, 0, len(a.symbols)*2)
	for _, sym := range a.symbols {
		lower := strings.ToLower(sym)
		streams = append(streams, lower+"@trade", lower+"@depth@100ms")
		if a.marketType == record.MarketPerpetual {
			streams = append(streams, lower+"@markPrice@1s", lower+"@forceOrder")
		}
	}

	host := "wss://stream.binance.com:9443"
	if a.marketType == record.MarketPerpetual {
		host = "wss://fstream.binance.com"
	}

	return exchange.DialConfig{
		URL:      fmt.Sprintf("%s/stream?streams=%s", host, strings.Join(streams, "/")),
		ProxyURL: a.proxyURL,
	}
}

// SubscriptionMessages is empty: subscriptions are encoded in the dial URL.
func (a *Adapter) SubscriptionMessages() ([][]byte, error) { return nil, nil }

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// HandleFrame routes combined-stream data frames by stream suffix.
// Binance encodes subscriptions in the dial URL, so there is no
// subscribe acknowledgment to surface; control is never called.
func (a *Adapter) HandleFrame(frame []byte, emit func(exchange.RawMessage), control func(exchange.ControlEvent)) error {
	var cf combinedFrame
	if err := json.Unmarshal(frame, &cf); err != nil {
		return fmt.Errorf("binance: parse combined frame: %w", err)
	}
	if cf.Stream == "" {
		return nil
	}

	dataType, ok := dataTypeForStream(cf.Stream)
	if !ok {
		return nil
	}
	emit(exchange.RawMessage{DataType: dataType, Payload: cf.Data})
	return nil
}

func dataTypeForStream(stream string) (record.DataType, bool) {
	switch {
	case strings.HasSuffix(stream, "@trade"):
		return record.DataTypeTrade, true
	case strings.Contains(stream, "@depth"):
		return record.DataTypeOrderbookDelta, true
	case strings.Contains(stream, "@markPrice"):
		return record.DataTypeFundingRate, true
	case strings.Contains(stream, "@forceOrder"):
		return record.DataTypeLiquidation, true
	default:
		return "", false
	}
}
