// Package coinbase adapts Coinbase Exchange's WebSocket feed to the
// internal/exchange.Session contract.
package coinbase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/record"
)

// Adapter streams Coinbase "matches" (trades) and "level2" (order book)
// channels for a fixed product set. Coinbase's level2 channel only ever
// emits a full snapshot followed by incremental updates; the incremental
// updates are dropped here since internal/normalize's CoinbaseNormalizer
// handles snapshot-only order books (no native sequence number to
// bridge deltas against).
type Adapter struct {
	productIDs []string
	proxyURL   string
}

func New(productIDs []string, proxyURL string) *Adapter {
	return &Adapter{productIDs: productIDs, proxyURL: proxyURL}
}

func (a *Adapter) Exchange() string { return "coinbase" }

func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{SupportsProxy: true}
}

func (a *Adapter) DialConfig() exchange.DialConfig {
	return exchange.DialConfig{
		URL:      "wss://ws-feed.exchange.coinbase.com",
		ProxyURL: a.proxyURL,
	}
}

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

func (a *Adapter) SubscriptionMessages() ([][]byte, error) {
	msg, err := json.Marshal(subscribeRequest{
		Type:       "subscribe",
		ProductIDs: a.productIDs,
		Channels:   []string{"matches", "level2"},
	})
	if err != nil {
		return nil, fmt.Errorf("coinbase: marshal subscribe: %w", err)
	}
	return [][]byte{msg}, nil
}

type typedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// HandleFrame routes data frames to emit; the "subscriptions" frame
// (Coinbase's single confirmation covering every requested channel) and
// "error" frames go to control.
func (a *Adapter) HandleFrame(frame []byte, emit func(exchange.RawMessage), control func(exchange.ControlEvent)) error {
	var tf typedFrame
	if err := json.Unmarshal(frame, &tf); err != nil {
		return fmt.Errorf("coinbase: parse frame: %w", err)
	}

	switch tf.Type {
	case "match", "last_match":
		emit(exchange.RawMessage{DataType: record.DataTypeTrade, Payload: frame})
	case "snapshot":
		emit(exchange.RawMessage{DataType: record.DataTypeOrderbookSnapshot, Payload: frame})
	case "subscriptions":
		control(exchange.ControlEvent{SubscribeAck: true})
	case "error":
		control(exchange.ControlEvent{
			Err:   fmt.Errorf("coinbase: %s: %s", tf.Message, tf.Reason),
			Fatal: coinbaseFatalError(tf.Message, tf.Reason),
		})
	default:
		// l2update, heartbeat: nothing to normalize.
	}
	return nil
}

// coinbaseFatalError reports whether an error frame is auth-class;
// Coinbase carries the reason as free text.
func coinbaseFatalError(message, reason string) bool {
	lower := strings.ToLower(message + " " + reason)
	return strings.Contains(lower, "auth") || strings.Contains(lower, "forbidden")
}
