// Package okx adapts OKX's public WebSocket v5 channel protocol to the
// internal/exchange.Session contract.
package okx

import (
	"encoding/json"
	"fmt"

	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/record"
)

// Adapter streams OKX trade and order book channels for a fixed
// instrument set.
type Adapter struct {
	instIDs  []string
	proxyURL string
}

// New builds an OKX adapter for instIDs in OKX's own form (e.g.
// "BTC-USDT", "BTC-USDT-SWAP").
func New(instIDs []string, proxyURL string) *Adapter {
	return &Adapter{instIDs: instIDs, proxyURL: proxyURL}
}

func (a *Adapter) Exchange() string { return "okx" }

func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{SupportsProxy: true, ChecksumField: true}
}

func (a *Adapter) DialConfig() exchange.DialConfig {
	return exchange.DialConfig{
		URL:      "wss://ws.okx.com:8443/ws/v5/public",
		ProxyURL: a.proxyURL,
	}
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

func (a *Adapter) SubscriptionMessages() ([][]byte, error) {
	args := make([]subscribeArg, 0, len(a.instIDs)*2)
	for _, inst := range a.instIDs {
		args = append(args, subscribeArg{Channel: "trades", InstID: inst})
		args = append(args, subscribeArg{Channel: "books", InstID: inst})
	}
	msg, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: args})
	if err != nil {
		return nil, fmt.Errorf("okx: marshal subscribe: %w", err)
	}
	return [][]byte{msg}, nil
}

type channelFrame struct {
	Arg    subscribeArg             `json:"arg"`
	Action string                   `json:"action"`
	Event  string                   `json:"event"`
	Code   string                   `json:"code"`
	Msg    string                   `json:"msg"`
	Data   []map[string]interface{} `json:"data"`
}

// HandleFrame unwraps OKX's {"arg":...,"data":[...]} envelope, merging
// the subscription's instId into each data element before re-marshaling,
// since internal/normalize's OKX structs expect instId alongside the
// rest of a trade/book entry's fields. Event frames ("subscribe",
// "error") go to control: one ack per confirmed channel, one error per
// rejected request.
func (a *Adapter) HandleFrame(frame []byte, emit func(exchange.RawMessage), control func(exchange.ControlEvent)) error {
	var cf channelFrame
	if err := json.Unmarshal(frame, &cf); err != nil {
		return fmt.Errorf("okx: parse channel frame: %w", err)
	}
	if cf.Event != "" {
		switch cf.Event {
		case "subscribe":
			control(exchange.ControlEvent{SubscribeAck: true})
		case "error":
			control(exchange.ControlEvent{
				Err:   fmt.Errorf("okx: request rejected: code=%s msg=%q", cf.Code, cf.Msg),
				Fatal: okxFatalCode(cf.Code),
			})
		}
		return nil
	}
	if len(cf.Data) == 0 {
		return nil
	}

	dataType, ok := dataTypeForChannel(cf.Arg.Channel, cf.Action)
	if !ok {
		return nil
	}

	for _, item := range cf.Data {
		item["instId"] = cf.Arg.InstID
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("okx: re-marshal data element: %w", err)
		}
		emit(exchange.RawMessage{DataType: dataType, Payload: payload})
	}
	return nil
}

// okxFatalCode reports whether an OKX error code is auth-class: 60005
// (invalid key), 60009 (login failed), 60011 (login required), 60021
// (account access denied). Everything else is a retryable request error.
func okxFatalCode(code string) bool {
	switch code {
	case "60005", "60009", "60011", "60021":
		return true
	default:
		return false
	}
}

func dataTypeForChannel(channel, action string) (record.DataType, bool) {
	switch channel {
	case "trades":
		return record.DataTypeTrade, true
	case "books", "books5", "books-l2-tbt":
		if action == "snapshot" {
			return record.DataTypeOrderbookSnapshot, true
		}
		return record.DataTypeOrderbookDelta, true
	default:
		return "", false
	}
}
