package coinbase

import (
	"encoding/json"
	"testing"

	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/record"
)

func TestAdapter_SubscriptionMessages(t *testing.T) {
	a := New([]string{"BTC-USD"}, "")
	msgs, err := a.SubscriptionMessages()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one subscribe message, got %d", len(msgs))
	}

	var req subscribeRequest
	if err := json.Unmarshal(msgs[0], &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Type != "subscribe" || len(req.Channels) != 2 {
		t.Fatalf("unexpected subscribe request: %+v", req)
	}
}

func TestAdapter_HandleFrame_MatchRoutesToTrade(t *testing.T) {
	a := New([]string{"BTC-USD"}, "")
	frame := []byte(`{"type":"match","trade_id":1,"product_id":"BTC-USD","price":"100","size":"1","side":"buy","time":"2024-01-01T00:00:00.000Z"}`)

	var got []exchange.RawMessage
	if err := a.HandleFrame(frame, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].DataType != record.DataTypeTrade {
		t.Fatalf("expected trade message, got %+v", got)
	}
}

func TestAdapter_HandleFrame_SnapshotRoutesToOrderbook(t *testing.T) {
	a := New([]string{"BTC-USD"}, "")
	frame := []byte(`{"type":"snapshot","product_id":"BTC-USD","bids":[],"asks":[]}`)

	var got []exchange.RawMessage
	if err := a.HandleFrame(frame, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].DataType != record.DataTypeOrderbookSnapshot {
		t.Fatalf("expected snapshot message, got %+v", got)
	}
}

func TestAdapter_HandleFrame_L2UpdateIgnored(t *testing.T) {
	a := New([]string{"BTC-USD"}, "")
	frame := []byte(`{"type":"l2update","product_id":"BTC-USD","changes":[]}`)

	var got []exchange.RawMessage
	if err := a.HandleFrame(frame, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no messages for l2update, got %d", len(got))
	}
}

func TestAdapter_HandleFrame_SubscriptionsFrameAcks(t *testing.T) {
	a := New([]string{"BTC-USD"}, "")
	frame := []byte(`{"type":"subscriptions","channels":[{"name":"matches","product_ids":["BTC-USD"]}]}`)

	var control []exchange.ControlEvent
	err := a.HandleFrame(frame, nil, func(ev exchange.ControlEvent) { control = append(control, ev) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(control) != 1 || !control[0].SubscribeAck {
		t.Fatalf("expected one subscribe ack, got %+v", control)
	}
}

func TestAdapter_HandleFrame_ErrorFrameSurfaced(t *testing.T) {
	a := New([]string{"BTC-USD"}, "")

	var control []exchange.ControlEvent
	collect := func(ev exchange.ControlEvent) { control = append(control, ev) }

	rejected := []byte(`{"type":"error","message":"Failed to subscribe","reason":"XYZ-ABC is not a valid product"}`)
	if err := a.HandleFrame(rejected, nil, collect); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(control) != 1 || control[0].Err == nil || control[0].Fatal {
		t.Fatalf("expected one non-fatal error, got %+v", control)
	}

	control = nil
	authFail := []byte(`{"type":"error","message":"Authentication failure","reason":"invalid signature"}`)
	if err := a.HandleFrame(authFail, nil, collect); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(control) != 1 || !control[0].Fatal {
		t.Fatalf("expected one fatal error, got %+v", control)
	}
}

func discardControl(exchange.ControlEvent) {}
