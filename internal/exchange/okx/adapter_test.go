package okx

import (
	"encoding/json"
	"testing"

	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/record"
)

func TestAdapter_SubscriptionMessages(t *testing.T) {
	a := New([]string{"BTC-USDT"}, "")
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
	if req.Op != "subscribe" || len(req.Args) != 2 {
		t.Fatalf("unexpected subscribe request: %+v", req)
	}
}

func TestAdapter_HandleFrame_TradesInjectsInstID(t *testing.T) {
	a := New([]string{"BTC-USDT"}, "")
	frame := []byte(`{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[{"tradeId":"1","px":"100","sz":"1","side":"buy","ts":"1720000000000"}]}`)

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

	var decoded map[string]interface{}
	if err := json.Unmarshal(got[0].Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["instId"] != "BTC-USDT" {
		t.Errorf("instId = %v, want BTC-USDT", decoded["instId"])
	}
}

func TestAdapter_HandleFrame_BookSnapshotVsUpdate(t *testing.T) {
	a := New([]string{"BTC-USDT"}, "")

	snapshot := []byte(`{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"snapshot","data":[{"bids":[],"asks":[],"ts":"1"}]}`)
	var got []exchange.RawMessage
	if err := a.HandleFrame(snapshot, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].DataType != record.DataTypeOrderbookSnapshot {
		t.Fatalf("expected snapshot data type, got %+v", got)
	}

	update := []byte(`{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"update","data":[{"bids":[],"asks":[],"ts":"1"}]}`)
	got = nil
	if err := a.HandleFrame(update, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].DataType != record.DataTypeOrderbookDelta {
		t.Fatalf("expected delta data type, got %+v", got)
	}
}

func TestAdapter_HandleFrame_SubscribeEventAcks(t *testing.T) {
	a := New([]string{"BTC-USDT"}, "")
	frame := []byte(`{"event":"subscribe","arg":{"channel":"trades","instId":"BTC-USDT"}}`)

	var got []exchange.RawMessage
	var control []exchange.ControlEvent
	err := a.HandleFrame(frame, func(m exchange.RawMessage) { got = append(got, m) },
		func(ev exchange.ControlEvent) { control = append(control, ev) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no data messages for ack event, got %d", len(got))
	}
	if len(control) != 1 || !control[0].SubscribeAck {
		t.Fatalf("expected one subscribe ack, got %+v", control)
	}
}

func TestAdapter_HandleFrame_ErrorEventSurfaced(t *testing.T) {
	a := New([]string{"BTC-USDT"}, "")

	var control []exchange.ControlEvent
	collect := func(ev exchange.ControlEvent) { control = append(control, ev) }

	rejected := []byte(`{"event":"error","code":"60012","msg":"Invalid request"}`)
	if err := a.HandleFrame(rejected, nil, collect); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(control) != 1 || control[0].Err == nil || control[0].Fatal {
		t.Fatalf("expected one non-fatal error event, got %+v", control)
	}

	control = nil
	authFail := []byte(`{"event":"error","code":"60009","msg":"Login failed"}`)
	if err := a.HandleFrame(authFail, nil, collect); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(control) != 1 || control[0].Err == nil || !control[0].Fatal {
		t.Fatalf("expected one fatal error event, got %+v", control)
	}
}

func discardControl(exchange.ControlEvent) {}
