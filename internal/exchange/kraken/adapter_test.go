package kraken

import (
	"encoding/json"
	"testing"

	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/record"
)

func TestAdapter_SubscriptionMessages(t *testing.T) {
	a := New([]string{"BTC/USD"}, 10, "")
	msgs, err := a.SubscriptionMessages()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected trade and book subscribe messages, got %d", len(msgs))
	}

	var tradeReq subscribeRequest
	if err := json.Unmarshal(msgs[0], &tradeReq); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tradeReq.Params.Channel != "trade" {
		t.Errorf("channel = %q, want trade", tradeReq.Params.Channel)
	}

	var bookReq subscribeRequest
	if err := json.Unmarshal(msgs[1], &bookReq); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if bookReq.Params.Channel != "book" || bookReq.Params.Depth != 10 {
		t.Fatalf("unexpected book subscribe request: %+v", bookReq)
	}
}

func TestAdapter_HandleFrame_TradeChannel(t *testing.T) {
	a := New([]string{"BTC/USD"}, 10, "")
	frame := []byte(`{"channel":"trade","type":"update","data":[{"symbol":"BTC/USD","side":"buy","price":"100","qty":"1","trade_id":1,"timestamp":"2024-01-01T00:00:00.000Z"}]}`)

	var got []exchange.RawMessage
	if err := a.HandleFrame(frame, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].DataType != record.DataTypeTrade {
		t.Fatalf("expected one trade message, got %+v", got)
	}
}

func TestAdapter_HandleFrame_BookSnapshotVsUpdate(t *testing.T) {
	a := New([]string{"BTC/USD"}, 10, "")

	snapshot := []byte(`{"channel":"book","type":"snapshot","data":[{"symbol":"BTC/USD","bids":[],"asks":[]}]}`)
	var got []exchange.RawMessage
	if err := a.HandleFrame(snapshot, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].DataType != record.DataTypeOrderbookSnapshot {
		t.Fatalf("expected snapshot, got %+v", got)
	}

	update := []byte(`{"channel":"book","type":"update","data":[{"symbol":"BTC/USD","bids":[],"asks":[]}]}`)
	got = nil
	if err := a.HandleFrame(update, func(m exchange.RawMessage) { got = append(got, m) }, discardControl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].DataType != record.DataTypeOrderbookDelta {
		t.Fatalf("expected delta, got %+v", got)
	}
}

func TestAdapter_HandleFrame_SubscribeResultAcksAndRejects(t *testing.T) {
	a := New([]string{"BTC/USD"}, 10, "")

	var control []exchange.ControlEvent
	collect := func(ev exchange.ControlEvent) { control = append(control, ev) }

	ack := []byte(`{"method":"subscribe","success":true,"result":{"channel":"trade","symbol":"BTC/USD"}}`)
	if err := a.HandleFrame(ack, nil, collect); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(control) != 1 || !control[0].SubscribeAck {
		t.Fatalf("expected one subscribe ack, got %+v", control)
	}

	control = nil
	rejected := []byte(`{"method":"subscribe","success":false,"error":"Currency pair not supported"}`)
	if err := a.HandleFrame(rejected, nil, collect); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(control) != 1 || control[0].Err == nil || control[0].Fatal {
		t.Fatalf("expected one non-fatal rejection, got %+v", control)
	}

	control = nil
	denied := []byte(`{"method":"subscribe","success":false,"error":"EGeneral:Permission denied"}`)
	if err := a.HandleFrame(denied, nil, collect); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(control) != 1 || !control[0].Fatal {
		t.Fatalf("expected one fatal rejection, got %+v", control)
	}
}

func discardControl(exchange.ControlEvent) {}
