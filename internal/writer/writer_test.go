package writer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/marketprism/ingest/internal/bus"
)

// TestWriterStartConsumesPrefixedSubjects exercises Start end-to-end
// through a real EventBus: the writer subscribes on the literal type
// prefix ("trade."), and a message published under the longer, fully
// qualified subject ("trade.binance.btc-usdt") must still reach the
// trade batcher and land in the repo.
func TestWriterStartConsumesPrefixedSubjects(t *testing.T) {
	b, err := bus.NewStubBus(bus.DefaultStubConfig())
	if err != nil {
		t.Fatalf("new stub bus: %v", err)
	}
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	defer b.Stop(ctx)

	repo := &fakeTradeRepo{}
	w := &Writer{
		bus:        b,
		quarantine: NewQuarantine(0),
		trades:     NewTradeBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0)),
	}

	if err := w.Start(ctx); err != nil {
		t.Fatalf("writer start: %v", err)
	}

	env := tradeEnvelope("t1")
	subject, err := env.Subject()
	if err != nil {
		t.Fatalf("subject: %v", err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	if err := b.Publish(ctx, subject, "t1", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(time.Second)
	for repo.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("trade published under a longer subject than the writer's subscribed prefix was never delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if repo.count() != 1 {
		t.Fatalf("expected 1 row inserted, got %d", repo.count())
	}
}

func TestDispatchDecodesAndRoutesEnvelope(t *testing.T) {
	repo := &fakeTradeRepo{}
	batcher := NewTradeBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0))

	env := tradeEnvelope("t1")
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	msg := &bus.Message{Subject: "trade.binance.btc-usdt", Payload: payload}

	if err := dispatch(context.Background(), batcher, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("expected 1 row inserted, got %d", repo.count())
	}
}

func TestDispatchPropagatesDecodeErrors(t *testing.T) {
	repo := &fakeTradeRepo{}
	batcher := NewTradeBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0))

	msg := &bus.Message{Subject: "trade.binance.btc-usdt", Payload: []byte("not json")}
	if err := dispatch(context.Background(), batcher, msg); err == nil {
		t.Fatal("expected a decode error for malformed payload")
	}
}
