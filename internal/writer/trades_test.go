package writer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

type fakeTradeRepo struct {
	mu       sync.Mutex
	inserted []record.Trade
	failWith error
}

func (r *fakeTradeRepo) InsertBatch(ctx context.Context, trades []record.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.inserted = append(r.inserted, trades...)
	return nil
}

func (r *fakeTradeRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.Trade, error) {
	return nil, nil
}
func (r *fakeTradeRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return 0, nil
}
func (r *fakeTradeRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeTradeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inserted)
}

func tradeEnvelope(id string) record.Envelope {
	trade := record.Trade{
		Meta:    record.Meta{Exchange: "binance", Symbol: "BTC-USDT"},
		TradeID: id,
	}
	return record.NewEnvelope(record.DataTypeTrade, trade.Meta, trade)
}

func TestTradeBatcherFlushesOnBatchSize(t *testing.T) {
	repo := &fakeTradeRepo{}
	b := NewTradeBatcher(repo, BatchConfig{BatchSize: 2, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0))

	done := make(chan error, 2)
	go func() { done <- b.Add(context.Background(), tradeEnvelope("t1")) }()
	go func() { done <- b.Add(context.Background(), tradeEnvelope("t2")) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Add did not return after batch-size flush")
		}
	}
	if repo.count() != 2 {
		t.Fatalf("expected 2 rows inserted, got %d", repo.count())
	}
}

func TestTradeBatcherFlushesOnTimer(t *testing.T) {
	repo := &fakeTradeRepo{}
	b := NewTradeBatcher(repo, BatchConfig{BatchSize: 100, MaxDelay: 20 * time.Millisecond, QueueCap: 10}, NewQuarantine(0))

	if err := b.Add(context.Background(), tradeEnvelope("t1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("expected 1 row inserted after timer flush, got %d", repo.count())
	}
}

func TestTradeBatcherRejectsWrongPayloadType(t *testing.T) {
	repo := &fakeTradeRepo{}
	b := NewTradeBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0))

	env := record.NewEnvelope(record.DataTypeTrade, record.Meta{Exchange: "binance", Symbol: "BTC-USDT"}, record.Liquidation{})
	if err := b.Add(context.Background(), env); err == nil {
		t.Fatal("expected an error for a mismatched payload type")
	}
}

func TestTradeBatcherQuarantinesSchemaErrors(t *testing.T) {
	repo := &fakeTradeRepo{failWith: &pq.Error{Code: "23502"}}
	q := NewQuarantine(0)
	b := NewTradeBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, q)

	if err := b.Add(context.Background(), tradeEnvelope("bad")); err != nil {
		t.Fatalf("schema errors are quarantined, not returned: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 quarantined entry, got %d", q.Len())
	}
}

func TestTradeBatcherReturnsTransientErrors(t *testing.T) {
	repo := &fakeTradeRepo{failWith: &pq.Error{Code: "08000"}}
	b := NewTradeBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0))

	if err := b.Add(context.Background(), tradeEnvelope("t1")); err == nil {
		t.Fatal("expected a connection-class error to be returned, not swallowed")
	}
}

func TestTradeBatcherRejectsOverCapacity(t *testing.T) {
	repo := &fakeTradeRepo{}
	b := NewTradeBatcher(repo, BatchConfig{BatchSize: 100, MaxDelay: time.Minute, QueueCap: 1}, NewQuarantine(0))

	go func() { _ = b.Add(context.Background(), tradeEnvelope("t1")) }()
	time.Sleep(20 * time.Millisecond)

	if err := b.Add(context.Background(), tradeEnvelope("t2")); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
