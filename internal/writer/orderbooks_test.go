package writer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

type fakeOrderbookRepo struct {
	mu       sync.Mutex
	inserted []record.OrderbookSnapshot
}

func (r *fakeOrderbookRepo) InsertSnapshotBatch(ctx context.Context, snapshots []record.OrderbookSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, snapshots...)
	return nil
}
func (r *fakeOrderbookRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.OrderbookSnapshot, error) {
	return nil, nil
}
func (r *fakeOrderbookRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return 0, nil
}
func (r *fakeOrderbookRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeOrderbookRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inserted)
}

func bookMeta() record.Meta {
	return record.Meta{Exchange: "okx", Symbol: "BTC-USDT"}
}

func snapshotEnvelope(lastUpdateID int64, checksum string) record.Envelope {
	meta := bookMeta()
	snap := record.OrderbookSnapshot{
		Meta:         meta,
		LastUpdateID: lastUpdateID,
		Bids:         []record.PriceLevel{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}},
		Asks:         []record.PriceLevel{{Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(1)}},
		Checksum:     checksum,
	}
	env := record.NewEnvelope(record.DataTypeOrderbookSnapshot, meta, snap)
	env.OrderbookKind = record.OrderbookKindSnapshot
	return env
}

func TestOrderbookBatcherPersistsSnapshot(t *testing.T) {
	repo := &fakeOrderbookRepo{}
	b := NewOrderbookBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0), 16, nil)

	if err := b.Add(context.Background(), snapshotEnvelope(1, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("expected 1 row inserted, got %d", repo.count())
	}
}

func TestOrderbookBatcherVerifiesChecksumWithoutFailingTheWrite(t *testing.T) {
	repo := &fakeOrderbookRepo{}
	b := NewOrderbookBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0), 16, nil)

	// A checksum that can't possibly match the freshly-applied book is a
	// resync signal, not a write failure: Add still durably persists the
	// snapshot it was given.
	if err := b.Add(context.Background(), snapshotEnvelope(1, "999999999")); err != nil {
		t.Fatalf("checksum mismatch must not fail the write: %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("expected 1 row inserted despite checksum mismatch, got %d", repo.count())
	}
}

func TestOrderbookBatcherRejectsUnknownDataType(t *testing.T) {
	repo := &fakeOrderbookRepo{}
	b := NewOrderbookBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0), 16, nil)

	env := record.NewEnvelope(record.DataTypeTrade, bookMeta(), record.Trade{Meta: bookMeta(), TradeID: "x"})
	if err := b.Add(context.Background(), env); err == nil {
		t.Fatal("expected an error for a non-orderbook data type")
	}
}

func TestOrderbookBatcherDeltaWithoutSyncIsHandledNotPersisted(t *testing.T) {
	repo := &fakeOrderbookRepo{}
	b := NewOrderbookBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0), 16, nil)

	meta := bookMeta()
	delta := record.OrderbookDelta{Meta: meta, LastUpdateID: 5}
	env := record.NewEnvelope(record.DataTypeOrderbookDelta, meta, delta)

	// No snapshot has been applied yet and no SnapshotFetcher is wired, so
	// the maintainer reports ErrSnapshotTimeout; Add must treat that as
	// "nothing to persist yet", not a failure.
	if err := b.Add(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.count() != 0 {
		t.Fatalf("expected no rows inserted before the book is synced, got %d", repo.count())
	}
}

func TestOrderbookBatcherDeltaAfterSnapshotPersists(t *testing.T) {
	repo := &fakeOrderbookRepo{}
	b := NewOrderbookBatcher(repo, BatchConfig{BatchSize: 1, MaxDelay: time.Minute, QueueCap: 10}, NewQuarantine(0), 16, nil)

	if err := b.Add(context.Background(), snapshotEnvelope(1, "")); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	meta := bookMeta()
	delta := record.OrderbookDelta{Meta: meta, FirstUpdateID: 2, LastUpdateID: 2, PrevUpdateID: 1}
	env := record.NewEnvelope(record.DataTypeOrderbookDelta, meta, delta)
	if err := b.Add(context.Background(), env); err != nil {
		t.Fatalf("unexpected error applying delta: %v", err)
	}
	if repo.count() != 2 {
		t.Fatalf("expected 2 rows inserted (snapshot + delta), got %d", repo.count())
	}
}
