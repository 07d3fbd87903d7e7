package orderbook

import (
	"context"
	"errors"
	"testing"

	"github.com/marketprism/ingest/internal/record"
)

func snapshotAt(id int64) record.OrderbookSnapshot {
	return record.OrderbookSnapshot{
		LastUpdateID: id,
		Bids:         []record.PriceLevel{level("100.0", "1.0")},
		Asks:         []record.PriceLevel{level("100.1", "1.0")},
	}
}

func TestMaintainer_InitialDeltaTriggersResync(t *testing.T) {
	fetchCalls := 0
	fetch := func(ctx context.Context, exchange, symbol string) (record.OrderbookSnapshot, error) {
		fetchCalls++
		return snapshotAt(10), nil
	}

	m := NewMaintainer("binance", "BTC-USDT", 16, fetch)
	if m.State() != StateAwaitingSnapshot {
		t.Fatalf("state = %v, want awaiting_snapshot", m.State())
	}

	err := m.HandleDelta(context.Background(), record.OrderbookDelta{FirstUpdateID: 5, LastUpdateID: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetchCalls != 1 {
		t.Fatalf("expected one snapshot fetch, got %d", fetchCalls)
	}
	if m.State() != StateSynced {
		t.Fatalf("state = %v, want synced after resync", m.State())
	}
}

func TestMaintainer_SequenceGapTriggersResync(t *testing.T) {
	fetch := func(ctx context.Context, exchange, symbol string) (record.OrderbookSnapshot, error) {
		return snapshotAt(10), nil
	}
	m := NewMaintainer("binance", "BTC-USDT", 16, fetch)
	m.HandleSnapshot(snapshotAt(10))

	err := m.HandleDelta(context.Background(), record.OrderbookDelta{
		FirstUpdateID: 20, LastUpdateID: 25, PrevUpdateID: 19,
	})
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
	if m.State() != StateResyncing {
		t.Fatalf("state = %v, want resyncing", m.State())
	}
}

// TestMaintainer_SequenceGapTriggersResyncWithoutPrevUpdateID covers the
// primary FirstUpdateID chaining rule on its own: a Binance spot depth
// frame never sets PrevUpdateID ("pu" is futures-only), so a dropped
// delta must still be caught by FirstUpdateID alone.
func TestMaintainer_SequenceGapTriggersResyncWithoutPrevUpdateID(t *testing.T) {
	m := NewMaintainer("binance", "BTC-USDT", 16, nil)
	m.HandleSnapshot(snapshotAt(10))

	err := m.HandleDelta(context.Background(), record.OrderbookDelta{
		FirstUpdateID: 20, LastUpdateID: 25,
	})
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
	if m.State() != StateResyncing {
		t.Fatalf("state = %v, want resyncing", m.State())
	}
}

// TestMaintainer_ContiguousDeltaAppliesWithoutPrevUpdateID is the
// no-gap counterpart: a correctly chained spot delta with no
// PrevUpdateID must still apply cleanly via the primary rule alone.
func TestMaintainer_ContiguousDeltaAppliesWithoutPrevUpdateID(t *testing.T) {
	m := NewMaintainer("binance", "BTC-USDT", 16, nil)
	m.HandleSnapshot(snapshotAt(10))

	err := m.HandleDelta(context.Background(), record.OrderbookDelta{
		FirstUpdateID: 11, LastUpdateID: 12,
		BidChanges: []record.LevelChange{change("99.0", "4.0")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := m.Snapshot()
	if snap.LastUpdateID != 12 {
		t.Fatalf("last_update_id = %d, want 12", snap.LastUpdateID)
	}
}

func TestMaintainer_ContiguousDeltaApplies(t *testing.T) {
	m := NewMaintainer("binance", "BTC-USDT", 16, nil)
	m.HandleSnapshot(snapshotAt(10))

	err := m.HandleDelta(context.Background(), record.OrderbookDelta{
		FirstUpdateID: 11, LastUpdateID: 12, PrevUpdateID: 10,
		BidChanges: []record.LevelChange{change("99.0", "4.0")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := m.Snapshot()
	if snap.LastUpdateID != 12 {
		t.Fatalf("last_update_id = %d, want 12", snap.LastUpdateID)
	}
}

func TestMaintainer_ChecksumMismatchTriggersResync(t *testing.T) {
	m := NewMaintainer("okx", "BTC-USDT", 16, nil)
	m.HandleSnapshot(snapshotAt(10))

	err := m.VerifyChecksum(0)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if m.State() != StateResyncing {
		t.Fatalf("state = %v, want resyncing after checksum mismatch", m.State())
	}
}

func TestMaintainer_SnapshotFetchFailurePropagates(t *testing.T) {
	fetch := func(ctx context.Context, exchange, symbol string) (record.OrderbookSnapshot, error) {
		return record.OrderbookSnapshot{}, errors.New("rest timeout")
	}
	m := NewMaintainer("binance", "BTC-USDT", 16, fetch)

	err := m.HandleDelta(context.Background(), record.OrderbookDelta{FirstUpdateID: 1, LastUpdateID: 2})
	if !errors.Is(err, ErrSnapshotTimeout) {
		t.Fatalf("expected ErrSnapshotTimeout, got %v", err)
	}
}

func TestRegistry_GetIsStablePerKey(t *testing.T) {
	r := NewRegistry(16, nil)
	a := r.Get("binance", "BTC-USDT")
	b := r.Get("binance", "BTC-USDT")
	if a != b {
		t.Fatal("expected the same maintainer instance for the same key")
	}
	c := r.Get("binance", "ETH-USDT")
	if a == c {
		t.Fatal("expected distinct maintainers for distinct symbols")
	}
}
