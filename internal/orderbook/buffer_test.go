package orderbook

import (
	"testing"

	"github.com/marketprism/ingest/internal/record"
)

func delta(lastUpdateID int64) record.OrderbookDelta {
	return record.OrderbookDelta{LastUpdateID: lastUpdateID}
}

func TestDeltaBuffer_SinceReturnsInOrder(t *testing.T) {
	b := NewDeltaBuffer(4)
	for _, id := range []int64{1, 2, 3} {
		b.Add(delta(id))
	}

	got := b.Since(1)
	if len(got) != 2 {
		t.Fatalf("expected 2 deltas after id 1, got %d", len(got))
	}
	if got[0].LastUpdateID != 2 || got[1].LastUpdateID != 3 {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestDeltaBuffer_OverwritesOldestWhenFull(t *testing.T) {
	b := NewDeltaBuffer(2)
	b.Add(delta(1))
	b.Add(delta(2))
	b.Add(delta(3)) // evicts id 1

	got := b.Since(0)
	if len(got) != 2 {
		t.Fatalf("expected buffer capped at 2 entries, got %d", len(got))
	}
	for _, d := range got {
		if d.LastUpdateID == 1 {
			t.Fatal("expected id 1 to have been evicted")
		}
	}
}

func TestDeltaBuffer_Len(t *testing.T) {
	b := NewDeltaBuffer(3)
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got len %d", b.Len())
	}
	b.Add(delta(1))
	b.Add(delta(2))
	if b.Len() != 2 {
		t.Fatalf("expected len 2, got %d", b.Len())
	}
}
