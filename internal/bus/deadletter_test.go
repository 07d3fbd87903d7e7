package bus

import "testing"

func TestDeadLetterQueue_DrainReturnsInOrder(t *testing.T) {
	q := NewDeadLetterQueue(4)
	for i := 0; i < 3; i++ {
		q.Push(DeadLetterEntry{Message: Message{Subject: "trade.binance.btc-usdt"}, Reason: "timeout"})
	}

	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}

	drained := q.Drain()
	if len(drained) != 3 {
		t.Fatalf("drained %d entries, want 3", len(drained))
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after drain, got len %d", q.Len())
	}
}

func TestDeadLetterQueue_EvictsOldestWhenFull(t *testing.T) {
	q := NewDeadLetterQueue(2)
	q.Push(DeadLetterEntry{Reason: "first"})
	q.Push(DeadLetterEntry{Reason: "second"})
	q.Push(DeadLetterEntry{Reason: "third"})

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected capacity-bounded drain of 2, got %d", len(drained))
	}
	if drained[0].Reason != "second" || drained[1].Reason != "third" {
		t.Fatalf("expected oldest entry evicted, got %+v", drained)
	}
}
