package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketprism/ingest/internal/record"
)

func level(price, qty string) record.PriceLevel {
	return record.PriceLevel{Price: decimal.RequireFromString(price), Quantity: decimal.RequireFromString(qty)}
}

func change(price, qty string) record.LevelChange {
	return record.LevelChange{Price: decimal.RequireFromString(price), Quantity: decimal.RequireFromString(qty)}
}

func TestBook_ApplySnapshot(t *testing.T) {
	var b Book
	b.ApplySnapshot(record.OrderbookSnapshot{
		LastUpdateID: 100,
		Bids:         []record.PriceLevel{level("100.0", "1.0")},
		Asks:         []record.PriceLevel{level("100.1", "2.0")},
	})

	if b.LastUpdateID != 100 {
		t.Fatalf("last_update_id = %d, want 100", b.LastUpdateID)
	}
	bid, ask := b.BestBidAsk()
	if bid == nil || ask == nil {
		t.Fatal("expected both best bid and ask to be present")
	}
	if bid.Price.String() != "100" || ask.Price.String() != "100.1" {
		t.Fatalf("unexpected top of book: bid=%v ask=%v", bid, ask)
	}
}

func TestBook_ApplyDelta_UpdatesInsertsRemoves(t *testing.T) {
	var b Book
	b.ApplySnapshot(record.OrderbookSnapshot{
		Bids: []record.PriceLevel{level("100.0", "1.0"), level("99.0", "2.0")},
		Asks: []record.PriceLevel{level("100.1", "2.0")},
	})

	b.ApplyDelta(record.OrderbookDelta{
		LastUpdateID: 101,
		BidChanges:   []record.LevelChange{change("100.0", "0"), change("99.5", "3.0")},
		AskChanges:   []record.LevelChange{change("100.1", "5.0")},
	})

	if len(b.Bids) != 2 {
		t.Fatalf("expected 2 bid levels after update, got %d: %+v", len(b.Bids), b.Bids)
	}
	if b.Bids[0].Price.String() != "99.5" {
		t.Fatalf("expected 99.5 to be inserted at head (descending), got %+v", b.Bids)
	}
	if b.Asks[0].Quantity.String() != "5" {
		t.Fatalf("expected ask quantity updated to 5, got %s", b.Asks[0].Quantity.String())
	}
	if b.LastUpdateID != 101 {
		t.Fatalf("last_update_id = %d, want 101", b.LastUpdateID)
	}
}
