// Package orderbook maintains one authoritative in-memory book per
// (exchange, symbol), applying venue deltas on top of periodic REST
// snapshots and detecting the gaps that force a resync.
package orderbook

import (
	"sort"

	"github.com/marketprism/ingest/internal/record"
)

// Book is one exchange/symbol's current depth state. Bids are kept
// sorted descending by price, asks ascending.
type Book struct {
	Bids         []record.PriceLevel
	Asks         []record.PriceLevel
	LastUpdateID int64
}

// ApplySnapshot replaces the book wholesale with snap's levels.
func (b *Book) ApplySnapshot(snap record.OrderbookSnapshot) {
	b.Bids = append([]record.PriceLevel(nil), snap.Bids...)
	b.Asks = append([]record.PriceLevel(nil), snap.Asks...)
	b.LastUpdateID = snap.LastUpdateID
}

// ApplyDelta merges delta's level changes into the book in place.
func (b *Book) ApplyDelta(delta record.OrderbookDelta) {
	b.Bids = mergeChanges(b.Bids, delta.BidChanges, true)
	b.Asks = mergeChanges(b.Asks, delta.AskChanges, false)
	b.LastUpdateID = delta.LastUpdateID
}

// BestBidAsk returns the top of book, if present.
func (b *Book) BestBidAsk() (bid, ask *record.PriceLevel) {
	if len(b.Bids) > 0 {
		bid = &b.Bids[0]
	}
	if len(b.Asks) > 0 {
		ask = &b.Asks[0]
	}
	return bid, ask
}

// mergeChanges applies a set of level changes into a sorted level slice,
// inserting, updating, or removing levels as needed. descending selects
// bid-side ordering (highest price first).
func mergeChanges(levels []record.PriceLevel, changes []record.LevelChange, descending bool) []record.PriceLevel {
	for _, ch := range changes {
		idx := sort.Search(len(levels), func(i int) bool {
			if descending {
				return levels[i].Price.LessThanOrEqual(ch.Price)
			}
			return levels[i].Price.GreaterThanOrEqual(ch.Price)
		})

		if idx < len(levels) && levels[idx].Price.Equal(ch.Price) {
			if ch.Removed() {
				levels = append(levels[:idx], levels[idx+1:]...)
			} else {
				levels[idx].Quantity = ch.Quantity
			}
			continue
		}

		if ch.Removed() {
			continue
		}

		levels = append(levels, record.PriceLevel{})
		copy(levels[idx+1:], levels[idx:])
		levels[idx] = record.PriceLevel{Price: ch.Price, Quantity: ch.Quantity}
	}
	return levels
}
