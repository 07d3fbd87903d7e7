package record

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single (price, quantity) pair in a book side.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// LevelChange is a delta update to one price level; a zero Quantity means
// the level is removed.
type LevelChange struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Removed reports whether this change removes the price level entirely.
func (c LevelChange) Removed() bool {
	return c.Quantity.IsZero()
}

// OrderbookSnapshot is a full depth-book state at a point in sequence.
// Bids are sorted descending, asks ascending.
type OrderbookSnapshot struct {
	Meta
	LastUpdateID int64           `json:"last_update_id" db:"last_update_id"`
	Bids         []PriceLevel    `json:"bids" db:"bids"`
	Asks         []PriceLevel    `json:"asks" db:"asks"`
	BestBidPrice decimal.Decimal `json:"best_bid_price" db:"best_bid_price"`
	BestBidQty   decimal.Decimal `json:"best_bid_quantity" db:"best_bid_quantity"`
	BestAskPrice decimal.Decimal `json:"best_ask_price" db:"best_ask_price"`
	BestAskQty   decimal.Decimal `json:"best_ask_quantity" db:"best_ask_quantity"`
	DepthLevels  int             `json:"depth_levels" db:"-"`
	Checksum     string          `json:"checksum,omitempty" db:"-"`
}

// DedupKey returns the business key for orderbook rows.
func (s OrderbookSnapshot) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d|%d", s.Exchange, s.Symbol, s.TsMs, s.LastUpdateID)
}

// ValidateCrossed checks the no-crossed-book invariant.
func (s OrderbookSnapshot) ValidateCrossed() error {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return nil
	}
	if s.Bids[0].Price.GreaterThanOrEqual(s.Asks[0].Price) {
		return fmt.Errorf("orderbook: crossed book best_bid=%s best_ask=%s",
			s.Bids[0].Price.String(), s.Asks[0].Price.String())
	}
	return nil
}

// OrderbookDelta is an incremental book update between two sequence
// points.
type OrderbookDelta struct {
	Meta
	FirstUpdateID int64         `json:"first_update_id" db:"-"`
	LastUpdateID  int64         `json:"last_update_id" db:"last_update_id"`
	PrevUpdateID  int64         `json:"prev_update_id,omitempty" db:"-"`
	BidChanges    []LevelChange `json:"bid_changes" db:"-"`
	AskChanges    []LevelChange `json:"ask_changes" db:"-"`
}

// DedupKey returns the business key for delta rows, the same shape every
// orderbook kind shares.
func (d OrderbookDelta) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d|%d", d.Exchange, d.Symbol, d.TsMs, d.LastUpdateID)
}

// BridgesSnapshot reports whether this delta is the first retained delta
// that can be applied on top of a snapshot with the given LastUpdateID.
func (d OrderbookDelta) BridgesSnapshot(snapshotLastUpdateID int64) bool {
	return d.FirstUpdateID <= snapshotLastUpdateID+1 && snapshotLastUpdateID+1 <= d.LastUpdateID
}

// FollowsSequence reports whether d is the immediate successor of prev in
// an ordered delta stream.
func (d OrderbookDelta) FollowsSequence(prev OrderbookDelta) bool {
	return d.FirstUpdateID == prev.LastUpdateID+1
}
