package orderbook

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/marketprism/ingest/internal/record"
)

// State is the maintainer's resync state, mirroring the int-enum +
// String() shape used throughout the pipeline for state machines.
type State int

const (
	StateAwaitingSnapshot State = iota
	StateSynced
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateAwaitingSnapshot:
		return "awaiting_snapshot"
	case StateSynced:
		return "synced"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// SnapshotFetcher fetches a fresh REST snapshot for one exchange/symbol,
// implemented per venue (most venues expose a depth REST endpoint
// separate from the WebSocket delta stream).
type SnapshotFetcher func(ctx context.Context, exchange, symbol string) (record.OrderbookSnapshot, error)

// Metrics is the resync-count subset of health.Registry a Maintainer
// reports into, kept local so this package doesn't import internal/health.
type Metrics interface {
	RecordResync(exchange, symbol string)
}

// Maintainer owns one (exchange, symbol) book: applying deltas, detecting
// sequence gaps, and driving resync against a fresh snapshot. One
// Maintainer instance is created per key and accessed through its own
// mutex, so at most one build or resync runs per key at a time.
type Maintainer struct {
	exchange string
	symbol   string

	mu            sync.Mutex
	book          Book
	buffer        *DeltaBuffer
	state         State
	checksumDepth int
	fetchSnapshot SnapshotFetcher
	metrics       Metrics
}

// SetMetrics wires m so a REST resync triggered by a sequence gap or
// checksum mismatch reports under this maintainer's exchange/symbol.
func (m *Maintainer) SetMetrics(metrics Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// NewMaintainer builds a maintainer for one exchange/symbol pair.
// bufferSize bounds the delta buffer retained while awaiting a snapshot.
func NewMaintainer(exchange, symbol string, bufferSize int, fetch SnapshotFetcher) *Maintainer {
	return &Maintainer{
		exchange:      exchange,
		symbol:        symbol,
		buffer:        NewDeltaBuffer(bufferSize),
		state:         StateAwaitingSnapshot,
		checksumDepth: DefaultChecksumDepth,
		fetchSnapshot: fetch,
	}
}

// State returns the maintainer's current resync state.
func (m *Maintainer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the current book state.
func (m *Maintainer) Snapshot() Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Book{
		Bids:         append([]record.PriceLevel(nil), m.book.Bids...),
		Asks:         append([]record.PriceLevel(nil), m.book.Asks...),
		LastUpdateID: m.book.LastUpdateID,
	}
}

// HandleDelta applies an incoming delta to the book, or triggers a
// resync when the delta doesn't chain onto the book's current
// LastUpdateID.
func (m *Maintainer) HandleDelta(ctx context.Context, delta record.OrderbookDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer.Add(delta)

	if m.state != StateSynced {
		return m.resyncLocked(ctx)
	}

	// FirstUpdateID == book.LastUpdateID+1 is the primary chaining rule
	//: Binance (spot and futures) and OKX populate it
	// on every delta. Kraken's v2 book channel carries no update-id
	// sequencing at all (LastUpdateID there is a timestamp, not a
	// counter) and relies entirely on per-frame checksum verification
	// instead, so FirstUpdateID is always its zero value — the guard
	// below is what lets that venue skip straight to checksum-only
	// desync detection rather than tripping a gap on every delta.
	// PrevUpdateID ("pu") is a secondary cross-check Binance futures
	// adds and spot never sets (record.OrderbookDelta.PrevUpdateID is
	// the zero value there), so it can only ever narrow a gap the
	// primary rule already caught, never substitute for it.
	if delta.FirstUpdateID != 0 && delta.FirstUpdateID != m.book.LastUpdateID+1 {
		m.state = StateResyncing
		return fmt.Errorf("%w: exchange=%s symbol=%s expected_first=%d got_first=%d",
			ErrSequenceGap, m.exchange, m.symbol, m.book.LastUpdateID+1, delta.FirstUpdateID)
	}
	if delta.PrevUpdateID != 0 && delta.PrevUpdateID != m.book.LastUpdateID {
		m.state = StateResyncing
		return fmt.Errorf("%w: exchange=%s symbol=%s expected_prev=%d book=%d",
			ErrSequenceGap, m.exchange, m.symbol, delta.PrevUpdateID, m.book.LastUpdateID)
	}

	m.book.ApplyDelta(delta)
	return nil
}

// HandleSnapshot forces the book onto a freshly fetched snapshot,
// replaying any buffered deltas that bridge it back into sync. Used both
// for the initial sync and for an externally-triggered resync (e.g. a
// checksum mismatch).
func (m *Maintainer) HandleSnapshot(snap record.OrderbookSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applySnapshotLocked(snap)
}

// VerifyChecksum compares the book's locally computed checksum against
// the venue-reported one, transitioning to StateResyncing on mismatch.
func (m *Maintainer) VerifyChecksum(expected uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	got := Checksum(m.book.Bids, m.book.Asks, m.checksumDepth)
	if got != expected {
		m.state = StateResyncing
		return fmt.Errorf("%w: exchange=%s symbol=%s got=%d want=%d",
			ErrChecksumMismatch, m.exchange, m.symbol, got, expected)
	}
	return nil
}

func (m *Maintainer) resyncLocked(ctx context.Context) error {
	if m.fetchSnapshot == nil {
		return fmt.Errorf("%w: no snapshot fetcher configured", ErrSnapshotTimeout)
	}

	m.state = StateResyncing
	snap, err := m.fetchSnapshot(ctx, m.exchange, m.symbol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotTimeout, err)
	}

	m.applySnapshotLocked(snap)
	if m.metrics != nil {
		m.metrics.RecordResync(m.exchange, m.symbol)
	}
	return nil
}

func (m *Maintainer) applySnapshotLocked(snap record.OrderbookSnapshot) {
	m.book.ApplySnapshot(snap)

	bridging := m.buffer.Since(snap.LastUpdateID)
	if len(bridging) > 0 && !bridging[0].BridgesSnapshot(snap.LastUpdateID) {
		// The oldest retained delta doesn't chain onto the snapshot; the
		// buffer wrapped before resync completed. Applying the retained
		// tail would skip the evicted updates, so the book stays at the
		// bare snapshot — the next delta either chains onto it or trips
		// the sequence-gap check and forces another resync.
		log.Warn().Err(ErrOverflowBuffer).Str("exchange", m.exchange).Str("symbol", m.symbol).
			Msg("delta buffer overflowed before resync completed, keeping bare snapshot")
		m.state = StateSynced
		return
	}

	for _, d := range bridging {
		m.book.ApplyDelta(d)
	}

	m.state = StateSynced
}
