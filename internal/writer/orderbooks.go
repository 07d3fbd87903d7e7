package writer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketprism/ingest/internal/orderbook"
	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
	"github.com/marketprism/ingest/internal/store/postgres"
)

type orderbookEntry struct {
	env  record.Envelope
	item record.OrderbookSnapshot
	done chan error
}

// OrderbookBatcher materializes every orderbook emission — snapshot or
// delta — into the maintainer's resulting full-book state before
// batching it into the hot store (see DESIGN.md's "Orderbook emission
// storage" decision). It keeps its own orderbook.Registry: unlike the
// collector's in-process maintainer, the writer only ever sees the bus, so it
// replays the same delta stream independently to reconstruct book state.
type OrderbookBatcher struct {
	mu         sync.Mutex
	items      []orderbookEntry
	repo       store.OrderbookRepo
	cfg        BatchConfig
	trigger    *flushTrigger
	quarantine *Quarantine
	registry   *orderbook.Registry
	metricsHook
}

// NewOrderbookBatcher builds a batcher flushing into repo per cfg,
// replaying deltas against its own registry (bufferSize deltas retained
// per key while awaiting a resync snapshot).
func NewOrderbookBatcher(repo store.OrderbookRepo, cfg BatchConfig, q *Quarantine, bufferSize int, fetch orderbook.SnapshotFetcher) *OrderbookBatcher {
	return &OrderbookBatcher{
		repo:       repo,
		cfg:        cfg,
		quarantine: q,
		trigger:    newFlushTrigger(cfg.BatchSize, cfg.MaxDelay),
		registry:   orderbook.NewRegistry(bufferSize, fetch),
	}
}

// Add resolves env (a snapshot or delta payload) into the maintainer's
// current full-book state and buffers it, blocking until durable. A delta
// received while the local maintainer is still resyncing produces no
// durable row yet and returns nil (handled, nothing to persist until the
// book is synced).
func (b *OrderbookBatcher) Add(ctx context.Context, env record.Envelope) error {
	m := b.registry.Get(env.Exchange, env.Symbol)

	switch env.DataType {
	case record.DataTypeOrderbookSnapshot:
		snap, ok := env.Payload.(record.OrderbookSnapshot)
		if !ok {
			return fmt.Errorf("writer: orderbook batcher got snapshot payload of type %T", env.Payload)
		}
		m.HandleSnapshot(snap)
		// snap.Checksum is only populated for venues whose Capabilities
		// report ChecksumField (OKX, Kraken); empty on the rest, so there
		// is nothing to cross-check there.
		if snap.Checksum != "" {
			if expected, err := strconv.ParseUint(snap.Checksum, 10, 32); err == nil {
				if verr := m.VerifyChecksum(uint32(expected)); verr != nil {
					log.Warn().Err(verr).Str("exchange", env.Exchange).Str("symbol", env.Symbol).
						Msg("writer: orderbook checksum mismatch, next delta will resync")
				}
			}
		}
	case record.DataTypeOrderbookDelta:
		delta, ok := env.Payload.(record.OrderbookDelta)
		if !ok {
			return fmt.Errorf("writer: orderbook batcher got delta payload of type %T", env.Payload)
		}
		if err := m.HandleDelta(ctx, delta); err != nil {
			if errors.Is(err, orderbook.ErrSequenceGap) || errors.Is(err, orderbook.ErrSnapshotTimeout) {
				return nil
			}
			return err
		}
	default:
		return fmt.Errorf("writer: orderbook batcher got unexpected data type %q", env.DataType)
	}

	full := materializeSnapshot(env, m.Snapshot())
	return b.enqueue(ctx, env, full)
}

func materializeSnapshot(env record.Envelope, book orderbook.Book) record.OrderbookSnapshot {
	snap := record.OrderbookSnapshot{
		Meta:         env.Meta,
		LastUpdateID: book.LastUpdateID,
		Bids:         book.Bids,
		Asks:         book.Asks,
	}
	if bid, ask := book.BestBidAsk(); bid != nil && ask != nil {
		snap.BestBidPrice, snap.BestBidQty = bid.Price, bid.Quantity
		snap.BestAskPrice, snap.BestAskQty = ask.Price, ask.Quantity
	}
	return snap
}

func (b *OrderbookBatcher) enqueue(ctx context.Context, env record.Envelope, snap record.OrderbookSnapshot) error {
	done := make(chan error, 1)
	b.mu.Lock()
	if len(b.items) >= b.cfg.QueueCap {
		b.mu.Unlock()
		return ErrQueueFull
	}
	b.items = append(b.items, orderbookEntry{env: env, item: snap, done: done})
	depth := len(b.items)
	b.mu.Unlock()
	b.reportQueueDepth(depth)

	if b.trigger.arrive(func() { b.flush(context.Background()) }) {
		go b.flush(context.Background())
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush forces out whatever is currently buffered, used at shutdown.
func (b *OrderbookBatcher) Flush(ctx context.Context) {
	b.flush(ctx)
}

func (b *OrderbookBatcher) flush(ctx context.Context) {
	b.mu.Lock()
	entries := b.items
	b.items = nil
	b.mu.Unlock()
	b.trigger.reset()

	if len(entries) == 0 {
		return
	}

	items := make([]record.OrderbookSnapshot, len(entries))
	for i, e := range entries {
		items[i] = e.item
	}

	start := time.Now()
	err := b.repo.InsertSnapshotBatch(ctx, items)
	if err == nil {
		b.reportInsertLatency(time.Since(start))
		for _, e := range entries {
			e.done <- nil
		}
		return
	}

	if postgres.Classify(err) != postgres.ErrorClassSchema {
		for _, e := range entries {
			e.done <- err
		}
		return
	}

	for i, e := range entries {
		rowErr := b.repo.InsertSnapshotBatch(ctx, items[i:i+1])
		switch {
		case rowErr == nil:
			e.done <- nil
		case postgres.Classify(rowErr) == postgres.ErrorClassSchema:
			b.quarantine.Push(QuarantineEntry{Envelope: e.env, Reason: rowErr.Error(), QuarantinedAt: time.Now().UTC()})
			e.done <- nil
		default:
			for _, rest := range entries[i:] {
				rest.done <- rowErr
			}
			return
		}
	}
}
