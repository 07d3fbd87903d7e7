package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
	"github.com/marketprism/ingest/internal/store/postgres"
)

type tradeEntry struct {
	env  record.Envelope
	item record.Trade
	done chan error
}

// TradeBatcher batches Trade envelopes into the hot store, the template
// every other per-type batcher in this package follows.
type TradeBatcher struct {
	mu         sync.Mutex
	items      []tradeEntry
	repo       store.TradeRepo
	cfg        BatchConfig
	trigger    *flushTrigger
	quarantine *Quarantine
	metricsHook
}

// NewTradeBatcher builds a batcher flushing into repo per cfg, quarantining
// schema-rejected rows into q.
func NewTradeBatcher(repo store.TradeRepo, cfg BatchConfig, q *Quarantine) *TradeBatcher {
	return &TradeBatcher{repo: repo, cfg: cfg, quarantine: q, trigger: newFlushTrigger(cfg.BatchSize, cfg.MaxDelay)}
}

// Add buffers env's Trade payload and blocks until the batch containing it
// is durable in the hot store or its row is schema-quarantined (both
// return nil), or until ctx is canceled (returns ctx.Err()). Returns
// ErrQueueFull immediately if the queue is already at capacity.
func (b *TradeBatcher) Add(ctx context.Context, env record.Envelope) error {
	trade, ok := env.Payload.(record.Trade)
	if !ok {
		return fmt.Errorf("writer: trade batcher got payload of type %T", env.Payload)
	}

	done := make(chan error, 1)
	b.mu.Lock()
	if len(b.items) >= b.cfg.QueueCap {
		b.mu.Unlock()
		return ErrQueueFull
	}
	b.items = append(b.items, tradeEntry{env: env, item: trade, done: done})
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

// Flush forces out whatever is currently buffered, used at shutdown to
// drain the batcher instead of waiting out maxDelay.
func (b *TradeBatcher) Flush(ctx context.Context) {
	b.flush(ctx)
}

func (b *TradeBatcher) flush(ctx context.Context) {
	b.mu.Lock()
	entries := b.items
	b.items = nil
	b.mu.Unlock()
	b.trigger.reset()

	if len(entries) == 0 {
		return
	}

	items := make([]record.Trade, len(entries))
	for i, e := range entries {
		items[i] = e.item
	}

	start := time.Now()
	err := b.repo.InsertBatch(ctx, items)
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

	b.retryRowByRow(ctx, entries, items)
}

// retryRowByRow re-inserts one row at a time after a whole-batch schema
// error, quarantining the rows that individually fail and committing the
// rest — the whole-batch transaction already rolled back, so each row
// gets its own shot.
func (b *TradeBatcher) retryRowByRow(ctx context.Context, entries []tradeEntry, items []record.Trade) {
	for i, e := range entries {
		rowErr := b.repo.InsertBatch(ctx, items[i:i+1])
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
