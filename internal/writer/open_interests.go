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

type openInterestEntry struct {
	env  record.Envelope
	item record.OpenInterest
	done chan error
}

// OpenInterestBatcher batches OpenInterest envelopes into the hot store.
type OpenInterestBatcher struct {
	mu         sync.Mutex
	items      []openInterestEntry
	repo       store.OpenInterestRepo
	cfg        BatchConfig
	trigger    *flushTrigger
	quarantine *Quarantine
	metricsHook
}

func NewOpenInterestBatcher(repo store.OpenInterestRepo, cfg BatchConfig, q *Quarantine) *OpenInterestBatcher {
	return &OpenInterestBatcher{repo: repo, cfg: cfg, quarantine: q, trigger: newFlushTrigger(cfg.BatchSize, cfg.MaxDelay)}
}

func (b *OpenInterestBatcher) Add(ctx context.Context, env record.Envelope) error {
	item, ok := env.Payload.(record.OpenInterest)
	if !ok {
		return fmt.Errorf("writer: open interest batcher got payload of type %T", env.Payload)
	}

	done := make(chan error, 1)
	b.mu.Lock()
	if len(b.items) >= b.cfg.QueueCap {
		b.mu.Unlock()
		return ErrQueueFull
	}
	b.items = append(b.items, openInterestEntry{env: env, item: item, done: done})
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

func (b *OpenInterestBatcher) Flush(ctx context.Context) {
	b.flush(ctx)
}

func (b *OpenInterestBatcher) flush(ctx context.Context) {
	b.mu.Lock()
	entries := b.items
	b.items = nil
	b.mu.Unlock()
	b.trigger.reset()

	if len(entries) == 0 {
		return
	}

	items := make([]record.OpenInterest, len(entries))
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
