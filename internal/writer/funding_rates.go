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

type fundingRateEntry struct {
	env  record.Envelope
	item record.FundingRate
	done chan error
}

// FundingRateBatcher batches FundingRate envelopes into the hot store.
type FundingRateBatcher struct {
	mu         sync.Mutex
	items      []fundingRateEntry
	repo       store.FundingRateRepo
	cfg        BatchConfig
	trigger    *flushTrigger
	quarantine *Quarantine
	metricsHook
}

func NewFundingRateBatcher(repo store.FundingRateRepo, cfg BatchConfig, q *Quarantine) *FundingRateBatcher {
	return &FundingRateBatcher{repo: repo, cfg: cfg, quarantine: q, trigger: newFlushTrigger(cfg.BatchSize, cfg.MaxDelay)}
}

func (b *FundingRateBatcher) Add(ctx context.Context, env record.Envelope) error {
	item, ok := env.Payload.(record.FundingRate)
	if !ok {
		return fmt.Errorf("writer: funding rate batcher got payload of type %T", env.Payload)
	}

	done := make(chan error, 1)
	b.mu.Lock()
	if len(b.items) >= b.cfg.QueueCap {
		b.mu.Unlock()
		return ErrQueueFull
	}
	b.items = append(b.items, fundingRateEntry{env: env, item: item, done: done})
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

func (b *FundingRateBatcher) Flush(ctx context.Context) {
	b.flush(ctx)
}

func (b *FundingRateBatcher) flush(ctx context.Context) {
	b.mu.Lock()
	entries := b.items
	b.items = nil
	b.mu.Unlock()
	b.trigger.reset()

	if len(entries) == 0 {
		return
	}

	items := make([]record.FundingRate, len(entries))
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
