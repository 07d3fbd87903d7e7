// Package replicate implements the hot→cold replicator: an incremental,
// idempotent, dedup-aware copy from the hot store to the long-retention
// cold store, scheduled on an interval with a global lock against
// overlapping runs, advancing a durable watermark per
// (type, exchange, market_type, symbol) partition.
package replicate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketprism/ingest/internal/config"
	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// Replicator owns one scheduled hot→cold replication loop. A single
// runLock prevents overlapping runs regardless of whether Run is invoked
// by the ticker or manually (e.g. from a CLI command).
type Replicator struct {
	Hot, Cold *store.Store
	Cfg       config.ReplicatorConfig
	Exchanges []config.ExchangeConfig
	Logger    zerolog.Logger

	// Health reports the replicator's readiness to a health.Registry.
	// Optional: nil skips reporting.
	Health Health
	// Metrics reports per-partition replication lag. Optional: nil skips
	// reporting.
	Metrics Metrics

	runLock sync.Mutex
}

// componentName identifies the replicator to a health.Registry's
// readiness gate.
const componentName = "replicator"

// Health is the readiness-gate subset of health.Registry Run reports
// into, kept local so this package doesn't import internal/health.
type Health interface {
	SetComponent(name string, ready bool, message string)
}

// Metrics is the replication-lag subset of health.Registry Run reports
// into, per record type.
type Metrics interface {
	RecordReplicationLag(dataType string, lagMs int64)
}

// PartitionResult is one partition's outcome from a single run.
type PartitionResult struct {
	Partition Partition
	Copied    int
	Deleted   int64
	Watermark int64 // ts_ms advanced to, 0 if nothing copied
	Err       error
}

// RunReport aggregates every partition's result from one Run invocation.
type RunReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []PartitionResult
}

// TotalCopied sums every partition's copied row count.
func (r RunReport) TotalCopied() int {
	total := 0
	for _, p := range r.Results {
		total += p.Copied
	}
	return total
}

// Start gates on both tiers passing their ping and schema audit, then
// runs the replicator on Cfg.Interval until ctx is canceled.
func (r *Replicator) Start(ctx context.Context) error {
	if err := r.Hot.CheckReady(ctx); err != nil {
		if r.Health != nil {
			r.Health.SetComponent(componentName, false, "hot store not ready: "+err.Error())
		}
		return fmt.Errorf("replicate: hot store readiness: %w", err)
	}
	if err := r.Cold.CheckReady(ctx); err != nil {
		if r.Health != nil {
			r.Health.SetComponent(componentName, false, "cold store not ready: "+err.Error())
		}
		return fmt.Errorf("replicate: cold store readiness: %w", err)
	}
	if r.Health != nil {
		r.Health.SetComponent(componentName, true, "both stores passed ping and schema audit")
	}

	interval := r.Cfg.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.Logger.Error().Err(err).Msg("replicate: scheduled run failed")
			}
		}
	}
}

// Run executes one full replication pass over every configured
// partition, serialized against any concurrently running pass by
// runLock. If Cfg.DryRun is set, no inserts or deletes
// are performed; planned counts are still reported.
func (r *Replicator) Run(ctx context.Context) (RunReport, error) {
	if !r.runLock.TryLock() {
		return RunReport{}, fmt.Errorf("replicate: a run is already in progress")
	}
	defer r.runLock.Unlock()

	report := RunReport{StartedAt: time.Now().UTC()}
	partitions := Partitions(r.Cfg, r.Exchanges)
	batchLimit := r.Cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = 5000
	}
	hotRetentionWindow := 3 * 24 * time.Hour // hot tier TTL default

	for _, p := range partitions {
		select {
		case <-ctx.Done():
			report.FinishedAt = time.Now().UTC()
			if r.Health != nil {
				r.Health.SetComponent(componentName, false, ctx.Err().Error())
			}
			return report, ctx.Err()
		default:
		}

		copied, deleted, hi, err := runPartition(ctx, r.Hot, r.Cold, p, r.Cfg.Window(), batchLimit, hotRetentionWindow, r.Cfg.CleanupEnabled, r.Cfg.DryRun)
		result := PartitionResult{Partition: p, Copied: copied, Deleted: deleted, Err: err}

		if err != nil {
			r.Logger.Warn().Err(err).Str("exchange", p.Key.Exchange).Str("symbol", p.Key.Symbol).
				Str("data_type", string(p.DataType)).Msg("replicate: partition failed")
			report.Results = append(report.Results, result)
			continue
		}

		if !r.Cfg.DryRun && copied > 0 {
			hiMs := record.FromTime(hi)
			if err := r.Cold.Watermarks.Advance(ctx, store.Watermark{DataType: p.DataType, Key: p.Key, TsMs: hiMs}); err != nil {
				r.Logger.Warn().Err(err).Msg("replicate: failed to advance watermark")
			} else {
				result.Watermark = hiMs
			}
		}
		// Cold's watermark for this partition is now (at best) hi, so the
		// remaining staleness is wall-clock time since the newest hot row
		// replicated: the "now - cold watermark" gauge.
		if r.Metrics != nil && !hi.IsZero() {
			r.Metrics.RecordReplicationLag(string(p.DataType), time.Since(hi).Milliseconds())
		}
		report.Results = append(report.Results, result)
	}

	report.FinishedAt = time.Now().UTC()
	r.Logger.Info().Int("partitions", len(partitions)).Int("copied", report.TotalCopied()).
		Bool("dry_run", r.Cfg.DryRun).Msg("replicate: run complete")
	if r.Health != nil {
		r.Health.SetComponent(componentName, true, "last run completed")
	}
	return report, nil
}

// DryRun plans every partition without writing or deleting anything,
// returning the counts an operator would see before enabling a real run.
func (r *Replicator) DryRun(ctx context.Context) (DryRunReport, error) {
	cfg := r.Cfg
	cfg.DryRun = true

	partitions := Partitions(cfg, r.Exchanges)
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = 5000
	}

	report := DryRunReport{GeneratedAt: time.Now().UTC()}
	for _, p := range partitions {
		copied, _, hi, err := runPartition(ctx, r.Hot, r.Cold, p, cfg.Window(), batchLimit, 0, false, true)
		if err != nil {
			r.Logger.Warn().Err(err).Str("exchange", p.Key.Exchange).Msg("replicate: dry-run partition failed")
			continue
		}
		if copied == 0 {
			continue
		}
		report.Steps = append(report.Steps, PlanStep{Partition: p, Hi: hi, PlannedCount: copied})
		report.TotalRows += copied
	}
	return report, nil
}
