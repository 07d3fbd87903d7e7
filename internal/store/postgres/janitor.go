package postgres

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketprism/ingest/internal/store"
)

// Janitor periodically deletes rows older than a tier's retention
// window, standing in for Postgres' lack of native per-row TTL: a
// ctx-cancellable periodic sweep.
type Janitor struct {
	Store         *store.Store
	RetentionDays int
	Interval      time.Duration
	Keys          []store.PartitionKey // partitions to sweep; populated by discovered exchange/symbol pairs
	Logger        zerolog.Logger
}

// Run sweeps every configured partition on Interval until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) error {
	if j.Interval <= 0 {
		j.Interval = time.Hour
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	hi := time.Now().UTC().AddDate(0, 0, -j.RetentionDays)
	for _, key := range j.Keys {
		j.deletePartition(ctx, key, hi)
	}
}

func (j *Janitor) deletePartition(ctx context.Context, key store.PartitionKey, hi time.Time) {
	type deleter struct {
		label string
		fn    func(context.Context, store.PartitionKey, time.Time) (int64, error)
	}
	deleters := []deleter{
		{"trades", j.Store.Trades.DeleteUpTo},
		{"orderbooks", j.Store.Orderbooks.DeleteUpTo},
		{"funding_rates", j.Store.FundingRates.DeleteUpTo},
		{"open_interests", j.Store.OpenInterest.DeleteUpTo},
		{"liquidations", j.Store.Liquidations.DeleteUpTo},
		{"lsr_top_positions", j.Store.LSRTop.DeleteUpTo},
		{"lsr_all_accounts", j.Store.LSRAll.DeleteUpTo},
		{"volatility_indices", j.Store.Volatility.DeleteUpTo},
	}
	for _, d := range deleters {
		n, err := d.fn(ctx, key, hi)
		if err != nil {
			j.Logger.Warn().Err(err).Str("table", d.label).Str("exchange", key.Exchange).Str("symbol", key.Symbol).Msg("janitor sweep failed")
			continue
		}
		if n > 0 {
			j.Logger.Debug().Str("table", d.label).Str("exchange", key.Exchange).Str("symbol", key.Symbol).Int64("deleted", n).Msg("janitor swept rows")
		}
	}
}
