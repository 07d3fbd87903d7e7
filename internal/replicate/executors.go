package replicate

import (
	"context"
	"fmt"
	"time"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// repo is the method set the store.*Repo interfaces share. Seven of the
// eight (store.TradeRepo, store.FundingRateRepo, etc.) expose exactly
// these four methods for their own T, so those repo fields of a
// *store.Store satisfy repo[T] structurally without any adapter type;
// store.OrderbookRepo inserts through InsertSnapshotBatch and goes
// through the orderbookRepo adapter below. Go checks interface-to-interface assignability by method set,
// not by declared name.
type repo[T any] interface {
	InsertBatch(ctx context.Context, rows []T) error
	ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]T, error)
	MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error)
	DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error)
}

// window is one partition's planned copy range: hi is the newest hot
// ts_ms, lo is the newest cold ts_ms (or hi-defaultWindow if cold is
// empty).
type window struct {
	lo, hi time.Time
}

func planWindow[T any](ctx context.Context, hot, cold repo[T], key store.PartitionKey, defaultWindow time.Duration) (window, error) {
	hiMs, err := hot.MaxTsMs(ctx, key)
	if err != nil {
		return window{}, fmt.Errorf("replicate: hot max ts_ms: %w", err)
	}
	if hiMs == 0 {
		return window{}, nil // nothing in hot for this partition yet
	}
	hi := record.ToTime(hiMs)

	loMs, err := cold.MaxTsMs(ctx, key)
	if err != nil {
		return window{}, fmt.Errorf("replicate: cold max ts_ms: %w", err)
	}
	lo := record.ToTime(loMs)
	if loMs == 0 {
		lo = hi.Add(-defaultWindow)
	}
	return window{lo: lo, hi: hi}, nil
}

// countPending reports how many hot rows fall in (lo, hi] without
// copying them, used by DryRun.
func countPending[T any](ctx context.Context, hot repo[T], key store.PartitionKey, w window, batchLimit int) (int, error) {
	if w.hi.IsZero() {
		return 0, nil
	}
	rows, err := hot.ListRange(ctx, key, store.TimeRange{From: w.lo, To: w.hi}, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("replicate: list pending: %w", err)
	}
	return len(rows), nil
}

// copyPartition copies one partition's pending window: select hot rows
// in (lo, hi] up to batchLimit and insert them into cold.
// cold.InsertBatch's ON CONFLICT DO NOTHING realizes the anti-existence
// predicate (what a raw NOT IN (SELECT key FROM cold ...) would express)
// without the
// repo abstraction needing to expose raw SQL — rerunning with an
// unchanged window therefore reselects the same rows and inserts zero
// new ones, satisfying idempotence.
func copyPartition[T any](ctx context.Context, hot, cold repo[T], key store.PartitionKey, w window, batchLimit int) (int, error) {
	if w.hi.IsZero() {
		return 0, nil
	}
	rows, err := hot.ListRange(ctx, key, store.TimeRange{From: w.lo, To: w.hi}, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("replicate: list hot range: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cold.InsertBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("replicate: insert cold batch: %w", err)
	}
	return len(rows), nil
}

// cleanupPartition deletes hot rows with
// ts_ms <= hi-retentionWindow, i.e. rows old enough that this run's copy
// through hi is guaranteed to have replicated them. Rows newer than that
// threshold are left untouched even if already copied, so a hot row is
// never deleted before it is safely within cold's coverage.
func cleanupPartition[T any](ctx context.Context, hot repo[T], key store.PartitionKey, hi time.Time, retentionWindow time.Duration) (int64, error) {
	if hi.IsZero() {
		return 0, nil
	}
	threshold := hi.Add(-retentionWindow)
	n, err := hot.DeleteUpTo(ctx, key, threshold)
	if err != nil {
		return 0, fmt.Errorf("replicate: cleanup hot partition: %w", err)
	}
	return n, nil
}

// orderbookRepo adapts store.OrderbookRepo to repo[record.OrderbookSnapshot]:
// its insert method is named InsertSnapshotBatch (the writer's delta path
// materializes every delta into a full-book row before insert, so the
// repo only ever takes snapshots), which keeps it one method short of the
// shared method set the other seven repos satisfy directly.
type orderbookRepo struct{ store.OrderbookRepo }

func (a orderbookRepo) InsertBatch(ctx context.Context, rows []record.OrderbookSnapshot) error {
	return a.InsertSnapshotBatch(ctx, rows)
}

// runPartition plans and copies one partition end to end for dataType,
// optionally deleting replicated hot rows when cleanup is enabled. It
// type-switches once per call to select the matching concrete repo pair,
// then calls the shared generic helpers above. A nil repo on either side
// (a *store.Store that only wires a subset of the eight repos) is treated
// as "nothing to replicate for this type" rather than a fault.
func runPartition(ctx context.Context, hot, cold *store.Store, p Partition, defaultWindow time.Duration, batchLimit int, retentionWindow time.Duration, cleanup, dryRun bool) (copied int, deleted int64, hi time.Time, err error) {
	switch p.DataType {
	case record.DataTypeOrderbookSnapshot, record.DataTypeOrderbookDelta:
		if hot.Orderbooks == nil || cold.Orderbooks == nil {
			return 0, 0, time.Time{}, nil
		}
		return runTyped[record.OrderbookSnapshot](ctx, orderbookRepo{hot.Orderbooks}, orderbookRepo{cold.Orderbooks}, p.Key, defaultWindow, batchLimit, retentionWindow, cleanup, dryRun)
	case record.DataTypeTrade:
		if hot.Trades == nil || cold.Trades == nil {
			return 0, 0, time.Time{}, nil
		}
		return runTyped[record.Trade](ctx, hot.Trades, cold.Trades, p.Key, defaultWindow, batchLimit, retentionWindow, cleanup, dryRun)
	case record.DataTypeFundingRate:
		if hot.FundingRates == nil || cold.FundingRates == nil {
			return 0, 0, time.Time{}, nil
		}
		return runTyped[record.FundingRate](ctx, hot.FundingRates, cold.FundingRates, p.Key, defaultWindow, batchLimit, retentionWindow, cleanup, dryRun)
	case record.DataTypeOpenInterest:
		if hot.OpenInterest == nil || cold.OpenInterest == nil {
			return 0, 0, time.Time{}, nil
		}
		return runTyped[record.OpenInterest](ctx, hot.OpenInterest, cold.OpenInterest, p.Key, defaultWindow, batchLimit, retentionWindow, cleanup, dryRun)
	case record.DataTypeLiquidation:
		if hot.Liquidations == nil || cold.Liquidations == nil {
			return 0, 0, time.Time{}, nil
		}
		return runTyped[record.Liquidation](ctx, hot.Liquidations, cold.Liquidations, p.Key, defaultWindow, batchLimit, retentionWindow, cleanup, dryRun)
	case record.DataTypeLSRTopPosition:
		if hot.LSRTop == nil || cold.LSRTop == nil {
			return 0, 0, time.Time{}, nil
		}
		return runTyped[record.LSRTopPosition](ctx, hot.LSRTop, cold.LSRTop, p.Key, defaultWindow, batchLimit, retentionWindow, cleanup, dryRun)
	case record.DataTypeLSRAllAccount:
		if hot.LSRAll == nil || cold.LSRAll == nil {
			return 0, 0, time.Time{}, nil
		}
		return runTyped[record.LSRAllAccount](ctx, hot.LSRAll, cold.LSRAll, p.Key, defaultWindow, batchLimit, retentionWindow, cleanup, dryRun)
	case record.DataTypeVolatilityIndex:
		if hot.Volatility == nil || cold.Volatility == nil {
			return 0, 0, time.Time{}, nil
		}
		return runTyped[record.VolatilityIndex](ctx, hot.Volatility, cold.Volatility, p.Key, defaultWindow, batchLimit, retentionWindow, cleanup, dryRun)
	default:
		return 0, 0, time.Time{}, fmt.Errorf("replicate: unknown data type %q", p.DataType)
	}
}

func runTyped[T any](ctx context.Context, hot, cold repo[T], key store.PartitionKey, defaultWindow time.Duration, batchLimit int, retentionWindow time.Duration, cleanup, dryRun bool) (int, int64, time.Time, error) {
	w, err := planWindow[T](ctx, hot, cold, key, defaultWindow)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	if w.hi.IsZero() {
		return 0, 0, w.hi, nil
	}

	if dryRun {
		n, err := countPending[T](ctx, hot, key, w, batchLimit)
		return n, 0, w.hi, err
	}

	copied, err := copyPartition[T](ctx, hot, cold, key, w, batchLimit)
	if err != nil {
		return 0, 0, w.hi, err
	}

	var deleted int64
	if cleanup {
		deleted, err = cleanupPartition[T](ctx, hot, key, w.hi, retentionWindow)
		if err != nil {
			return copied, 0, w.hi, err
		}
	}
	return copied, deleted, w.hi, nil
}
