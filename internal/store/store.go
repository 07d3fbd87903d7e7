// Package store defines the hot/cold store contract: one repository per
// canonical record type, plus a watermark repository used by the
// replicator to track hot→cold progress per type and partition key.
package store

import (
	"context"
	"time"

	"github.com/marketprism/ingest/internal/record"
)

// TimeRange bounds a query window (From, To]: exclusive of From, inclusive
// of To.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// PartitionKey identifies one (exchange, market_type, symbol) partition,
// the unit in which the replicator copies rows from hot to cold.
type PartitionKey struct {
	Exchange   string
	MarketType record.MarketType
	Symbol     string
}

// TradeRepo persists Trade rows, deduplicated by (trade_id, exchange, symbol).
type TradeRepo interface {
	InsertBatch(ctx context.Context, trades []record.Trade) error
	ListRange(ctx context.Context, key PartitionKey, tr TimeRange, limit int) ([]record.Trade, error)
	MaxTsMs(ctx context.Context, key PartitionKey) (int64, error)
	DeleteUpTo(ctx context.Context, key PartitionKey, hi time.Time) (int64, error)
}

// OrderbookRepo persists orderbook rows (snapshot and delta share one
// table), deduplicated by (exchange, symbol, ts_ms, last_update_id).
type OrderbookRepo interface {
	InsertSnapshotBatch(ctx context.Context, snapshots []record.OrderbookSnapshot) error
	ListRange(ctx context.Context, key PartitionKey, tr TimeRange, limit int) ([]record.OrderbookSnapshot, error)
	MaxTsMs(ctx context.Context, key PartitionKey) (int64, error)
	DeleteUpTo(ctx context.Context, key PartitionKey, hi time.Time) (int64, error)
}

// FundingRateRepo persists FundingRate rows, deduplicated by
// (exchange, symbol, funding_ts_ms).
type FundingRateRepo interface {
	InsertBatch(ctx context.Context, rates []record.FundingRate) error
	ListRange(ctx context.Context, key PartitionKey, tr TimeRange, limit int) ([]record.FundingRate, error)
	MaxTsMs(ctx context.Context, key PartitionKey) (int64, error)
	DeleteUpTo(ctx context.Context, key PartitionKey, hi time.Time) (int64, error)
}

// OpenInterestRepo persists OpenInterest rows, deduplicated by
// (exchange, symbol, ts_ms).
type OpenInterestRepo interface {
	InsertBatch(ctx context.Context, rows []record.OpenInterest) error
	ListRange(ctx context.Context, key PartitionKey, tr TimeRange, limit int) ([]record.OpenInterest, error)
	MaxTsMs(ctx context.Context, key PartitionKey) (int64, error)
	DeleteUpTo(ctx context.Context, key PartitionKey, hi time.Time) (int64, error)
}

// LiquidationRepo persists Liquidation rows, deduplicated by
// (exchange, symbol, ts_ms, side, price).
type LiquidationRepo interface {
	InsertBatch(ctx context.Context, rows []record.Liquidation) error
	ListRange(ctx context.Context, key PartitionKey, tr TimeRange, limit int) ([]record.Liquidation, error)
	MaxTsMs(ctx context.Context, key PartitionKey) (int64, error)
	DeleteUpTo(ctx context.Context, key PartitionKey, hi time.Time) (int64, error)
}

// LSRTopRepo persists LSRTopPosition rows, deduplicated by
// (exchange, symbol, period, ts_ms).
type LSRTopRepo interface {
	InsertBatch(ctx context.Context, rows []record.LSRTopPosition) error
	ListRange(ctx context.Context, key PartitionKey, tr TimeRange, limit int) ([]record.LSRTopPosition, error)
	MaxTsMs(ctx context.Context, key PartitionKey) (int64, error)
	DeleteUpTo(ctx context.Context, key PartitionKey, hi time.Time) (int64, error)
}

// LSRAllRepo persists LSRAllAccount rows, deduplicated by
// (exchange, symbol, period, ts_ms).
type LSRAllRepo interface {
	InsertBatch(ctx context.Context, rows []record.LSRAllAccount) error
	ListRange(ctx context.Context, key PartitionKey, tr TimeRange, limit int) ([]record.LSRAllAccount, error)
	MaxTsMs(ctx context.Context, key PartitionKey) (int64, error)
	DeleteUpTo(ctx context.Context, key PartitionKey, hi time.Time) (int64, error)
}

// VolatilityIndexRepo persists VolatilityIndex rows, deduplicated by
// (exchange, symbol, ts_ms).
type VolatilityIndexRepo interface {
	InsertBatch(ctx context.Context, rows []record.VolatilityIndex) error
	ListRange(ctx context.Context, key PartitionKey, tr TimeRange, limit int) ([]record.VolatilityIndex, error)
	MaxTsMs(ctx context.Context, key PartitionKey) (int64, error)
	DeleteUpTo(ctx context.Context, key PartitionKey, hi time.Time) (int64, error)
}

// Watermark is the replicator's durable progress marker for one record
// type and partition.
type Watermark struct {
	DataType  record.DataType
	Key       PartitionKey
	TsMs      int64
	UpdatedAt time.Time
}

// WatermarkRepo persists replication watermarks, one row per (data type,
// partition) pair, advanced atomically after each replication batch.
type WatermarkRepo interface {
	Get(ctx context.Context, dataType record.DataType, key PartitionKey) (Watermark, error)
	Advance(ctx context.Context, w Watermark) error
}

// Store bundles every repository the writer and replicator need against
// one backing database (hot or cold; the schema is identical, only
// retention policy differs).
type Store struct {
	Trades       TradeRepo
	Orderbooks   OrderbookRepo
	FundingRates FundingRateRepo
	OpenInterest OpenInterestRepo
	Liquidations LiquidationRepo
	LSRTop       LSRTopRepo
	LSRAll       LSRAllRepo
	Volatility   VolatilityIndexRepo
	Watermarks   WatermarkRepo

	// Ping ok=nil means the tier is reachable, the first half of the
	// replicator's readiness gate.
	Ping func(ctx context.Context) error

	// Audit verifies the tier's tables match the canonical column layout,
	// the second half of the same readiness gate. Optional: nil skips the
	// check (in-memory test stores have no schema to audit).
	Audit func(ctx context.Context) error
}

// CheckReady runs the tier's ping and schema audit, skipping whichever
// hooks are unset.
func (s *Store) CheckReady(ctx context.Context) error {
	if s.Ping != nil {
		if err := s.Ping(ctx); err != nil {
			return err
		}
	}
	if s.Audit != nil {
		return s.Audit(ctx)
	}
	return nil
}

// RepoFor returns the repo handling dataType as an untyped value, which
// the caller type-asserts to the matching *Repo interface (the orderbook
// repo's insert method is InsertSnapshotBatch, not InsertBatch). The
// writer and replicator do not call it. dataType must be one of the nine constants
// in internal/record; OrderbookDelta resolves to the same repo as
// OrderbookSnapshot since both share the materialized orderbooks table.
func (s *Store) RepoFor(dataType record.DataType) (any, bool) {
	switch dataType {
	case record.DataTypeOrderbookSnapshot, record.DataTypeOrderbookDelta:
		return s.Orderbooks, s.Orderbooks != nil
	case record.DataTypeTrade:
		return s.Trades, s.Trades != nil
	case record.DataTypeFundingRate:
		return s.FundingRates, s.FundingRates != nil
	case record.DataTypeOpenInterest:
		return s.OpenInterest, s.OpenInterest != nil
	case record.DataTypeLiquidation:
		return s.Liquidations, s.Liquidations != nil
	case record.DataTypeLSRTopPosition:
		return s.LSRTop, s.LSRTop != nil
	case record.DataTypeLSRAllAccount:
		return s.LSRAll, s.LSRAll != nil
	case record.DataTypeVolatilityIndex:
		return s.Volatility, s.Volatility != nil
	default:
		return nil, false
	}
}
