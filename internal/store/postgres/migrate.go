package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/store"
	"github.com/marketprism/ingest/internal/store/schema"
)

// Tier distinguishes the hot and cold stores, which share an identical
// schema and differ only in retention/TTL.
type Tier int

const (
	TierHot Tier = iota
	TierCold
)

func (t Tier) String() string {
	if t == TierHot {
		return "hot"
	}
	return "cold"
}

// Config configures one tier's store.
type Config struct {
	Tier          Tier
	QueryTimeout  time.Duration // per-operation timeout
	RetentionDays int           // TTL the janitor enforces for this tier
}

// NewStores wires every per-type repo plus the watermark repo into a
// store.Store for one tier. It does not run migrations; call Migrate
// first against the same db.
func NewStores(db *sqlx.DB, cfg Config) *store.Store {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &store.Store{
		Trades:       NewTradesRepo(db, timeout),
		Orderbooks:   NewOrderbooksRepo(db, timeout),
		FundingRates: NewFundingRatesRepo(db, timeout),
		OpenInterest: NewOpenInterestsRepo(db, timeout),
		Liquidations: NewLiquidationsRepo(db, timeout),
		LSRTop:       NewLSRTopRepo(db, timeout),
		LSRAll:       NewLSRAllRepo(db, timeout),
		Volatility:   NewVolatilityRepo(db, timeout),
		Watermarks:   NewWatermarkRepo(db, timeout),
		Ping: func(ctx context.Context) error {
			return Ping(ctx, db)
		},
		Audit: func(ctx context.Context) error {
			return AuditSchema(ctx, db)
		},
	}
}

// Migrate creates every canonical table (plus the replication-watermark
// table) against db if they don't already exist, using ttlDays as the
// janitor annotation for each table's comment header.
func Migrate(ctx context.Context, db *sqlx.DB, ttlDays int) error {
	for _, t := range schema.All() {
		if _, err := db.ExecContext(ctx, t.CreateTableSQL(ttlDays)); err != nil {
			return fmt.Errorf("postgres: migrate %s: %w", t.Name, err)
		}
	}
	if _, err := db.ExecContext(ctx, watermarkTableSQL); err != nil {
		return fmt.Errorf("postgres: migrate replication_watermarks: %w", err)
	}
	return nil
}

// EnsurePartition creates the monthly partition covering month (first
// day, UTC) for every canonical table, idempotently; run it before the
// first insert into a not-yet-seen month.
func EnsurePartition(ctx context.Context, db *sqlx.DB, month time.Time) error {
	month = time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := month.AddDate(0, 1, 0)
	suffix := month.Format("200601")
	from := month.Format("2006-01-02")
	to := next.Format("2006-01-02")

	for _, t := range schema.All() {
		stmt := t.PartitionCreateSQL(suffix, from, to)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure partition %s_%s: %w", t.Name, suffix, err)
		}
	}
	return nil
}
