// Package postgres implements internal/store's repository interfaces on
// top of PostgreSQL via github.com/jmoiron/sqlx and github.com/lib/pq.
// The hot and cold tiers are two independently-configured *sqlx.DB pools
// against the same table layout; only retention differs (see DESIGN.md's
// "Hot vs. cold store engine" decision).
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/marketprism/ingest/internal/store"
)

// base holds the fields every per-type repo shares: the pool, a
// per-operation timeout (mirroring tradesRepo.timeout), and the table
// name it owns.
type base struct {
	db      *sqlx.DB
	timeout time.Duration
	table   string
}

func (b base) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

// maxTsMs returns MAX(ts_ms) for one partition, or 0 if no rows match,
// the replicator's "hi"/"lo" computation.
func (b base) maxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT EXTRACT(EPOCH FROM COALESCE(MAX(ts_ms), 'epoch'::timestamptz)) * 1000
		FROM %s WHERE exchange = $1 AND market_type = $2 AND symbol = $3`, b.table)

	var ms float64
	if err := b.db.GetContext(ctx, &ms, query, key.Exchange, key.MarketType, key.Symbol); err != nil {
		return 0, fmt.Errorf("postgres: max ts_ms on %s: %w", b.table, err)
	}
	return int64(ms), nil
}

// deleteUpTo removes rows for one partition with ts_ms <= hi, returning
// the count removed.
func (b base) deleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE exchange = $1 AND market_type = $2 AND symbol = $3 AND ts_ms <= $4`, b.table)
	res, err := b.db.ExecContext(ctx, query, key.Exchange, key.MarketType, key.Symbol, hi)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete up to on %s: %w", b.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: rows affected on %s: %w", b.table, err)
	}
	return n, nil
}

// isDuplicate reports whether err is a Postgres unique-violation (SQLSTATE
// 23505), treated as an idempotent skip rather than a hard failure so a
// business key lands at most once per tier.
func isDuplicate(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// ErrorClass buckets a Postgres error for the hot writer's error
// semantics: connection errors retry with backoff, schema errors
// quarantine the offending record and advance.
type ErrorClass int

const (
	ErrorClassTransient ErrorClass = iota // connection/driver error, retry with backoff
	ErrorClassSchema                      // data/integrity/syntax violation, quarantine and advance
)

// Classify buckets err using its SQLSTATE class (the first two digits of
// pq.Error.Code): 08 (connection exception) and anything that isn't a
// recognized *pq.Error (driver timeouts, connection-refused) are
// transient; 22 (data exception), 23 (integrity constraint violation,
// excluding the unique-violation 23505 already handled by ON CONFLICT),
// and 42 (syntax/access rule violation) are schema-class.
func Classify(err error) ErrorClass {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return ErrorClassTransient
	}
	if pqErr.Code == "23505" {
		return ErrorClassTransient
	}
	switch string(pqErr.Code)[:2] {
	case "22", "23", "42":
		return ErrorClassSchema
	default:
		return ErrorClassTransient
	}
}

// Ping is shared readiness-check plumbing for a *sqlx.DB pool.
func Ping(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
