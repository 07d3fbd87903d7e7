package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// openInterestsRepo implements store.OpenInterestRepo.
type openInterestsRepo struct{ base }

// NewOpenInterestsRepo builds a Postgres-backed OpenInterestRepo against db.
func NewOpenInterestsRepo(db *sqlx.DB, timeout time.Duration) store.OpenInterestRepo {
	return &openInterestsRepo{base{db: db, timeout: timeout, table: "open_interests"}}
}

func (r *openInterestsRepo) InsertBatch(ctx context.Context, rows []record.OpenInterest) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin open_interests batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO open_interests (ts_ms, exchange, market_type, symbol, open_interest, open_interest_value, count, data_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (exchange, symbol, ts_ms) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: prepare open_interests insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range rows {
		_, err := stmt.ExecContext(ctx, record.ToTime(o.TsMs), o.Exchange, o.MarketType, o.Symbol,
			o.OpenInterest, o.OpenInterestValue, o.Count, o.DataSource)
		if err != nil {
			return fmt.Errorf("postgres: insert open_interest: %w", err)
		}
	}
	return tx.Commit()
}

func (r *openInterestsRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.OpenInterest, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `SELECT ts_ms, exchange, market_type, symbol, open_interest, open_interest_value, count, data_source
		FROM open_interests WHERE exchange = $1 AND market_type = $2 AND symbol = $3 AND ts_ms > $4 AND ts_ms <= $5
		ORDER BY ts_ms ASC LIMIT $6`

	rows, err := r.db.QueryxContext(ctx, query, key.Exchange, key.MarketType, key.Symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open_interests range: %w", err)
	}
	defer rows.Close()

	var out []record.OpenInterest
	for rows.Next() {
		var ts time.Time
		var o record.OpenInterest
		if err := rows.Scan(&ts, &o.Exchange, &o.MarketType, &o.Symbol, &o.OpenInterest, &o.OpenInterestValue, &o.Count, &o.DataSource); err != nil {
			return nil, fmt.Errorf("postgres: scan open_interest: %w", err)
		}
		o.TsMs = record.FromTime(ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *openInterestsRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return r.maxTsMs(ctx, key)
}

func (r *openInterestsRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return r.deleteUpTo(ctx, key, hi)
}
