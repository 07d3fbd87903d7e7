package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// volatilityRepo implements store.VolatilityIndexRepo.
type volatilityRepo struct{ base }

// NewVolatilityRepo builds a Postgres-backed VolatilityIndexRepo against db.
func NewVolatilityRepo(db *sqlx.DB, timeout time.Duration) store.VolatilityIndexRepo {
	return &volatilityRepo{base{db: db, timeout: timeout, table: "volatility_indices"}}
}

func (r *volatilityRepo) InsertBatch(ctx context.Context, rows []record.VolatilityIndex) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin volatility_indices batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO volatility_indices (ts_ms, exchange, market_type, symbol, index_value, underlying_asset, maturity_date, data_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (exchange, symbol, ts_ms) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: prepare volatility_indices insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range rows {
		_, err := stmt.ExecContext(ctx, record.ToTime(v.TsMs), v.Exchange, v.MarketType, v.Symbol,
			v.IndexValue, v.UnderlyingAsset, v.MaturityDate, v.DataSource)
		if err != nil {
			return fmt.Errorf("postgres: insert volatility_index: %w", err)
		}
	}
	return tx.Commit()
}

func (r *volatilityRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.VolatilityIndex, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `SELECT ts_ms, exchange, market_type, symbol, index_value, underlying_asset, maturity_date, data_source
		FROM volatility_indices WHERE exchange = $1 AND market_type = $2 AND symbol = $3 AND ts_ms > $4 AND ts_ms <= $5
		ORDER BY ts_ms ASC LIMIT $6`

	rows, err := r.db.QueryxContext(ctx, query, key.Exchange, key.MarketType, key.Symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list volatility_indices range: %w", err)
	}
	defer rows.Close()

	var out []record.VolatilityIndex
	for rows.Next() {
		var ts time.Time
		var v record.VolatilityIndex
		if err := rows.Scan(&ts, &v.Exchange, &v.MarketType, &v.Symbol, &v.IndexValue, &v.UnderlyingAsset, &v.MaturityDate, &v.DataSource); err != nil {
			return nil, fmt.Errorf("postgres: scan volatility_index: %w", err)
		}
		v.TsMs = record.FromTime(ts)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *volatilityRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return r.maxTsMs(ctx, key)
}

func (r *volatilityRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return r.deleteUpTo(ctx, key, hi)
}
