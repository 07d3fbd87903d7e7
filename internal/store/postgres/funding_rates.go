package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// fundingRatesRepo implements store.FundingRateRepo.
type fundingRatesRepo struct{ base }

// NewFundingRatesRepo builds a Postgres-backed FundingRateRepo against db.
func NewFundingRatesRepo(db *sqlx.DB, timeout time.Duration) store.FundingRateRepo {
	return &fundingRatesRepo{base{db: db, timeout: timeout, table: "funding_rates"}}
}

func (r *fundingRatesRepo) InsertBatch(ctx context.Context, rates []record.FundingRate) error {
	if len(rates) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin funding_rates batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO funding_rates (ts_ms, exchange, market_type, symbol, funding_rate, funding_ts, next_funding_ts,
			mark_price, index_price, data_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (exchange, symbol, funding_ts, ts_ms) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: prepare funding_rates insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range rates {
		_, err := stmt.ExecContext(ctx, record.ToTime(f.TsMs), f.Exchange, f.MarketType, f.Symbol, f.FundingRate,
			record.ToTime(f.FundingTsMs), record.ToTime(f.NextFundingTsMs), f.MarkPrice, f.IndexPrice, f.DataSource)
		if err != nil {
			return fmt.Errorf("postgres: insert funding_rate: %w", err)
		}
	}
	return tx.Commit()
}

func (r *fundingRatesRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.FundingRate, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `SELECT ts_ms, exchange, market_type, symbol, funding_rate, funding_ts, next_funding_ts,
		mark_price, index_price, data_source
		FROM funding_rates WHERE exchange = $1 AND market_type = $2 AND symbol = $3 AND ts_ms > $4 AND ts_ms <= $5
		ORDER BY ts_ms ASC LIMIT $6`

	rows, err := r.db.QueryxContext(ctx, query, key.Exchange, key.MarketType, key.Symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding_rates range: %w", err)
	}
	defer rows.Close()

	var out []record.FundingRate
	for rows.Next() {
		var ts, fundingTs, nextFundingTs time.Time
		var f record.FundingRate
		if err := rows.Scan(&ts, &f.Exchange, &f.MarketType, &f.Symbol, &f.FundingRate, &fundingTs, &nextFundingTs,
			&f.MarkPrice, &f.IndexPrice, &f.DataSource); err != nil {
			return nil, fmt.Errorf("postgres: scan funding_rate: %w", err)
		}
		f.TsMs = record.FromTime(ts)
		f.FundingTsMs = record.FromTime(fundingTs)
		f.NextFundingTsMs = record.FromTime(nextFundingTs)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *fundingRatesRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return r.maxTsMs(ctx, key)
}

func (r *fundingRatesRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return r.deleteUpTo(ctx, key, hi)
}
