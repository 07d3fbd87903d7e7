package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// liquidationsRepo implements store.LiquidationRepo.
type liquidationsRepo struct{ base }

// NewLiquidationsRepo builds a Postgres-backed LiquidationRepo against db.
func NewLiquidationsRepo(db *sqlx.DB, timeout time.Duration) store.LiquidationRepo {
	return &liquidationsRepo{base{db: db, timeout: timeout, table: "liquidations"}}
}

func (r *liquidationsRepo) InsertBatch(ctx context.Context, rows []record.Liquidation) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin liquidations batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO liquidations (ts_ms, exchange, market_type, symbol, side, price, quantity, liquidation_ts, data_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (exchange, symbol, ts_ms, side, price) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: prepare liquidations insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range rows {
		_, err := stmt.ExecContext(ctx, record.ToTime(l.TsMs), l.Exchange, l.MarketType, l.Symbol,
			string(l.Side), l.Price, l.Quantity, record.ToTime(l.LiquidationTsMs), l.DataSource)
		if err != nil {
			return fmt.Errorf("postgres: insert liquidation: %w", err)
		}
	}
	return tx.Commit()
}

func (r *liquidationsRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.Liquidation, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `SELECT ts_ms, exchange, market_type, symbol, side, price, quantity, liquidation_ts, data_source
		FROM liquidations WHERE exchange = $1 AND market_type = $2 AND symbol = $3 AND ts_ms > $4 AND ts_ms <= $5
		ORDER BY ts_ms ASC LIMIT $6`

	rows, err := r.db.QueryxContext(ctx, query, key.Exchange, key.MarketType, key.Symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations range: %w", err)
	}
	defer rows.Close()

	var out []record.Liquidation
	for rows.Next() {
		var ts, liqTs time.Time
		var l record.Liquidation
		if err := rows.Scan(&ts, &l.Exchange, &l.MarketType, &l.Symbol, &l.Side, &l.Price, &l.Quantity, &liqTs, &l.DataSource); err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation: %w", err)
		}
		l.TsMs = record.FromTime(ts)
		l.LiquidationTsMs = record.FromTime(liqTs)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *liquidationsRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return r.maxTsMs(ctx, key)
}

func (r *liquidationsRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return r.deleteUpTo(ctx, key, hi)
}
