package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// tradesRepo implements store.TradeRepo: batch inserts run in a single
// transaction through a prepared statement with deferred rollback, with
// ON CONFLICT DO NOTHING on the dedup unique index instead of failing
// the whole batch on a unique violation.
type tradesRepo struct{ base }

// NewTradesRepo builds a Postgres-backed TradeRepo against db.
func NewTradesRepo(db *sqlx.DB, timeout time.Duration) store.TradeRepo {
	return &tradesRepo{base{db: db, timeout: timeout, table: "trades"}}
}

func (r *tradesRepo) InsertBatch(ctx context.Context, trades []record.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin trades batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO trades (ts_ms, exchange, market_type, symbol, trade_id, price, quantity, side, is_maker, trade_ts, data_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (trade_id, exchange, symbol, ts_ms) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: prepare trades insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err := stmt.ExecContext(ctx, record.ToTime(t.TsMs), t.Exchange, t.MarketType, t.Symbol,
			t.TradeID, t.Price, t.Quantity, string(t.Side), t.IsMaker, record.ToTime(t.TradeTsMs), t.DataSource)
		if err != nil {
			return fmt.Errorf("postgres: insert trade: %w", err)
		}
	}
	return tx.Commit()
}

func (r *tradesRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.Trade, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `SELECT ts_ms, exchange, market_type, symbol, trade_id, price, quantity, side, is_maker, trade_ts, data_source
		FROM trades WHERE exchange = $1 AND market_type = $2 AND symbol = $3 AND ts_ms > $4 AND ts_ms <= $5
		ORDER BY ts_ms ASC LIMIT $6`

	rows, err := r.db.QueryxContext(ctx, query, key.Exchange, key.MarketType, key.Symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades range: %w", err)
	}
	defer rows.Close()

	var out []record.Trade
	for rows.Next() {
		var ts, tradeTs time.Time
		var t record.Trade
		if err := rows.Scan(&ts, &t.Exchange, &t.MarketType, &t.Symbol, &t.TradeID, &t.Price, &t.Quantity, &t.Side, &t.IsMaker, &tradeTs, &t.DataSource); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.TsMs = record.FromTime(ts)
		t.TradeTsMs = record.FromTime(tradeTs)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *tradesRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return r.maxTsMs(ctx, key)
}

func (r *tradesRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return r.deleteUpTo(ctx, key, hi)
}
