package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// orderbooksRepo implements store.OrderbookRepo. Every orderbook
// emission — full refresh, periodic snapshot, or resync snapshot — lands
// here as a materialized full-book row (bids/asks as JSONB) in the
// single orderbooks table; see DESIGN.md's "Orderbook emission storage"
// decision for why deltas are never persisted on their own.
type orderbooksRepo struct{ base }

// NewOrderbooksRepo builds a Postgres-backed OrderbookRepo against db.
func NewOrderbooksRepo(db *sqlx.DB, timeout time.Duration) store.OrderbookRepo {
	return &orderbooksRepo{base{db: db, timeout: timeout, table: "orderbooks"}}
}

func (r *orderbooksRepo) InsertSnapshotBatch(ctx context.Context, snapshots []record.OrderbookSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin orderbooks batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO orderbooks (ts_ms, exchange, market_type, symbol, last_update_id, bids_count, asks_count,
			best_bid_price, best_ask_price, best_bid_quantity, best_ask_quantity, bids, asks, data_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (exchange, symbol, ts_ms, last_update_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: prepare orderbooks insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range snapshots {
		bidsJSON, err := json.Marshal(s.Bids)
		if err != nil {
			return fmt.Errorf("postgres: marshal bids: %w", err)
		}
		asksJSON, err := json.Marshal(s.Asks)
		if err != nil {
			return fmt.Errorf("postgres: marshal asks: %w", err)
		}

		_, err = stmt.ExecContext(ctx, record.ToTime(s.TsMs), s.Exchange, s.MarketType, s.Symbol, s.LastUpdateID,
			len(s.Bids), len(s.Asks), s.BestBidPrice, s.BestAskPrice, s.BestBidQty, s.BestAskQty, bidsJSON, asksJSON, s.DataSource)
		if err != nil {
			return fmt.Errorf("postgres: insert orderbook: %w", err)
		}
	}
	return tx.Commit()
}

func (r *orderbooksRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.OrderbookSnapshot, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `SELECT ts_ms, exchange, market_type, symbol, last_update_id, best_bid_price, best_ask_price,
		best_bid_quantity, best_ask_quantity, bids, asks, data_source
		FROM orderbooks WHERE exchange = $1 AND market_type = $2 AND symbol = $3 AND ts_ms > $4 AND ts_ms <= $5
		ORDER BY ts_ms ASC LIMIT $6`

	rows, err := r.db.QueryxContext(ctx, query, key.Exchange, key.MarketType, key.Symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orderbooks range: %w", err)
	}
	defer rows.Close()

	var out []record.OrderbookSnapshot
	for rows.Next() {
		var ts time.Time
		var bidsJSON, asksJSON []byte
		var s record.OrderbookSnapshot
		if err := rows.Scan(&ts, &s.Exchange, &s.MarketType, &s.Symbol, &s.LastUpdateID, &s.BestBidPrice,
			&s.BestAskPrice, &s.BestBidQty, &s.BestAskQty, &bidsJSON, &asksJSON, &s.DataSource); err != nil {
			return nil, fmt.Errorf("postgres: scan orderbook: %w", err)
		}
		s.TsMs = record.FromTime(ts)
		if err := json.Unmarshal(bidsJSON, &s.Bids); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal bids: %w", err)
		}
		if err := json.Unmarshal(asksJSON, &s.Asks); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal asks: %w", err)
		}
		s.DepthLevels = len(s.Bids) + len(s.Asks)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *orderbooksRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return r.maxTsMs(ctx, key)
}

func (r *orderbooksRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return r.deleteUpTo(ctx, key, hi)
}
