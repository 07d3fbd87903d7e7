package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// watermarkRepo implements store.WatermarkRepo against a dedicated table
// tracking the replicator's hot→cold progress per (data type,
// partition).
type watermarkRepo struct{ base }

// NewWatermarkRepo builds a Postgres-backed WatermarkRepo against db.
func NewWatermarkRepo(db *sqlx.DB, timeout time.Duration) store.WatermarkRepo {
	return &watermarkRepo{base{db: db, timeout: timeout, table: "replication_watermarks"}}
}

func (r *watermarkRepo) Get(ctx context.Context, dataType record.DataType, key store.PartitionKey) (store.Watermark, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var ts time.Time
	var updatedAt time.Time
	err := r.db.QueryRowxContext(ctx, `
		SELECT ts_ms, updated_at FROM replication_watermarks
		WHERE data_type = $1 AND exchange = $2 AND market_type = $3 AND symbol = $4`,
		string(dataType), key.Exchange, key.MarketType, key.Symbol).Scan(&ts, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Watermark{DataType: dataType, Key: key}, nil
	}
	if err != nil {
		return store.Watermark{}, fmt.Errorf("postgres: get watermark: %w", err)
	}
	return store.Watermark{
		DataType:  dataType,
		Key:       key,
		TsMs:      record.FromTime(ts),
		UpdatedAt: updatedAt,
	}, nil
}

func (r *watermarkRepo) Advance(ctx context.Context, w store.Watermark) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO replication_watermarks (data_type, exchange, market_type, symbol, ts_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (data_type, exchange, market_type, symbol)
		DO UPDATE SET ts_ms = EXCLUDED.ts_ms, updated_at = EXCLUDED.updated_at
		WHERE replication_watermarks.ts_ms < EXCLUDED.ts_ms`,
		string(w.DataType), w.Key.Exchange, w.Key.MarketType, w.Key.Symbol, record.ToTime(w.TsMs))
	if err != nil {
		return fmt.Errorf("postgres: advance watermark: %w", err)
	}
	return nil
}

// watermarkTableSQL creates the replication_watermarks table, ungoverned by
// internal/store/schema since it is infrastructure for the replicator
// rather than one of the eight canonical record tables.
const watermarkTableSQL = `
CREATE TABLE IF NOT EXISTS replication_watermarks (
    data_type   text NOT NULL,
    exchange    text NOT NULL,
    market_type text NOT NULL,
    symbol      text NOT NULL,
    ts_ms       timestamptz NOT NULL,
    updated_at  timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (data_type, exchange, market_type, symbol)
);`
