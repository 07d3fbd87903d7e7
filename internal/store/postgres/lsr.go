package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// lsrTopRepo implements store.LSRTopRepo.
type lsrTopRepo struct{ base }

// NewLSRTopRepo builds a Postgres-backed LSRTopRepo against db.
func NewLSRTopRepo(db *sqlx.DB, timeout time.Duration) store.LSRTopRepo {
	return &lsrTopRepo{base{db: db, timeout: timeout, table: "lsr_top_positions"}}
}

func (r *lsrTopRepo) InsertBatch(ctx context.Context, rows []record.LSRTopPosition) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin lsr_top_positions batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO lsr_top_positions (ts_ms, exchange, market_type, symbol, long_position_ratio, short_position_ratio, period, data_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (exchange, symbol, period, ts_ms) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: prepare lsr_top_positions insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range rows {
		_, err := stmt.ExecContext(ctx, record.ToTime(l.TsMs), l.Exchange, l.MarketType, l.Symbol,
			l.LongPositionRatio, l.ShortPositionRatio, l.Period, l.DataSource)
		if err != nil {
			return fmt.Errorf("postgres: insert lsr_top_position: %w", err)
		}
	}
	return tx.Commit()
}

func (r *lsrTopRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.LSRTopPosition, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `SELECT ts_ms, exchange, market_type, symbol, long_position_ratio, short_position_ratio, period, data_source
		FROM lsr_top_positions WHERE exchange = $1 AND market_type = $2 AND symbol = $3 AND ts_ms > $4 AND ts_ms <= $5
		ORDER BY ts_ms ASC LIMIT $6`

	rows, err := r.db.QueryxContext(ctx, query, key.Exchange, key.MarketType, key.Symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lsr_top_positions range: %w", err)
	}
	defer rows.Close()

	var out []record.LSRTopPosition
	for rows.Next() {
		var ts time.Time
		var l record.LSRTopPosition
		if err := rows.Scan(&ts, &l.Exchange, &l.MarketType, &l.Symbol, &l.LongPositionRatio, &l.ShortPositionRatio, &l.Period, &l.DataSource); err != nil {
			return nil, fmt.Errorf("postgres: scan lsr_top_position: %w", err)
		}
		l.TsMs = record.FromTime(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *lsrTopRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return r.maxTsMs(ctx, key)
}

func (r *lsrTopRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return r.deleteUpTo(ctx, key, hi)
}

// lsrAllRepo implements store.LSRAllRepo.
type lsrAllRepo struct{ base }

// NewLSRAllRepo builds a Postgres-backed LSRAllRepo against db.
func NewLSRAllRepo(db *sqlx.DB, timeout time.Duration) store.LSRAllRepo {
	return &lsrAllRepo{base{db: db, timeout: timeout, table: "lsr_all_accounts"}}
}

func (r *lsrAllRepo) InsertBatch(ctx context.Context, rows []record.LSRAllAccount) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin lsr_all_accounts batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO lsr_all_accounts (ts_ms, exchange, market_type, symbol, long_account_ratio, short_account_ratio, period, data_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (exchange, symbol, period, ts_ms) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: prepare lsr_all_accounts insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range rows {
		_, err := stmt.ExecContext(ctx, record.ToTime(l.TsMs), l.Exchange, l.MarketType, l.Symbol,
			l.LongAccountRatio, l.ShortAccountRatio, l.Period, l.DataSource)
		if err != nil {
			return fmt.Errorf("postgres: insert lsr_all_account: %w", err)
		}
	}
	return tx.Commit()
}

func (r *lsrAllRepo) ListRange(ctx context.Context, key store.PartitionKey, tr store.TimeRange, limit int) ([]record.LSRAllAccount, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `SELECT ts_ms, exchange, market_type, symbol, long_account_ratio, short_account_ratio, period, data_source
		FROM lsr_all_accounts WHERE exchange = $1 AND market_type = $2 AND symbol = $3 AND ts_ms > $4 AND ts_ms <= $5
		ORDER BY ts_ms ASC LIMIT $6`

	rows, err := r.db.QueryxContext(ctx, query, key.Exchange, key.MarketType, key.Symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lsr_all_accounts range: %w", err)
	}
	defer rows.Close()

	var out []record.LSRAllAccount
	for rows.Next() {
		var ts time.Time
		var l record.LSRAllAccount
		if err := rows.Scan(&ts, &l.Exchange, &l.MarketType, &l.Symbol, &l.LongAccountRatio, &l.ShortAccountRatio, &l.Period, &l.DataSource); err != nil {
			return nil, fmt.Errorf("postgres: scan lsr_all_account: %w", err)
		}
		l.TsMs = record.FromTime(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *lsrAllRepo) MaxTsMs(ctx context.Context, key store.PartitionKey) (int64, error) {
	return r.maxTsMs(ctx, key)
}

func (r *lsrAllRepo) DeleteUpTo(ctx context.Context, key store.PartitionKey, hi time.Time) (int64, error) {
	return r.deleteUpTo(ctx, key, hi)
}
