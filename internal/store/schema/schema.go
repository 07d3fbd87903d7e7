// Package schema is the single source of truth for the eight hot/cold
// table definitions. Both tiers are generated from the same
// Column lists, ORDER BY keys, and defaults, so hot/cold divergence is a
// compile-time impossibility rather than a runtime check — only each
// table's TTL differs between tiers.
package schema

import "fmt"

// Column describes one table column in storage-engine-neutral terms.
type Column struct {
	Name    string
	Type    string // Postgres type
	Default string // SQL default expression, empty if none
	Null    bool
}

// Table is one of the eight canonical tables.
type Table struct {
	Name        string
	Columns     []Column
	OrderBy     []string // primary key / covering index columns
	PartitionBy []string // (year-month(ts_ms), exchange)
	UniqueKey   []string // dedup-key columns, enforced as a unique index
}

func col(name, typ string) Column { return Column{Name: name, Type: typ} }

func nullable(name, typ string) Column { return Column{Name: name, Type: typ, Null: true} }

// commonTail is the (data_source, created_at) suffix every table shares.
func commonTail() []Column {
	return []Column{
		{Name: "data_source", Type: "text", Default: "'marketprism'"},
		{Name: "created_at", Type: "timestamptz", Default: "now()"},
	}
}

func identityHead() []Column {
	return []Column{
		col("ts_ms", "timestamptz"), // dt64ms_utc
		col("exchange", "text"),
		col("market_type", "text"),
		col("symbol", "text"),
	}
}

// Orderbooks is the materialized depth-book table: every orderbook
// emission (full snapshot, delta, or resync snapshot) lands here as the
// maintainer's resulting full-book state; there are no separate
// snapshot/delta tables (see DESIGN.md's "Orderbook emission storage"
// decision).
var Orderbooks = Table{
	Name: "orderbooks",
	Columns: append(append(identityHead(), []Column{
		col("last_update_id", "bigint"),
		col("bids_count", "integer"),
		col("asks_count", "integer"),
		col("best_bid_price", "numeric(38,8)"),
		col("best_ask_price", "numeric(38,8)"),
		col("best_bid_quantity", "numeric(38,8)"),
		col("best_ask_quantity", "numeric(38,8)"),
		col("bids", "jsonb"),
		col("asks", "jsonb"),
	}...), commonTail()...),
	OrderBy:     []string{"ts_ms", "exchange", "symbol", "last_update_id"},
	PartitionBy: []string{"ts_ms", "exchange"},
	UniqueKey:   []string{"exchange", "symbol", "ts_ms", "last_update_id"},
}

// Trades is the executed-trade table.
var Trades = Table{
	Name: "trades",
	Columns: append(append(identityHead(), []Column{
		col("trade_id", "text"),
		col("price", "numeric(38,8)"),
		col("quantity", "numeric(38,8)"),
		col("side", "text"),
		col("is_maker", "boolean"),
		col("trade_ts", "timestamptz"),
	}...), commonTail()...),
	OrderBy:     []string{"ts_ms", "exchange", "symbol", "trade_id"},
	PartitionBy: []string{"ts_ms", "exchange"},
	// A unique index on a partitioned table must include the partition
	// column, so ts_ms rides along with the (trade_id, exchange, symbol)
	// business key; a redelivered message carries the same ts_ms, so the
	// dedup guarantee is unchanged.
	UniqueKey: []string{"trade_id", "exchange", "symbol", "ts_ms"},
}

// FundingRates is the perpetual-swap funding table.
var FundingRates = Table{
	Name: "funding_rates",
	Columns: append(append(identityHead(), []Column{
		col("funding_rate", "numeric(38,8)"),
		col("funding_ts", "timestamptz"),
		col("next_funding_ts", "timestamptz"),
		nullable("mark_price", "numeric(38,8)"),
		nullable("index_price", "numeric(38,8)"),
	}...), commonTail()...),
	OrderBy:     []string{"ts_ms", "exchange", "symbol", "funding_ts"},
	PartitionBy: []string{"ts_ms", "exchange"},
	// ts_ms included for the same partitioned-unique-index rule as trades.
	UniqueKey: []string{"exchange", "symbol", "funding_ts", "ts_ms"},
}

// OpenInterests is the open-interest table.
var OpenInterests = Table{
	Name: "open_interests",
	Columns: append(append(identityHead(), []Column{
		col("open_interest", "numeric(38,8)"),
		col("open_interest_value", "numeric(38,8)"),
		nullable("count", "bigint"),
	}...), commonTail()...),
	OrderBy:     []string{"ts_ms", "exchange", "symbol"},
	PartitionBy: []string{"ts_ms", "exchange"},
	UniqueKey:   []string{"exchange", "symbol", "ts_ms"},
}

// Liquidations is the forced-liquidation table.
var Liquidations = Table{
	Name: "liquidations",
	Columns: append(append(identityHead(), []Column{
		col("side", "text"),
		col("price", "numeric(38,8)"),
		col("quantity", "numeric(38,8)"),
		col("liquidation_ts", "timestamptz"),
	}...), commonTail()...),
	OrderBy:     []string{"ts_ms", "exchange", "symbol", "side", "price"},
	PartitionBy: []string{"ts_ms", "exchange"},
	UniqueKey:   []string{"exchange", "symbol", "ts_ms", "side", "price"},
}

// LSRTopPositions is the top-trader long/short ratio table.
var LSRTopPositions = Table{
	Name: "lsr_top_positions",
	Columns: append(append(identityHead(), []Column{
		col("long_position_ratio", "numeric(38,8)"),
		col("short_position_ratio", "numeric(38,8)"),
		col("period", "text"),
	}...), commonTail()...),
	OrderBy:     []string{"ts_ms", "exchange", "symbol", "period"},
	PartitionBy: []string{"ts_ms", "exchange"},
	UniqueKey:   []string{"exchange", "symbol", "period", "ts_ms"},
}

// LSRAllAccounts is the all-account long/short ratio table.
var LSRAllAccounts = Table{
	Name: "lsr_all_accounts",
	Columns: append(append(identityHead(), []Column{
		col("long_account_ratio", "numeric(38,8)"),
		col("short_account_ratio", "numeric(38,8)"),
		col("period", "text"),
	}...), commonTail()...),
	OrderBy:     []string{"ts_ms", "exchange", "symbol", "period"},
	PartitionBy: []string{"ts_ms", "exchange"},
	UniqueKey:   []string{"exchange", "symbol", "period", "ts_ms"},
}

// VolatilityIndices is the volatility-index table.
var VolatilityIndices = Table{
	Name: "volatility_indices",
	Columns: append(append(identityHead(), []Column{
		col("index_value", "numeric(38,8)"),
		col("underlying_asset", "text"),
		nullable("maturity_date", "date"),
	}...), commonTail()...),
	OrderBy:     []string{"ts_ms", "exchange", "symbol"},
	PartitionBy: []string{"ts_ms", "exchange"},
	UniqueKey:   []string{"exchange", "symbol", "ts_ms"},
}

// All returns every table, in a fixed order.
func All() []Table {
	return []Table{Orderbooks, Trades, FundingRates, OpenInterests, Liquidations, LSRTopPositions, LSRAllAccounts, VolatilityIndices}
}

// CreateTableSQL renders t's CREATE TABLE statement, native-partitioned
// by month(ts_ms): the (year-month(ts_ms), exchange) partition key is
// realized as monthly range partitions, with exchange selectivity in the
// covering index instead, since Postgres range-partitions on one column
// family at a time. ttlDays is a comment annotation only — actual
// TTL eviction is a scheduled janitor (see internal/store/postgres/janitor.go),
// since Postgres has no native per-row TTL.
func (t Table) CreateTableSQL(ttlDays int) string {
	sql := fmt.Sprintf("-- TTL: %d days (enforced by janitor, not native)\n", ttlDays)
	sql += fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	for _, c := range t.Columns {
		sql += "    " + c.defSQL() + ",\n"
	}
	sql += fmt.Sprintf("    PRIMARY KEY (%s)\n", joinCols(append(append([]string{}, t.OrderBy...))))
	sql += fmt.Sprintf(") PARTITION BY RANGE (ts_ms);\n")
	sql += fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_dedup_idx ON %s (%s);\n", t.Name, t.Name, joinCols(t.UniqueKey))
	return sql
}

func (c Column) defSQL() string {
	s := c.Name + " " + c.Type
	if !c.Null {
		s += " NOT NULL"
	}
	if c.Default != "" {
		s += " DEFAULT " + c.Default
	}
	return s
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// PartitionCreateSQL renders the monthly partition-creation statement
// for t covering [from, from+1 month), one DDL statement per concern.
func (t Table) PartitionCreateSQL(partitionSuffix, fromLiteral, toLiteral string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s_%s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s');",
		t.Name, partitionSuffix, t.Name, fromLiteral, toLiteral)
}
