package replicate

import (
	"time"

	"github.com/marketprism/ingest/internal/config"
	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

// DataTypes lists the eight canonical record types the replicator copies,
// one pass per type. OrderbookDelta never
// appears here: the hot writer already materializes every delta into the
// same full-book row as a snapshot (see DESIGN.md's "Orderbook emission
// storage" decision), so OrderbookSnapshot is the only orderbook type the
// replicator needs to move.
var DataTypes = []record.DataType{
	record.DataTypeOrderbookSnapshot,
	record.DataTypeTrade,
	record.DataTypeFundingRate,
	record.DataTypeOpenInterest,
	record.DataTypeLiquidation,
	record.DataTypeLSRTopPosition,
	record.DataTypeLSRAllAccount,
	record.DataTypeVolatilityIndex,
}

// Partition is one (data type, exchange, market_type, symbol) unit the
// replicator copies independently.
type Partition struct {
	DataType record.DataType
	Key      store.PartitionKey
}

// Partitions enumerates every partition the replicator should consider,
// as the cross product of DataTypes and the configured exchanges'
// (market_type, symbol) pairs, filtered by the replicator's MIGRATION_*
// config filters. This reuses the exchange/symbol universe already
// declared in config.Exchanges rather than querying the store for
// distinct partitions.
func Partitions(cfg config.ReplicatorConfig, exchanges []config.ExchangeConfig) []Partition {
	var out []Partition
	for _, ex := range exchanges {
		if cfg.Exchange != "" && !strEqualFold(cfg.Exchange, ex.Name) {
			continue
		}
		marketTypes := ex.MarketTypes
		if len(marketTypes) == 0 {
			marketTypes = []string{string(record.MarketSpot)}
		}
		for _, mt := range marketTypes {
			if cfg.MarketType != "" && !strEqualFold(cfg.MarketType, mt) {
				continue
			}
			for _, sym := range ex.Symbols {
				if cfg.SymbolPrefix != "" && !hasPrefixFold(sym, cfg.SymbolPrefix) {
					continue
				}
				key := store.PartitionKey{Exchange: ex.Name, MarketType: record.MarketType(mt), Symbol: sym}
				for _, dt := range DataTypes {
					out = append(out, Partition{DataType: dt, Key: key})
				}
			}
		}
	}
	return out
}

// PlanStep is one partition's planned copy window, reported by a dry run
// without performing any writes or deletes.
type PlanStep struct {
	Partition    Partition
	Lo, Hi       time.Time
	PlannedCount int
}

// DryRunReport is the aggregate result of planning every partition
// without executing any inserts or deletes.
type DryRunReport struct {
	GeneratedAt time.Time
	Steps       []PlanStep
	TotalRows   int
}
