package record

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Trade is a single executed trade.
type Trade struct {
	Meta
	TradeID   string          `json:"trade_id" db:"trade_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Side      Side            `json:"side" db:"side"`
	IsMaker   bool            `json:"is_maker" db:"is_maker"`
	TradeTsMs int64           `json:"trade_ts_ms" db:"trade_ts"`
}

// DedupKey returns the business key used by the hot writer and replicator
// to deduplicate trades.
func (t Trade) DedupKey() string {
	return t.TradeID + "|" + t.Exchange + "|" + t.Symbol
}

// Liquidation is a forced order-close event.
type Liquidation struct {
	Meta
	Side            Side            `json:"side" db:"side"`
	Price           decimal.Decimal `json:"price" db:"price"`
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`
	LiquidationTsMs int64           `json:"liquidation_ts_ms" db:"liquidation_ts"`
}

// DedupKey returns the business key for liquidations.
func (l Liquidation) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", l.Exchange, l.Symbol, l.TsMs, l.Side, l.Price.String())
}
