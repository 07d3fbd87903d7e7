// Package record defines the canonical market-data record types shared by
// every ingestion component: the per-exchange normalizers produce them, the
// orderbook maintainer mutates them, the publisher serializes them, and the
// hot/cold stores persist them.
package record

import (
	"fmt"
	"time"
)

// MarketType is the instrument class a record belongs to.
type MarketType string

const (
	MarketSpot      MarketType = "spot"
	MarketPerpetual MarketType = "perpetual"
	MarketFutures   MarketType = "futures"
	MarketOptions   MarketType = "options"
)

// Side is a trade or liquidation direction, always normalized to buy/sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// DataType identifies which of the eight typed records an envelope carries.
type DataType string

const (
	DataTypeTrade             DataType = "trade"
	DataTypeOrderbookSnapshot DataType = "orderbook_snapshot"
	DataTypeOrderbookDelta    DataType = "orderbook_delta"
	DataTypeFundingRate       DataType = "funding_rate"
	DataTypeOpenInterest      DataType = "open_interest"
	DataTypeLiquidation       DataType = "liquidation"
	DataTypeLSRTopPosition    DataType = "lsr_top_position"
	DataTypeLSRAllAccount     DataType = "lsr_all_account"
	DataTypeVolatilityIndex   DataType = "volatility_index"
)

// DataSource is the constant attribution value written to every stored row.
const DataSource = "marketprism"

// ClockSkewToleranceMs bounds how far into the future a ts_ms may sit and
// still be accepted.
const ClockSkewToleranceMs int64 = 300_000

// Meta carries the fields every canonical record shares.
type Meta struct {
	Exchange   string     `json:"exchange" db:"exchange"`
	MarketType MarketType `json:"market_type" db:"market_type"`
	Symbol     string     `json:"symbol" db:"symbol"`
	TsMs       int64      `json:"ts_ms" db:"ts_ms"`
	DataSource string     `json:"data_source" db:"data_source"`
}

// Validate checks the invariants common to every record: non-negative
// timestamp bounded by clock skew, and required identity fields present.
func (m Meta) Validate(nowMs int64) error {
	if m.Exchange == "" {
		return fmt.Errorf("record: exchange is empty")
	}
	if m.Symbol == "" {
		return fmt.Errorf("record: symbol is empty")
	}
	if m.TsMs < 0 {
		return fmt.Errorf("record: ts_ms %d is negative", m.TsMs)
	}
	if m.TsMs > nowMs+ClockSkewToleranceMs {
		return fmt.Errorf("record: ts_ms %d exceeds now+skew tolerance (now=%d)", m.TsMs, nowMs)
	}
	return nil
}

// NowMs returns the current time as UTC epoch milliseconds, the single
// chokepoint every component uses instead of calling time.Now() directly
// for timestamp generation.
func NowMs() int64 {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to UTC epoch milliseconds.
func FromTime(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// ToTime converts UTC epoch milliseconds back to a time.Time.
func ToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// PadSecondsToMs converts a second-resolution exchange timestamp into
// milliseconds by appending three zero digits.
func PadSecondsToMs(seconds int64) int64 {
	return seconds * 1000
}
