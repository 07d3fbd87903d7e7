package record

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FundingRate is a perpetual-swap funding snapshot.
type FundingRate struct {
	Meta
	FundingRate     decimal.Decimal  `json:"funding_rate" db:"funding_rate"`
	FundingTsMs     int64            `json:"funding_ts_ms" db:"funding_ts"`
	NextFundingTsMs int64            `json:"next_funding_ts_ms" db:"next_funding_ts"`
	MarkPrice       *decimal.Decimal `json:"mark_price,omitempty" db:"mark_price"`
	IndexPrice      *decimal.Decimal `json:"index_price,omitempty" db:"index_price"`
}

// DedupKey returns the business key for funding-rate rows.
func (f FundingRate) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", f.Exchange, f.Symbol, f.FundingTsMs)
}

// OpenInterest is an open-interest snapshot.
type OpenInterest struct {
	Meta
	OpenInterest      decimal.Decimal `json:"open_interest" db:"open_interest"`
	OpenInterestValue decimal.Decimal `json:"open_interest_value" db:"open_interest_value"`
	Count             *int64          `json:"count,omitempty" db:"count"`
}

// DedupKey returns the business key for open-interest rows.
func (o OpenInterest) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", o.Exchange, o.Symbol, o.TsMs)
}

// LSRTopPosition is a long/short ratio among top-position traders.
type LSRTopPosition struct {
	Meta
	LongPositionRatio  decimal.Decimal `json:"long_position_ratio" db:"long_position_ratio"`
	ShortPositionRatio decimal.Decimal `json:"short_position_ratio" db:"short_position_ratio"`
	Period             string          `json:"period" db:"period"`
}

// DedupKey returns the business key for top-position LSR rows.
func (l LSRTopPosition) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", l.Exchange, l.Symbol, l.Period, l.TsMs)
}

// LSRAllAccount is a long/short ratio across all accounts.
type LSRAllAccount struct {
	Meta
	LongAccountRatio  decimal.Decimal `json:"long_account_ratio" db:"long_account_ratio"`
	ShortAccountRatio decimal.Decimal `json:"short_account_ratio" db:"short_account_ratio"`
	Period            string          `json:"period" db:"period"`
}

// DedupKey returns the business key for all-account LSR rows.
func (l LSRAllAccount) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", l.Exchange, l.Symbol, l.Period, l.TsMs)
}

// VolatilityIndex is a point-in-time volatility index reading.
type VolatilityIndex struct {
	Meta
	IndexValue      decimal.Decimal `json:"index_value" db:"index_value"`
	UnderlyingAsset string          `json:"underlying_asset" db:"underlying_asset"`
	MaturityDate    *string         `json:"maturity_date,omitempty" db:"maturity_date"`
}

// DedupKey returns the business key for volatility-index rows.
func (v VolatilityIndex) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", v.Exchange, v.Symbol, v.TsMs)
}
