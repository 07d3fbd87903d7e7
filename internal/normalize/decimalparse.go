package normalize

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseDecimal parses s as an arbitrary-precision decimal, the chokepoint
// every normalizer routes numeric parsing through instead of strconv's
// float family.
//
// An empty string is treated as zero only when optional is true; otherwise
// it fails with ErrInvalidPayload.
func ParseDecimal(s string, optional bool) (decimal.Decimal, error) {
	if s == "" {
		if optional {
			return decimal.Zero, nil
		}
		return decimal.Decimal{}, fmt.Errorf("%w: empty numeric field", ErrInvalidPayload)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPrecisionLoss, err)
	}
	return d, nil
}
