package normalize

import (
	"strings"

	"github.com/marketprism/ingest/internal/record"
)

// CanonicalSymbol assembles the canonical BASE-QUOTE (or BASE-QUOTE-PERP
// / BASE-QUOTE-SWAP) form from already-split base and quote tokens.
func CanonicalSymbol(base, quote string, marketType record.MarketType) string {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))

	switch marketType {
	case record.MarketPerpetual:
		return base + "-" + quote + "-PERP"
	case record.MarketFutures:
		return base + "-" + quote + "-SWAP"
	default:
		return base + "-" + quote
	}
}

// StripSeparators removes the separators an exchange's raw symbol may
// use ("/", "_", "-") before re-splitting into the canonical form.
func StripSeparators(raw string) string {
	r := strings.NewReplacer("/", "", "_", "", "-", "", " ", "")
	return strings.ToUpper(r.Replace(raw))
}

// MapSide normalizes an exchange-specific side token to the canonical
// buy/sell enum.
func MapSide(raw string, buyTokens ...string) record.Side {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, tok := range buyTokens {
		if raw == strings.ToLower(tok) {
			return record.SideBuy
		}
	}
	return record.SideSell
}
