package bus

import "time"

// Stream names, fixed by the wire contract.
const (
	StreamOrderbookFull  = "ORDERBOOK_FULL"
	StreamOrderbookDelta = "ORDERBOOK_DELTA"
	StreamMarketTrades   = "MARKET_TRADES"
	StreamMarketData     = "MARKET_DATA"
)

const gigabyte = 1 << 30
const megabyte = 1 << 20

// DefaultStreams returns the four contractual streams with their subject
// patterns, retention, and consumer counts. MARKET_DATA is the catch-all
// for every typed subject not claimed by the other three.
func DefaultStreams() []StreamConfig {
	return []StreamConfig{
		{
			Name:           StreamOrderbookFull,
			Subjects:       []string{"orderbook.full.*", "orderbook.snapshot.*"},
			RetentionBytes: 1 * gigabyte,
			MaxAge:         24 * time.Hour,
			ConsumerCount:  10,
		},
		{
			Name:           StreamOrderbookDelta,
			Subjects:       []string{"orderbook.delta.*", "orderbook.pure_delta.*"},
			RetentionBytes: 2 * gigabyte,
			MaxAge:         1 * time.Hour,
			ConsumerCount:  20,
		},
		{
			Name:           StreamMarketTrades,
			Subjects:       []string{"trade.*"},
			RetentionBytes: 1 * gigabyte,
			MaxAge:         24 * time.Hour,
			ConsumerCount:  15,
		},
		{
			Name:           StreamMarketData,
			Subjects:       []string{"funding_rate.*", "open_interest.*", "liquidation.*", "lsr_top_position.*", "lsr_all_account.*", "volatility_index.*"},
			RetentionBytes: 512 * megabyte,
			MaxAge:         24 * time.Hour,
			ConsumerCount:  10,
		},
	}
}

// StreamForSubject returns the name of the stream that owns subject,
// matching by literal prefix against each stream's declared patterns
// (every pattern here is "<prefix>.*", so a prefix match is sufficient).
func StreamForSubject(subject string) string {
	for _, s := range DefaultStreams() {
		for _, pattern := range s.Subjects {
			prefix := pattern
			if len(prefix) > 0 && prefix[len(prefix)-1] == '*' {
				prefix = prefix[:len(prefix)-1]
			}
			if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
				return s.Name
			}
		}
	}
	return StreamMarketData
}
