package orderbook

import (
	"hash/crc32"
	"strings"

	"github.com/marketprism/ingest/internal/record"
)

// DefaultChecksumDepth is the number of top-of-book levels per side
// included in the checksum, matching OKX/Binance's convention.
const DefaultChecksumDepth = 25

// Checksum computes a CRC32 over the top depth levels of each side,
// concatenated price:quantity, matching the OKX/Binance style checksum
// so a mismatch against the venue's own reported checksum is detectable.
func Checksum(bids, asks []record.PriceLevel, depth int) uint32 {
	if depth <= 0 {
		depth = DefaultChecksumDepth
	}

	var sb strings.Builder
	appendSide := func(levels []record.PriceLevel) {
		for i := 0; i < depth && i < len(levels); i++ {
			sb.WriteString(levels[i].Price.String())
			sb.WriteByte(':')
			sb.WriteString(levels[i].Quantity.String())
			sb.WriteByte(':')
		}
	}
	appendSide(bids)
	appendSide(asks)

	return crc32.ChecksumIEEE([]byte(sb.String()))
}
