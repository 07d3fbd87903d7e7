package orderbook

import "errors"

// Error taxonomy for the maintainer's resync state function; each class
// maps to one recovery path.
var (
	// ErrSequenceGap means an incoming delta does not chain onto the
	// book's current LastUpdateID; a resync is required.
	ErrSequenceGap = errors.New("orderbook: sequence gap detected")

	// ErrChecksumMismatch means the venue-reported checksum disagrees
	// with the locally computed one after applying all known deltas.
	ErrChecksumMismatch = errors.New("orderbook: checksum mismatch")

	// ErrSnapshotTimeout means the REST snapshot fetch used to resync
	// did not complete in time.
	ErrSnapshotTimeout = errors.New("orderbook: snapshot fetch timed out")

	// ErrOverflowBuffer means the delta buffer wrapped before a
	// snapshot could be fetched and aligned, so some deltas needed to
	// bridge the gap were discarded.
	ErrOverflowBuffer = errors.New("orderbook: delta buffer overflowed before snapshot resolved")
)
