// Package normalize converts per-exchange wire payloads into the canonical
// record.Envelope shape. Each exchange gets its own file
// implementing the Normalizer interface; dispatch is by value (a small
// registry keyed by exchange name), not by a class hierarchy, matching the
// "deep inheritance collapses" design note.
package normalize

import (
	"errors"
	"fmt"

	"github.com/marketprism/ingest/internal/record"
)

// Sentinel errors returned by normalizers.
var (
	ErrInvalidPayload       = errors.New("normalize: invalid payload")
	ErrUnknownSymbol        = errors.New("normalize: unknown symbol")
	ErrPrecisionLoss        = errors.New("normalize: precision loss parsing decimal")
	ErrTimestampUnavailable = errors.New("normalize: timestamp unavailable")
	ErrUnsupportedDataType  = errors.New("normalize: unsupported data type for exchange")
)

// Normalizer converts one exchange's raw wire payload for one data type
// into a canonical envelope.
type Normalizer interface {
	// Exchange returns the lower-case exchange identifier this normalizer
	// handles (e.g. "binance").
	Exchange() string

	// Normalize parses raw into a canonical envelope for dataType. It never
	// uses binary floats for price/quantity parsing.
	Normalize(dataType record.DataType, raw []byte) (record.Envelope, error)
}

// Registry dispatches to the Normalizer registered for an exchange.
type Registry struct {
	byExchange map[string]Normalizer
}

// NewRegistry builds a registry from a set of normalizers, keyed by their
// own Exchange() identifier.
func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{byExchange: make(map[string]Normalizer, len(normalizers))}
	for _, n := range normalizers {
		r.byExchange[n.Exchange()] = n
	}
	return r
}

// Normalize routes to the registered normalizer for exchange.
func (r *Registry) Normalize(exchange string, dataType record.DataType, raw []byte) (record.Envelope, error) {
	n, ok := r.byExchange[exchange]
	if !ok {
		return record.Envelope{}, fmt.Errorf("normalize: no normalizer registered for exchange %q", exchange)
	}
	return n.Normalize(dataType, raw)
}
