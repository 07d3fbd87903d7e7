package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// OrderbookKind distinguishes the four orderbook publish subjects:
// Snapshot is the resync-fresh base, Full is the maintainer's merged
// full-book republish, Delta is the normal incremental update, and
// PureDelta is the same delta re-published unmerged for consumers that
// want the raw wire change without any maintainer-side state.
type OrderbookKind string

const (
	OrderbookKindFull      OrderbookKind = "full"
	OrderbookKindDelta     OrderbookKind = "delta"
	OrderbookKindSnapshot  OrderbookKind = "snapshot"
	OrderbookKindPureDelta OrderbookKind = "pure_delta"
)

// Envelope is the canonical wire record produced by the normalizer and
// consumed by every downstream stage. Payload holds one of the eight typed
// records by value; DataType says which one, so decoders never need a type
// switch over reflection to route it.
type Envelope struct {
	Meta
	DataType      DataType      `json:"data_type"`
	OrderbookKind OrderbookKind `json:"orderbook_kind,omitempty"`
	Payload       any           `json:"payload"`

	ReceivedTsMs int64  `json:"received_ts_ms"`
	Checksum     string `json:"checksum,omitempty"`
}

// NewEnvelope builds an envelope for a typed payload. Meta is taken from
// the meta argument as given (the payload itself is not read), with
// DataSource defaulted when empty.
func NewEnvelope(dataType DataType, meta Meta, payload any) Envelope {
	if meta.DataSource == "" {
		meta.DataSource = DataSource
	}
	return Envelope{
		Meta:         meta,
		DataType:     dataType,
		Payload:      payload,
		ReceivedTsMs: NowMs(),
	}
}

// Subject computes the literal bus subject for this envelope.
// Subject lower-cases the exchange and symbol tokens itself; hyphen-casing
// of the symbol is left to the normalizer.
func (e Envelope) Subject() (string, error) {
	exchange := strings.ToLower(e.Exchange)
	symbol := strings.ToLower(e.Symbol)

	switch e.DataType {
	case DataTypeOrderbookSnapshot, DataTypeOrderbookDelta:
		kind := e.OrderbookKind
		if kind == "" {
			if e.DataType == DataTypeOrderbookSnapshot {
				kind = OrderbookKindSnapshot
			} else {
				kind = OrderbookKindDelta
			}
		}
		return fmt.Sprintf("orderbook.%s.%s.%s", kind, exchange, symbol), nil
	case DataTypeTrade:
		return fmt.Sprintf("trade.%s.%s", exchange, symbol), nil
	case DataTypeFundingRate:
		return fmt.Sprintf("funding_rate.%s.%s", exchange, symbol), nil
	case DataTypeOpenInterest:
		return fmt.Sprintf("open_interest.%s.%s", exchange, symbol), nil
	case DataTypeLiquidation:
		return fmt.Sprintf("liquidation.%s.%s", exchange, symbol), nil
	case DataTypeLSRTopPosition:
		return fmt.Sprintf("lsr_top_position.%s.%s", exchange, symbol), nil
	case DataTypeLSRAllAccount:
		return fmt.Sprintf("lsr_all_account.%s.%s", exchange, symbol), nil
	case DataTypeVolatilityIndex:
		return fmt.Sprintf("volatility_index.%s.%s", exchange, symbol), nil
	default:
		return "", fmt.Errorf("record: unknown data type %q", e.DataType)
	}
}

// Keyed is implemented by every typed payload to expose its dedup key.
type Keyed interface {
	DedupKey() string
}

// DedupKey returns the business key of the wrapped payload,
// used by the hot writer and replicator to deduplicate redeliveries.
func (e Envelope) DedupKey() (string, error) {
	keyed, ok := e.Payload.(Keyed)
	if !ok {
		return "", fmt.Errorf("record: payload of type %T does not implement Keyed", e.Payload)
	}
	return keyed.DedupKey(), nil
}

// MarshalPayload serializes only the payload, the form the hot writer and
// deadletter buffer store alongside the routing metadata.
func (e Envelope) MarshalPayload() ([]byte, error) {
	return json.Marshal(e.Payload)
}

// ComputeChecksum hashes the envelope's routing identity and serialized
// payload.
func (e Envelope) ComputeChecksum() (string, error) {
	payload, err := e.MarshalPayload()
	if err != nil {
		return "", err
	}
	hashInput := fmt.Sprintf("%s||%d||%s||%s||%s", payload, e.TsMs, e.Symbol, e.Exchange, e.DataType)
	sum := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(sum[:]), nil
}

// SetChecksum computes and stores the envelope checksum.
func (e *Envelope) SetChecksum() error {
	sum, err := e.ComputeChecksum()
	if err != nil {
		return err
	}
	e.Checksum = sum
	return nil
}
