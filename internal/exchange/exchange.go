// Package exchange owns the live connection to each venue: dialing,
// subscribing, heartbeating, and reconnecting with backoff. It hands
// unparsed wire frames to internal/normalize rather than parsing them
// itself, keeping the transport concern separate from the wire-format
// concern.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/marketprism/ingest/internal/record"
)

// ErrProtocolFatal marks protocol-level failures (authentication
// rejected, access forbidden) that surface and halt the session instead
// of being retried.
var ErrProtocolFatal = errors.New("exchange: protocol-level fatal error")

// State is the session's connection state: a small int enum with a
// String() method, not a string-typed status field.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateSubscribing
	StateStreaming
	StateDegraded
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RawMessage is one unparsed wire frame from a venue, queued for
// normalization. DataType is a hint the adapter may set when the wire
// message unambiguously maps to one type (most venues multiplex several
// data types over one socket, so it is often left empty and resolved by
// internal/normalize from the payload shape instead).
type RawMessage struct {
	Exchange   string
	DataType   record.DataType
	ReceivedAt time.Time
	Payload    []byte
}

// ControlEvent is a protocol-level frame the session itself consumes
// rather than forwarding to the normalizer: subscribe acknowledgments and
// venue-reported request errors. Data frames flow through emit; control
// frames flow through this.
type ControlEvent struct {
	// SubscribeAck reports one subscription confirmed by the venue. A
	// multiplexed venue may confirm several channels from a single
	// subscribe frame; each confirmation is its own event.
	SubscribeAck bool

	// Err is the venue-reported failure, nil on an acknowledgment.
	Err error

	// Fatal marks Err as protocol-level (auth, forbidden): the session
	// halts instead of reconnecting.
	Fatal bool
}

// Client is the uniform per-venue streaming handle. Messages returns a
// bounded channel; a full channel means the consumer is falling behind,
// and the session drops the newest frame rather than blocking the read
// loop.
type Client interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Messages() <-chan RawMessage
	State() State
}
