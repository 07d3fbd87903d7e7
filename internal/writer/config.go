// Package writer implements the hot-storage writer: one
// durable bus consumer per stream, dispatching decoded envelopes to a
// per-type batcher that flushes on a size-or-time trigger into the hot
// store, with schema-error quarantine and connection-error retry.
package writer

import (
	"time"

	"github.com/marketprism/ingest/internal/config"
)

// BatchConfig is one record type's batching policy.
type BatchConfig struct {
	BatchSize int
	MaxDelay  time.Duration
	QueueCap  int
}

// Config holds the per-type batching policy for every one of the eight
// canonical record types.
type Config struct {
	Orderbook    BatchConfig
	Trade        BatchConfig
	FundingRate  BatchConfig
	OpenInterest BatchConfig
	Liquidation  BatchConfig
	LSR          BatchConfig
	Volatility   BatchConfig

	QuarantineCapacity int // bounded quarantine buffer size, mirrors bus.DeadLetterQueue's default

	// OrderbookResyncBuffer bounds how many deltas the writer's own
	// orderbook maintainer holds per book while waiting on a REST
	// resync snapshot (see internal/orderbook.Maintainer).
	OrderbookResyncBuffer int
}

// DefaultConfig returns the standard per-type batching policy.
func DefaultConfig() Config {
	return Config{
		Orderbook:             BatchConfig{BatchSize: 100, MaxDelay: 10 * time.Second, QueueCap: 1000},
		Trade:                 BatchConfig{BatchSize: 100, MaxDelay: 10 * time.Second, QueueCap: 1000},
		FundingRate:           BatchConfig{BatchSize: 10, MaxDelay: 2 * time.Second, QueueCap: 500},
		OpenInterest:          BatchConfig{BatchSize: 50, MaxDelay: 10 * time.Second, QueueCap: 500},
		Liquidation:           BatchConfig{BatchSize: 5, MaxDelay: 10 * time.Second, QueueCap: 200},
		LSR:                   BatchConfig{BatchSize: 1, MaxDelay: 1 * time.Second, QueueCap: 50},
		Volatility:            BatchConfig{BatchSize: 1, MaxDelay: 1 * time.Second, QueueCap: 50},
		QuarantineCapacity:    256,
		OrderbookResyncBuffer: 500,
	}
}

func batchConfigFrom(c config.BatchConfig) BatchConfig {
	return BatchConfig{
		BatchSize: c.BatchSize,
		MaxDelay:  time.Duration(c.MaxDelayMS) * time.Millisecond,
		QueueCap:  c.QueueMax,
	}
}

// FromConfig converts the process-level config.WriterConfig (already
// defaulted via its WithDefaults) into the writer's own Config shape.
func FromConfig(c config.WriterConfig) Config {
	c = c.WithDefaults()
	return Config{
		Orderbook:             batchConfigFrom(c.Orderbook),
		Trade:                 batchConfigFrom(c.Trade),
		FundingRate:           batchConfigFrom(c.FundingRate),
		OpenInterest:          batchConfigFrom(c.OpenInterest),
		Liquidation:           batchConfigFrom(c.Liquidation),
		LSR:                   batchConfigFrom(c.LSR),
		Volatility:            batchConfigFrom(c.Volatility),
		QuarantineCapacity:    c.QuarantineCapacity,
		OrderbookResyncBuffer: c.OrderbookResyncBuffer,
	}
}
