package writer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/marketprism/ingest/internal/bus"
	"github.com/marketprism/ingest/internal/orderbook"
	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/store"
)

const consumerGroup = "hot-writer"

// batcher is the common surface every per-type batcher in this package
// implements; Writer dispatches against it rather than a type switch over
// eight concrete batchers everywhere it needs one.
type batcher interface {
	Add(ctx context.Context, env record.Envelope) error
	Flush(ctx context.Context)
}

// Writer subscribes one consumer per record type to the bus, decodes
// each message back into a typed record.Envelope, and routes it to the
// matching per-type batcher, which owns the durable-before-ack batching
// contract.
type Writer struct {
	bus        bus.EventBus
	quarantine *Quarantine

	trades       *TradeBatcher
	orderbooks   *OrderbookBatcher
	fundingRates *FundingRateBatcher
	openInterest *OpenInterestBatcher
	liquidations *LiquidationBatcher
	lsrTop       *LSRTopBatcher
	lsrAll       *LSRAllBatcher
	volatility   *VolatilityBatcher

	health Health
}

// New builds a Writer backed by b, persisting into st per cfg's per-type
// batching parameters. fetch backs the writer's own orderbook maintainer
// registry, used to resync a book from REST when a delta sequence gaps.
func New(b bus.EventBus, st *store.Store, cfg Config, fetch orderbook.SnapshotFetcher) *Writer {
	q := NewQuarantine(cfg.QuarantineCapacity)
	return &Writer{
		bus:          b,
		quarantine:   q,
		trades:       NewTradeBatcher(st.Trades, cfg.Trade, q),
		orderbooks:   NewOrderbookBatcher(st.Orderbooks, cfg.Orderbook, q, cfg.OrderbookResyncBuffer, fetch),
		fundingRates: NewFundingRateBatcher(st.FundingRates, cfg.FundingRate, q),
		openInterest: NewOpenInterestBatcher(st.OpenInterest, cfg.OpenInterest, q),
		liquidations: NewLiquidationBatcher(st.Liquidations, cfg.Liquidation, q),
		lsrTop:       NewLSRTopBatcher(st.LSRTop, cfg.LSR, q),
		lsrAll:       NewLSRAllBatcher(st.LSRAll, cfg.LSR, q),
		volatility:   NewVolatilityBatcher(st.Volatility, cfg.Volatility, q),
	}
}

// Quarantine exposes the writer's shared quarantine buffer, e.g. for a
// health endpoint to report its depth or an operator tool to drain it.
func (w *Writer) Quarantine() *Quarantine {
	return w.quarantine
}

// componentName identifies the writer to a health.Registry's readiness
// gate.
const componentName = "writer"

// Health is the readiness-gate subset of health.Registry Start reports
// into, kept local for the same reason Metrics is: this package should
// not import internal/health directly.
type Health interface {
	SetComponent(name string, ready bool, message string)
}

// SetHealth wires h so Start reports the writer's readiness once every
// stream is subscribed.
func (w *Writer) SetHealth(h Health) {
	w.health = h
}

// SetMetrics wires m into every per-type batcher, so each one's queue
// depth and insert latency report under its own record-type
// label.
func (w *Writer) SetMetrics(m Metrics) {
	w.trades.SetMetrics(m, "trade")
	w.orderbooks.SetMetrics(m, "orderbook")
	w.fundingRates.SetMetrics(m, "funding_rate")
	w.openInterest.SetMetrics(m, "open_interest")
	w.liquidations.SetMetrics(m, "liquidation")
	w.lsrTop.SetMetrics(m, "lsr_top_position")
	w.lsrAll.SetMetrics(m, "lsr_all_account")
	w.volatility.SetMetrics(m, "volatility_index")
}

// Start subscribes one consumer group per record type. Subscriptions use
// the literal subject prefix every record of that type shares (see
// record.Envelope.Subject); the bus matches on prefix, so "orderbook."
// picks up both snapshot and delta kinds in one consumer.
func (w *Writer) Start(ctx context.Context) error {
	subs := []struct {
		prefix string
		handle batcher
	}{
		{"trade.", w.trades},
		{"orderbook.", w.orderbooks},
		{"funding_rate.", w.fundingRates},
		{"open_interest.", w.openInterest},
		{"liquidation.", w.liquidations},
		{"lsr_top_position.", w.lsrTop},
		{"lsr_all_account.", w.lsrAll},
		{"volatility_index.", w.volatility},
	}

	for _, s := range subs {
		b := s.handle
		if err := w.bus.Subscribe(ctx, s.prefix, consumerGroup, func(ctx context.Context, msg *bus.Message) error {
			return dispatch(ctx, b, msg)
		}); err != nil {
			wrapped := fmt.Errorf("writer: subscribe %s: %w", s.prefix, err)
			if w.health != nil {
				w.health.SetComponent(componentName, false, wrapped.Error())
			}
			return wrapped
		}
	}
	if w.health != nil {
		w.health.SetComponent(componentName, true, "subscribed to all record-type streams")
	}
	return nil
}

func dispatch(ctx context.Context, b batcher, msg *bus.Message) error {
	env, err := record.DecodeEnvelope(msg.Payload)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("writer: failed to decode envelope, redelivering")
		return err
	}
	return b.Add(ctx, env)
}

// Stop drains every batcher's buffered-but-not-yet-flushed items so
// nothing is lost on a graceful shutdown.
func (w *Writer) Stop(ctx context.Context) {
	w.trades.Flush(ctx)
	w.orderbooks.Flush(ctx)
	w.fundingRates.Flush(ctx)
	w.openInterest.Flush(ctx)
	w.liquidations.Flush(ctx)
	w.lsrTop.Flush(ctx)
	w.lsrAll.Flush(ctx)
	w.volatility.Flush(ctx)
}
