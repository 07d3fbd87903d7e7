// Package ingest wires the per-venue exchange sessions to the normalizer
// registry and publishes the resulting envelopes through bus.Publisher,
// one long-lived drain loop per exchange source.
package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/normalize"
	"github.com/marketprism/ingest/internal/orderbook"
	"github.com/marketprism/ingest/internal/record"
)

// Source pairs one exchange's live session with the normalizer that
// understands its wire format. Session is exchange.Client rather than the
// concrete *exchange.Session so tests can substitute an in-memory client.
type Source struct {
	Exchange   string
	Session    exchange.Client
	Normalizer normalize.Normalizer
}

// publisher is the subset of bus.Publisher the collector needs, kept as
// a local interface so tests can substitute a recorder without depending
// on a live bus.
type publisher interface {
	Publish(ctx context.Context, env record.Envelope) error
}

// Collector is a lifecycle.Component: it drains every Source's Messages
// channel, normalizes each raw frame, and publishes the canonical
// envelope. One failed normalization drops the single frame rather than
// the whole source; a bad message must never wedge a long-running
// consumer.
type Collector struct {
	sources    []Source
	publisher  publisher
	logger     zerolog.Logger
	orderbooks *orderbook.Registry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewCollector builds a collector over every source, publishing through
// pub. orderbooks is the maintainer registry, sitting between the
// normalizer and the publisher: every normalized orderbook envelope is
// run through it before anything is published. A nil registry skips book
// maintenance entirely and publishes normalized orderbook envelopes
// unmodified, which test sources that never emit orderbook data can rely
// on.
func NewCollector(sources []Source, pub publisher, logger zerolog.Logger, orderbooks *orderbook.Registry) *Collector {
	return &Collector{sources: sources, publisher: pub, logger: logger, orderbooks: orderbooks}
}

func (c *Collector) Name() string { return "ingest-collector" }

// Start begins each source's session and spawns one drain goroutine per
// source. It returns as soon as every session's Start has returned, which
// is immediate: a session dials in the background, so Start does not wait
// for any connection, nor for streaming to end.
func (c *Collector) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for _, src := range c.sources {
		if err := src.Session.Start(runCtx); err != nil {
			cancel()
			return err
		}
		c.wg.Add(1)
		go c.drain(runCtx, src)
	}
	return nil
}

// Stop cancels every session's run loop and waits for the drain
// goroutines to exit.
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Collector) drain(ctx context.Context, src Source) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-src.Session.Messages():
			if !ok {
				return
			}
			env, err := src.Normalizer.Normalize(raw.DataType, raw.Payload)
			if err != nil {
				c.logger.Warn().Err(err).Str("exchange", src.Exchange).Msg("ingest: drop unnormalizable frame")
				continue
			}

			switch env.DataType {
			case record.DataTypeOrderbookSnapshot, record.DataTypeOrderbookDelta:
				c.publishOrderbook(ctx, src, env)
			default:
				if err := c.publisher.Publish(ctx, env); err != nil {
					c.logger.Error().Err(err).Str("exchange", src.Exchange).Msg("ingest: publish failed")
				}
			}
		}
	}
}

// publishOrderbook runs a normalized orderbook envelope through the book
// maintainer before publishing. A snapshot always publishes as
// OrderbookKindSnapshot and resets the maintainer's book. A
// delta that chains cleanly onto the maintainer's book publishes the
// merged full book as OrderbookKindFull instead of the bare delta — that
// is the "periodic full-book republish" subject, now fed continuously
// rather than periodically, which keeps a downstream consumer that only
// wants book state from ever needing to replay deltas itself. A delta the
// maintainer can't yet place (no snapshot applied, or a sequence gap
// mid-resync) still needs to reach the bus, so it publishes unmerged as
// OrderbookKindPureDelta: exactly the envelope.go contract for that kind,
// "the same delta re-published unmerged for consumers that want the raw
// wire change without any maintainer-side state".
func (c *Collector) publishOrderbook(ctx context.Context, src Source, env record.Envelope) {
	if c.orderbooks == nil {
		if err := c.publisher.Publish(ctx, env); err != nil {
			c.logger.Error().Err(err).Str("exchange", src.Exchange).Msg("ingest: publish failed")
		}
		return
	}

	m := c.orderbooks.Get(env.Exchange, env.Symbol)

	switch env.DataType {
	case record.DataTypeOrderbookSnapshot:
		snap, ok := env.Payload.(record.OrderbookSnapshot)
		if !ok {
			c.logger.Error().Str("exchange", src.Exchange).Msg("ingest: orderbook snapshot envelope carries unexpected payload type")
			return
		}
		m.HandleSnapshot(snap)
		env.OrderbookKind = record.OrderbookKindSnapshot
		if err := c.publisher.Publish(ctx, env); err != nil {
			c.logger.Error().Err(err).Str("exchange", src.Exchange).Msg("ingest: publish failed")
		}

	case record.DataTypeOrderbookDelta:
		delta, ok := env.Payload.(record.OrderbookDelta)
		if !ok {
			c.logger.Error().Str("exchange", src.Exchange).Msg("ingest: orderbook delta envelope carries unexpected payload type")
			return
		}

		if err := m.HandleDelta(ctx, delta); err != nil {
			if !errors.Is(err, orderbook.ErrSequenceGap) && !errors.Is(err, orderbook.ErrSnapshotTimeout) {
				c.logger.Error().Err(err).Str("exchange", src.Exchange).Msg("ingest: orderbook maintainer failed")
			}
			env.OrderbookKind = record.OrderbookKindPureDelta
			if err := c.publisher.Publish(ctx, env); err != nil {
				c.logger.Error().Err(err).Str("exchange", src.Exchange).Msg("ingest: publish failed")
			}
			return
		}

		full := m.Snapshot()
		fullSnap := record.OrderbookSnapshot{
			Meta:         env.Meta,
			LastUpdateID: full.LastUpdateID,
			Bids:         full.Bids,
			Asks:         full.Asks,
		}
		if bid, ask := full.BestBidAsk(); bid != nil && ask != nil {
			fullSnap.BestBidPrice, fullSnap.BestBidQty = bid.Price, bid.Quantity
			fullSnap.BestAskPrice, fullSnap.BestAskQty = ask.Price, ask.Quantity
		}
		fullEnv := record.NewEnvelope(record.DataTypeOrderbookSnapshot, env.Meta, fullSnap)
		fullEnv.OrderbookKind = record.OrderbookKindFull
		if err := c.publisher.Publish(ctx, fullEnv); err != nil {
			c.logger.Error().Err(err).Str("exchange", src.Exchange).Msg("ingest: publish failed")
		}
	}
}
