package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/orderbook"
	"github.com/marketprism/ingest/internal/record"
)

type fakeClient struct {
	ch chan exchange.RawMessage
}

func newFakeClient() *fakeClient { return &fakeClient{ch: make(chan exchange.RawMessage, 8)} }

func (c *fakeClient) Start(ctx context.Context) error      { return nil }
func (c *fakeClient) Stop(ctx context.Context) error       { close(c.ch); return nil }
func (c *fakeClient) Messages() <-chan exchange.RawMessage { return c.ch }
func (c *fakeClient) State() exchange.State                { return exchange.StateStreaming }

type fakeNormalizer struct {
	failOn []byte
}

func (n *fakeNormalizer) Exchange() string { return "fake" }
func (n *fakeNormalizer) Normalize(dataType record.DataType, raw []byte) (record.Envelope, error) {
	if string(raw) == string(n.failOn) {
		return record.Envelope{}, errors.New("fake: cannot parse")
	}
	trade := record.Trade{Meta: record.Meta{Exchange: "fake", Symbol: "BTC-USDT"}, TradeID: string(raw)}
	return record.NewEnvelope(record.DataTypeTrade, trade.Meta, trade), nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []record.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, env record.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, env)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func TestCollectorPublishesNormalizedFrames(t *testing.T) {
	client := newFakeClient()
	pub := &recordingPublisher{}
	c := NewCollector([]Source{{Exchange: "fake", Session: client, Normalizer: &fakeNormalizer{}}}, pub, zerolog.Nop(), nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	client.ch <- exchange.RawMessage{DataType: record.DataTypeTrade, Payload: []byte("t1")}
	client.ch <- exchange.RawMessage{DataType: record.DataTypeTrade, Payload: []byte("t2")}

	deadline := time.Now().Add(time.Second)
	for pub.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if pub.count() != 2 {
		t.Fatalf("expected 2 published envelopes, got %d", pub.count())
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestCollectorDropsUnnormalizableFrames(t *testing.T) {
	client := newFakeClient()
	pub := &recordingPublisher{}
	c := NewCollector([]Source{{Exchange: "fake", Session: client, Normalizer: &fakeNormalizer{failOn: []byte("bad")}}}, pub, zerolog.Nop(), nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	client.ch <- exchange.RawMessage{DataType: record.DataTypeTrade, Payload: []byte("bad")}
	client.ch <- exchange.RawMessage{DataType: record.DataTypeTrade, Payload: []byte("good")}

	deadline := time.Now().Add(time.Second)
	for pub.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if pub.count() != 1 {
		t.Fatalf("expected only the valid frame to be published, got %d", pub.count())
	}

	_ = c.Stop(context.Background())
}

type orderbookNormalizer struct{}

func (n *orderbookNormalizer) Exchange() string { return "fake" }
func (n *orderbookNormalizer) Normalize(dataType record.DataType, raw []byte) (record.Envelope, error) {
	meta := record.Meta{Exchange: "fake", Symbol: "BTC-USDT"}
	switch string(raw) {
	case "snap":
		snap := record.OrderbookSnapshot{
			Meta:         meta,
			LastUpdateID: 10,
			Bids:         []record.PriceLevel{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}},
			Asks:         []record.PriceLevel{{Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(1)}},
		}
		return record.NewEnvelope(record.DataTypeOrderbookSnapshot, meta, snap), nil
	case "gap-delta":
		delta := record.OrderbookDelta{Meta: meta, FirstUpdateID: 99, LastUpdateID: 100}
		return record.NewEnvelope(record.DataTypeOrderbookDelta, meta, delta), nil
	default:
		delta := record.OrderbookDelta{
			Meta: meta, FirstUpdateID: 11, LastUpdateID: 12,
			BidChanges: []record.LevelChange{{Price: decimal.NewFromInt(99), Quantity: decimal.NewFromInt(2)}},
		}
		return record.NewEnvelope(record.DataTypeOrderbookDelta, meta, delta), nil
	}
}

// TestCollectorRoutesOrderbookThroughMaintainer covers the maintainer sitting between
// the normalizer and the publisher: a snapshot publishes as
// OrderbookKindSnapshot and a cleanly-chaining delta that follows it
// publishes the maintainer's merged book as OrderbookKindFull rather than
// the bare delta.
func TestCollectorRoutesOrderbookThroughMaintainer(t *testing.T) {
	client := newFakeClient()
	pub := &recordingPublisher{}
	registry := orderbook.NewRegistry(16, nil)
	c := NewCollector([]Source{{Exchange: "fake", Session: client, Normalizer: &orderbookNormalizer{}}}, pub, zerolog.Nop(), registry)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	client.ch <- exchange.RawMessage{DataType: record.DataTypeOrderbookSnapshot, Payload: []byte("snap")}
	client.ch <- exchange.RawMessage{DataType: record.DataTypeOrderbookDelta, Payload: []byte("delta")}

	deadline := time.Now().Add(time.Second)
	for pub.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if pub.count() != 2 {
		t.Fatalf("expected 2 published envelopes, got %d", pub.count())
	}

	pub.mu.Lock()
	kinds := []record.OrderbookKind{pub.published[0].OrderbookKind, pub.published[1].OrderbookKind}
	pub.mu.Unlock()
	if kinds[0] != record.OrderbookKindSnapshot {
		t.Fatalf("first published kind = %v, want snapshot", kinds[0])
	}
	if kinds[1] != record.OrderbookKindFull {
		t.Fatalf("second published kind = %v, want full", kinds[1])
	}

	_ = c.Stop(context.Background())
}

// TestCollectorPublishesPureDeltaWhenMaintainerCannotPlaceIt covers the
// unsynced/gap path: a delta the maintainer can't merge still reaches the
// bus, unmerged, as OrderbookKindPureDelta.
func TestCollectorPublishesPureDeltaWhenMaintainerCannotPlaceIt(t *testing.T) {
	client := newFakeClient()
	pub := &recordingPublisher{}
	registry := orderbook.NewRegistry(16, nil)
	c := NewCollector([]Source{{Exchange: "fake", Session: client, Normalizer: &orderbookNormalizer{}}}, pub, zerolog.Nop(), registry)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// No snapshot fetcher is wired, so the maintainer can never resync:
	// every delta comes back ErrSnapshotTimeout and must still publish.
	client.ch <- exchange.RawMessage{DataType: record.DataTypeOrderbookDelta, Payload: []byte("gap-delta")}

	deadline := time.Now().Add(time.Second)
	for pub.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 published envelope, got %d", pub.count())
	}

	pub.mu.Lock()
	kind := pub.published[0].OrderbookKind
	pub.mu.Unlock()
	if kind != record.OrderbookKindPureDelta {
		t.Fatalf("published kind = %v, want pure_delta", kind)
	}

	_ = c.Stop(context.Background())
}
