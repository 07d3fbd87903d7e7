package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marketprism/ingest/internal/record"
)

func tradeEnvelope(id string) record.Envelope {
	trade := record.Trade{Meta: record.Meta{Exchange: "binance", Symbol: "BTC-USDT"}, TradeID: id}
	return record.NewEnvelope(record.DataTypeTrade, trade.Meta, trade)
}

func TestPublisher_PublishSucceeds(t *testing.T) {
	b, _ := NewEventBus(BusTypeStub, DefaultStubConfig())
	ctx := context.Background()
	b.Start(ctx)
	defer b.Stop(ctx)

	p := NewPublisher(b, RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}, NewDeadLetterQueue(8))

	if err := p.Publish(ctx, tradeEnvelope("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stub := b.(*StubBus)
	msgs := stub.AllMessages("trade.binance.btc-usdt")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}
}

type alwaysFailBus struct{ calls int }

func (f *alwaysFailBus) Publish(ctx context.Context, subject, key string, payload []byte) error {
	f.calls++
	return errors.New("broker unreachable")
}
func (f *alwaysFailBus) Subscribe(ctx context.Context, subject, group string, handler MessageHandler) error {
	return nil
}
func (f *alwaysFailBus) Start(ctx context.Context) error { return nil }
func (f *alwaysFailBus) Stop(ctx context.Context) error  { return nil }
func (f *alwaysFailBus) Health() HealthStatus            { return HealthStatus{} }
func (f *alwaysFailBus) PublishBatch(ctx context.Context, messages []Message) error {
	return nil
}
func (f *alwaysFailBus) SubscribeWithFilter(ctx context.Context, subject, group string, filter MessageFilter, handler MessageHandler) error {
	return nil
}
func (f *alwaysFailBus) CreateStream(ctx context.Context, config StreamConfig) error { return nil }
func (f *alwaysFailBus) DeleteStream(ctx context.Context, name string) error         { return nil }
func (f *alwaysFailBus) GetStreamInfo(ctx context.Context, name string) (*StreamInfo, error) {
	return nil, nil
}

type capturingNotifier struct {
	subject string
	err     error
}

func (n *capturingNotifier) PublishFailed(subject string, err error) {
	n.subject = subject
	n.err = err
}

func TestPublisher_ExhaustsRetriesAndDeadLetters(t *testing.T) {
	failing := &alwaysFailBus{}
	dlq := NewDeadLetterQueue(8)
	p := NewPublisher(failing, RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, dlq)

	notifier := &capturingNotifier{}
	p.SetNotifier(notifier)

	err := p.Publish(context.Background(), tradeEnvelope("2"))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if failing.calls != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", failing.calls)
	}
	if dlq.Len() != 1 {
		t.Fatalf("expected 1 deadlettered entry, got %d", dlq.Len())
	}
	if notifier.subject != "trade.binance.btc-usdt" {
		t.Fatalf("expected notifier to capture subject, got %q", notifier.subject)
	}
}
