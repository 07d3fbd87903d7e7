package bus

import (
	"context"
	"testing"
	"time"
)

func TestStubBus_BasicOperations(t *testing.T) {
	config := DefaultStubConfig()
	b, err := NewEventBus(BusTypeStub, config)
	if err != nil {
		t.Fatalf("failed to create stub bus: %v", err)
	}

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("failed to start bus: %v", err)
	}
	defer b.Stop(ctx)

	if health := b.Health(); !health.Healthy {
		t.Errorf("expected bus to be healthy, got: %+v", health)
	}

	streamConfig := StreamConfig{
		Name:           "ORDERBOOK_FULL",
		Subjects:       []string{"orderbook.full.*"},
		RetentionBytes: 1 << 30,
		MaxAge:         24 * time.Hour,
		ConsumerCount:  10,
	}
	if err := b.CreateStream(ctx, streamConfig); err != nil {
		t.Fatalf("failed to create stream: %v", err)
	}

	info, err := b.GetStreamInfo(ctx, "ORDERBOOK_FULL")
	if err != nil {
		t.Fatalf("failed to get stream info: %v", err)
	}
	if info.Name != "ORDERBOOK_FULL" {
		t.Errorf("expected stream name ORDERBOOK_FULL, got %s", info.Name)
	}
}

func TestStubBus_PublishDeliversToSubscriber(t *testing.T) {
	b, _ := NewEventBus(BusTypeStub, DefaultStubConfig())
	ctx := context.Background()
	b.Start(ctx)
	defer b.Stop(ctx)

	received := make(chan *Message, 1)
	err := b.Subscribe(ctx, "trade.binance.btc-usdt", "writers", func(ctx context.Context, m *Message) error {
		received <- m
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := b.Publish(ctx, "trade.binance.btc-usdt", "binance:btc-usdt:123", []byte(`{"trade_id":"123"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case m := <-received:
		if m.Subject != "trade.binance.btc-usdt" {
			t.Errorf("subject = %s, want trade.binance.btc-usdt", m.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}

func TestStubBus_PublishBeforeStartFails(t *testing.T) {
	b, _ := NewEventBus(BusTypeStub, DefaultStubConfig())
	err := b.Publish(context.Background(), "trade.binance.btc-usdt", "key", []byte("{}"))
	if err != ErrBusNotStarted {
		t.Fatalf("expected ErrBusNotStarted, got %v", err)
	}
}
