package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		RequestTimeout:   20 * time.Millisecond,
	}
}

func TestBreaker_ClosedState(t *testing.T) {
	b := NewBreaker("test", testConfig())

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_OpenOnFailures(t *testing.T) {
	b := NewBreaker("test", testConfig())
	wantErr := errors.New("boom")

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), func(ctx context.Context) error { return wantErr })
	}

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after threshold failures", b.State())
	}

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	b := NewBreaker("test", cfg)
	wantErr := errors.New("boom")

	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = b.Call(context.Background(), func(ctx context.Context) error { return wantErr })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(cfg.Timeout * 2)

	for i := 0; i < cfg.SuccessThreshold; i++ {
		if err := b.Call(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("unexpected error during half-open recovery: %v", err)
		}
	}

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after recovery", b.State())
	}
}

func TestBreaker_RequestTimeout(t *testing.T) {
	b := NewBreaker("test", testConfig())

	err := b.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
}

func TestManager_CallWithoutRegisteredBreaker(t *testing.T) {
	m := NewManager()
	err := m.Call(context.Background(), "unregistered", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestManager_IsHealthy(t *testing.T) {
	m := NewManager()
	m.AddProvider("exchange-a", testConfig())

	if !m.IsHealthy() {
		t.Fatal("expected manager to be healthy with no requests yet")
	}

	wantErr := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = m.Call(context.Background(), "exchange-a", func(ctx context.Context) error { return wantErr })
	}

	if m.IsHealthy() {
		t.Fatal("expected manager to be unhealthy after breaker opened")
	}
	if len(m.UnhealthyProviders()) != 1 {
		t.Fatalf("expected one unhealthy provider, got %d", len(m.UnhealthyProviders()))
	}
}
