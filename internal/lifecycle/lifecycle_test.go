package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeComponent struct {
	name     string
	startErr error
	started  bool
	stopped  bool
}

func (c *fakeComponent) Name() string { return c.name }
func (c *fakeComponent) Start(ctx context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	return nil
}
func (c *fakeComponent) Stop(ctx context.Context) error {
	c.stopped = true
	return nil
}

func TestStartAllStartsInOrder(t *testing.T) {
	var order []string
	a := &recordingComponent{name: "bus", order: &order}
	b := &recordingComponent{name: "writer", order: &order}

	m := NewManager(zerolog.Nop())
	m.Register(a)
	m.Register(b)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "start:bus" || order[1] != "start:writer" {
		t.Fatalf("unexpected start order: %v", order)
	}
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	a := &fakeComponent{name: "bus"}
	b := &fakeComponent{name: "writer", startErr: errors.New("subscribe failed")}

	m := NewManager(zerolog.Nop())
	m.Register(a)
	m.Register(b)

	err := m.StartAll(context.Background())
	if err == nil {
		t.Fatal("expected an error from the failing component")
	}
	if !a.started {
		t.Fatal("expected the first component to have started")
	}
	if !a.stopped {
		t.Fatal("expected the first component to be rolled back after the second failed")
	}
	if b.started {
		t.Fatal("the failing component must not be marked started")
	}
}

func TestStopAllStopsInReverseOrder(t *testing.T) {
	var order []string
	a := &recordingComponent{name: "bus", order: &order}
	b := &recordingComponent{name: "writer", order: &order}

	m := NewManager(zerolog.Nop())
	m.Register(a)
	m.Register(b)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	order = nil // only inspect stop ordering below

	m.StopAll(context.Background())
	if len(order) != 2 || order[0] != "stop:writer" || order[1] != "stop:bus" {
		t.Fatalf("unexpected stop order: %v", order)
	}
}

type recordingComponent struct {
	name  string
	order *[]string
}

func (c *recordingComponent) Name() string { return c.name }
func (c *recordingComponent) Start(ctx context.Context) error {
	*c.order = append(*c.order, "start:"+c.name)
	return nil
}
func (c *recordingComponent) Stop(ctx context.Context) error {
	*c.order = append(*c.order, "stop:"+c.name)
	return nil
}

func TestRunStopsOnContextCancel(t *testing.T) {
	a := &fakeComponent{name: "bus"}
	m := NewManager(zerolog.Nop())
	m.Register(a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, m, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	if !a.stopped {
		t.Fatal("expected component to be stopped after shutdown")
	}
}
