// Package lifecycle implements the pipeline's start/stop ordering:
// message bus binding, then publisher, then exchange clients and
// orderbook maintainers, then writer, then replicator; stop in reverse.
// Shutdown rides signal.NotifyContext(SIGINT, SIGTERM) behind a reusable
// ordered-component manager.
package lifecycle

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Component is one stage of the pipeline's start/stop ordering. Start
// must block only as long as needed to become ready (e.g. subscribing to
// streams), not for the component's entire running lifetime; long-running
// work belongs in a goroutine Start spawns and Stop waits to drain.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Health is the readiness-gate subset of health.Registry StartAll reports
// into, kept local so this package doesn't import internal/health.
type Health interface {
	SetComponent(name string, ready bool, message string)
}

// Manager starts components in registration order and stops them in
// reverse, keeping the pipeline's fixed ordering in one place.
type Manager struct {
	components []Component
	logger     zerolog.Logger
	health     Health
}

// NewManager builds an empty Manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// SetHealth wires h so StartAll/stopInOrder report each component's
// readiness as it starts, fails, or stops.
// Some components (writer, replicator) also report their own readiness
// under their own name once running; this covers every component,
// including the ones with no finer-grained signal of their own (bus
// binding, publisher, exchange clients, orderbook maintainers).
func (m *Manager) SetHealth(h Health) {
	m.health = h
}

// Register appends c to the start order. Call in pipeline order: bus
// binding, publisher, exchange clients / orderbook maintainers, writer,
// replicator.
func (m *Manager) Register(c Component) {
	m.components = append(m.components, c)
}

// StartAll starts every registered component in order. If one fails, every
// component already started is stopped in reverse before returning the
// error, so a failed startup never leaves a partial pipeline running.
func (m *Manager) StartAll(ctx context.Context) error {
	started := make([]Component, 0, len(m.components))
	for _, c := range m.components {
		m.logger.Info().Str("component", c.Name()).Msg("lifecycle: starting")
		if err := c.Start(ctx); err != nil {
			m.logger.Error().Err(err).Str("component", c.Name()).Msg("lifecycle: start failed, rolling back")
			if m.health != nil {
				m.health.SetComponent(c.Name(), false, err.Error())
			}
			m.stopInOrder(ctx, started)
			return fmt.Errorf("lifecycle: start %s: %w", c.Name(), err)
		}
		if m.health != nil {
			m.health.SetComponent(c.Name(), true, "started")
		}
		started = append(started, c)
	}
	return nil
}

// StopAll stops every registered component in reverse start order.
func (m *Manager) StopAll(ctx context.Context) {
	m.stopInOrder(ctx, m.components)
}

func (m *Manager) stopInOrder(ctx context.Context, components []Component) {
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		m.logger.Info().Str("component", c.Name()).Msg("lifecycle: stopping")
		if err := c.Stop(ctx); err != nil {
			m.logger.Warn().Err(err).Str("component", c.Name()).Msg("lifecycle: stop failed")
		}
		if m.health != nil {
			m.health.SetComponent(c.Name(), false, "stopped")
		}
	}
}

// Run starts every registered component, blocks until SIGINT/SIGTERM or
// parentCtx is canceled, then stops every component in reverse order with
// shutdownTimeout as a hard deadline.
func Run(parentCtx context.Context, m *Manager, shutdownTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.StartAll(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	m.logger.Info().Msg("lifecycle: shutdown signal received, stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.StopAll(stopCtx)
		close(done)
	}()

	select {
	case <-done:
	case <-stopCtx.Done():
		m.logger.Warn().Msg("lifecycle: shutdown deadline exceeded, forcing close")
	}
	return nil
}
