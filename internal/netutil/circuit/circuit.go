// Package circuit wraps the outbound network calls that reconnect-and-retry
// in a loop (exchange dials, bus publishes) in a circuit breaker, so a peer
// that is definitely down trips fast instead of being hammered through every
// retry's backoff. It is a thin adapter over github.com/sony/gobreaker
// keeping a Call(ctx, fn)-shaped API with per-breaker stats.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker is open or the half-open
// trial-request budget is exhausted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrRequestTimeout is returned when an individual call exceeds its
// RequestTimeout.
var ErrRequestTimeout = errors.New("request timeout")

// State is the classic three-value circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// Config carries the breaker thresholds, mapped
// onto gobreaker.Settings by NewBreaker.
type Config struct {
	FailureThreshold int           // Consecutive failures to open the circuit
	SuccessThreshold int           // Consecutive half-open successes to close it
	Timeout          time.Duration // Time the circuit stays open before trialing half-open
	RequestTimeout   time.Duration // Per-call timeout
}

// Breaker wraps a gobreaker.CircuitBreaker behind a Call(ctx, fn)
// contract and per-call timeout handling.
type Breaker struct {
	mu     sync.Mutex
	name   string
	config Config
	cb     *gobreaker.CircuitBreaker

	totalRequests int64
	totalTimeouts int64
}

// NewBreaker builds a breaker named name with the given thresholds.
func NewBreaker(name string, config Config) *Breaker {
	b := &Breaker{name: name, config: config}
	b.cb = newGobreaker(name, config)
	return b
}

func newGobreaker(name string, config Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.SuccessThreshold),
		Interval:    0, // never reset closed-state counts on a timer; only ConsecutiveFailures matters
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.FailureThreshold)
		},
	})
}

// Call executes fn if the breaker allows it, enforcing config.RequestTimeout
// and feeding the result back into the breaker's trip/reset logic.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	b.totalRequests++
	b.mu.Unlock()

	timeoutCtx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	_, err := b.cb.Execute(func() (interface{}, error) {
		done := make(chan error, 1)
		go func() { done <- fn(timeoutCtx) }()

		select {
		case err := <-done:
			return nil, err
		case <-timeoutCtx.Done():
			b.mu.Lock()
			b.totalTimeouts++
			b.mu.Unlock()
			return nil, ErrRequestTimeout
		}
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return fromGobreakerState(b.cb.State())
}

// Stats reports current breaker statistics.
func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()
	b.mu.Lock()
	timeouts := b.totalTimeouts
	b.mu.Unlock()

	successRate := float64(0)
	if counts.Requests > 0 {
		successRate = float64(counts.TotalSuccesses) / float64(counts.Requests)
	}

	return Stats{
		State:                fromGobreakerState(b.cb.State()),
		TotalRequests:        int64(counts.Requests),
		TotalSuccesses:       int64(counts.TotalSuccesses),
		TotalFailures:        int64(counts.TotalFailures),
		TotalTimeouts:        timeouts,
		ConsecutiveFailures:  int(counts.ConsecutiveFailures),
		ConsecutiveSuccesses: int(counts.ConsecutiveSuccesses),
		SuccessRate:          successRate,
	}
}

// Reset recreates the underlying breaker in the closed state, since
// gobreaker exposes no direct reset.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = newGobreaker(b.name, b.config)
	b.totalRequests = 0
	b.totalTimeouts = 0
}

// Stats is a point-in-time snapshot of breaker counters.
type Stats struct {
	State                State   `json:"state"`
	TotalRequests        int64   `json:"total_requests"`
	TotalSuccesses       int64   `json:"total_successes"`
	TotalFailures        int64   `json:"total_failures"`
	TotalTimeouts        int64   `json:"total_timeouts"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	SuccessRate          float64 `json:"success_rate"`
}

// IsHealthy reports whether the breaker is closed with an acceptable
// success rate.
func (s Stats) IsHealthy() bool {
	return s.State == StateClosed && (s.TotalRequests == 0 || s.SuccessRate >= 0.9)
}

// Manager keeps one named breaker per outbound dependency (one per
// exchange session, one for the bus, one per store pool).
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates an empty breaker manager.
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*Breaker)}
}

// AddProvider registers a breaker for name with the given config.
func (m *Manager) AddProvider(name string, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[name] = NewBreaker(name, config)
}

// GetBreaker returns the breaker registered for name, if any.
func (m *Manager) GetBreaker(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[name]
	return b, ok
}

// Call runs fn through the named breaker, or directly if none is
// registered for that name.
func (m *Manager) Call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b, ok := m.GetBreaker(name)
	if !ok {
		return fn(ctx)
	}
	return b.Call(ctx, fn)
}

// Stats returns a snapshot of every registered breaker.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]Stats, len(m.breakers))
	for name, b := range m.breakers {
		stats[name] = b.Stats()
	}
	return stats
}

// IsHealthy reports whether every registered breaker is healthy.
func (m *Manager) IsHealthy() bool {
	for _, stat := range m.Stats() {
		if !stat.IsHealthy() {
			return false
		}
	}
	return true
}

// UnhealthyProviders returns a human-readable list of unhealthy breakers.
func (m *Manager) UnhealthyProviders() []string {
	var unhealthy []string
	for name, stat := range m.Stats() {
		if !stat.IsHealthy() {
			unhealthy = append(unhealthy, fmt.Sprintf("%s (state: %s, success: %.1f%%)", name, stat.State, stat.SuccessRate*100))
		}
	}
	return unhealthy
}
