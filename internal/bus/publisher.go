package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketprism/ingest/internal/netutil/circuit"
	"github.com/marketprism/ingest/internal/record"
)

// publishBreakerConfig bounds one bus.Publish attempt: five consecutive
// failures (e.g. every broker unreachable) trip the circuit so the
// publisher's own retry loop stops hammering a bus that is definitely
// down, rather than exhausting every attempt's backoff delay first.
func publishBreakerConfig() circuit.Config {
	return circuit.Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          10 * time.Second,
		RequestTimeout:   5 * time.Second,
	}
}

// FailureNotifier is notified when a publish exhausts its retries and
// falls back to the dead-letter queue. Kept as a small local interface
// rather than importing a health package directly, so this package has
// no dependency on how failures are ultimately surfaced.
type FailureNotifier interface {
	PublishFailed(subject string, err error)
}

// Metrics is the ack-latency subset of health.Registry Publish reports
// into, kept local for the same reason FailureNotifier is.
type Metrics interface {
	RecordAckLatency(subject string, d time.Duration)
}

// Publisher serializes canonical records onto the bus, computing the
// subject from the envelope itself and retrying publish with
// capped exponential backoff before giving up to the dead-letter queue.
type Publisher struct {
	bus        EventBus
	retry      RetryConfig
	deadLetter *DeadLetterQueue
	notifier   FailureNotifier
	metrics    Metrics
	breaker    *circuit.Breaker
}

// NewPublisher builds a publisher backed by bus, using retry as the
// backoff policy and deadLetter as the bounded failure buffer.
func NewPublisher(bus EventBus, retry RetryConfig, deadLetter *DeadLetterQueue) *Publisher {
	if deadLetter == nil {
		deadLetter = NewDeadLetterQueue(0)
	}
	return &Publisher{
		bus:        bus,
		retry:      retry,
		deadLetter: deadLetter,
		breaker:    circuit.NewBreaker("bus-publish", publishBreakerConfig()),
	}
}

// SetNotifier registers a hook invoked whenever a record is pushed to the
// dead-letter queue, so a health component can raise a PublishFailed
// alert condition.
func (p *Publisher) SetNotifier(n FailureNotifier) {
	p.notifier = n
}

// SetMetrics wires m so Publish reports the broker round-trip latency of
// every successful publish.
func (p *Publisher) SetMetrics(m Metrics) {
	p.metrics = m
}

// Publish serializes env, derives its subject and dedup key, and blocks
// until the bus acknowledges persistence or retries are exhausted.
func (p *Publisher) Publish(ctx context.Context, env record.Envelope) error {
	subject, err := env.Subject()
	if err != nil {
		return fmt.Errorf("bus: resolve subject: %w", err)
	}

	key, err := env.DedupKey()
	if err != nil {
		return fmt.Errorf("bus: resolve dedup key: %w", err)
	}

	if err := env.SetChecksum(); err != nil {
		return fmt.Errorf("bus: compute checksum: %w", err)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	start := time.Now()
	pubErr := p.publishWithRetry(ctx, subject, key, payload)
	if pubErr == nil {
		if p.metrics != nil {
			p.metrics.RecordAckLatency(subject, time.Since(start))
		}
		return nil
	}

	p.deadLetter.Push(DeadLetterEntry{
		Message:  Message{ID: uuid.New().String(), Subject: subject, Key: key, Payload: payload, Timestamp: time.Now()},
		Reason:   pubErr.Error(),
		FailedAt: time.Now(),
	})
	if p.notifier != nil {
		p.notifier.PublishFailed(subject, pubErr)
	}
	log.Error().Err(pubErr).Str("subject", subject).Str("key", key).Msg("publish exhausted retries, sent to deadletter")
	return fmt.Errorf("bus: publish %s after retries exhausted: %w", subject, pubErr)
}

func (p *Publisher) publishWithRetry(ctx context.Context, subject, key string, payload []byte) error {
	var lastErr error

	maxAttempts := p.retry.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.backoffDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.breaker.Call(ctx, func(ctx context.Context) error {
			return p.bus.Publish(ctx, subject, key, payload)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Str("subject", subject).Int("attempt", attempt+1).Msg("publish attempt failed")
	}
	return lastErr
}

func (p *Publisher) backoffDelay(attempt int) time.Duration {
	factor := p.retry.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	delay := time.Duration(float64(p.retry.InitialDelay) * pow(factor, attempt))
	if p.retry.MaxDelay > 0 && delay > p.retry.MaxDelay {
		delay = p.retry.MaxDelay
	}
	return delay
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// DeadLetter exposes the publisher's dead-letter queue, e.g. for an
// operator tool to drain and replay.
func (p *Publisher) DeadLetter() *DeadLetterQueue {
	return p.deadLetter
}
