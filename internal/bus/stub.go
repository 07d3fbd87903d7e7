package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StubBus is a minimal in-memory EventBus for tests and local runs.
type StubBus struct {
	config  BusConfig
	started bool
	mu      sync.RWMutex

	streams     map[string]*StreamInfo
	subscribers map[string][]MessageHandler
	messages    map[string][]*Message
	metrics     HealthMetrics
	deadLetter  *DeadLetterQueue
}

// NewStubBus creates a new stub event bus.
func NewStubBus(config BusConfig) (EventBus, error) {
	bus := &StubBus{
		config:      config,
		streams:     make(map[string]*StreamInfo),
		subscribers: make(map[string][]MessageHandler),
		messages:    make(map[string][]*Message),
		metrics: HealthMetrics{
			ConnectedBrokers:  1,
			ProducerLatencyMS: 0.1,
			ConsumerLatencyMS: 0.1,
		},
	}
	if config.DeadLetterConfig.Enabled {
		bus.deadLetter = NewDeadLetterQueue(config.DeadLetterConfig.Capacity)
	}
	return bus, nil
}

// Start initializes the stub bus.
func (s *StubBus) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true

	if s.config.MetricsCallback != nil {
		s.config.MetricsCallback("bus_started", 1, map[string]string{"type": "stub"})
	}
	log.Info().Str("client_id", s.config.ClientID).Msg("stub bus started")
	return nil
}

// Stop shuts down the stub bus.
func (s *StubBus) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	if s.config.MetricsCallback != nil {
		s.config.MetricsCallback("bus_stopped", 1, map[string]string{"type": "stub"})
	}
	log.Info().Msg("stub bus stopped")
	return nil
}

// Publish delivers a message to a subject immediately (in-process).
func (s *StubBus) Publish(ctx context.Context, subject, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrBusNotStarted
	}

	message := &Message{
		ID:        fmt.Sprintf("stub-%s-%d", subject, len(s.messages[subject])),
		Subject:   subject,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now(),
		Headers:   map[string]string{"producer": "stub"},
		Offset:    int64(len(s.messages[subject])),
	}

	s.messages[subject] = append(s.messages[subject], message)
	s.deliverToSubscribers(ctx, subject, message)

	if s.config.MetricsCallback != nil {
		s.config.MetricsCallback("bus_publish_total", 1, map[string]string{"subject": subject, "type": "stub"})
		s.config.MetricsCallback("bus_publish_bytes", len(payload), map[string]string{"subject": subject})
	}
	return nil
}

// PublishBatch publishes each message in order.
func (s *StubBus) PublishBatch(ctx context.Context, messages []Message) error {
	for _, msg := range messages {
		if err := s.Publish(ctx, msg.Subject, msg.Key, msg.Payload); err != nil {
			return err
		}
	}
	if s.config.MetricsCallback != nil {
		s.config.MetricsCallback("bus_publish_batch_total", len(messages), map[string]string{"type": "stub"})
	}
	return nil
}

// Subscribe registers a handler for messages on a subject.
func (s *StubBus) Subscribe(ctx context.Context, subject, group string, handler MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrBusNotStarted
	}

	subscriptionKey := fmt.Sprintf("%s:%s", subject, group)
	s.subscribers[subscriptionKey] = append(s.subscribers[subscriptionKey], handler)
	s.metrics.ActiveConsumers++

	if s.config.MetricsCallback != nil {
		s.config.MetricsCallback("bus_subscribe_total", 1, map[string]string{"subject": subject, "group": group, "type": "stub"})
	}
	log.Info().Str("subject", subject).Str("group", group).Msg("stub bus subscribed")
	return nil
}

// SubscribeWithFilter subscribes with message filtering.
func (s *StubBus) SubscribeWithFilter(ctx context.Context, subject, group string, filter MessageFilter, handler MessageHandler) error {
	filtered := func(ctx context.Context, message *Message) error {
		if filter(message) {
			return handler(ctx, message)
		}
		return nil
	}
	return s.Subscribe(ctx, subject, group, filtered)
}

// deliverToSubscribers fans a published message out to every subscription
// whose registered subject is a prefix of it, the same "orderbook." ->
// "orderbook.full.binance.btc-usdt" relationship a real NATS/Kafka subject
// wildcard would match.
func (s *StubBus) deliverToSubscribers(ctx context.Context, subject string, message *Message) {
	for subscriptionKey, handlers := range s.subscribers {
		idx := strings.LastIndex(subscriptionKey, ":")
		if idx < 0 {
			continue
		}
		prefix, group := subscriptionKey[:idx], subscriptionKey[idx+1:]
		if !strings.HasPrefix(subject, prefix) {
			continue
		}
		for _, handler := range handlers {
			go s.callHandler(ctx, handler, message, subject, group)
		}
	}
}

// callHandler retries a failing handler with the same capped exponential
// backoff as KafkaBus/PulsarBus before giving up to the dead-letter
// queue, so the stub backend exercises the same redelivery path the
// real brokers do rather than dropping a failed message after one attempt.
func (s *StubBus) callHandler(ctx context.Context, handler MessageHandler, message *Message, subject, group string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("subject", subject).Str("group", group).Msg("stub bus handler panic")
		}
	}()

	if err := s.callHandlerWithRetry(ctx, handler, message); err != nil {
		if s.config.MetricsCallback != nil {
			s.config.MetricsCallback("bus_handler_error_total", 1, map[string]string{"subject": subject, "group": group, "error": err.Error()})
		}
		log.Error().Err(err).Str("subject", subject).Str("group", group).Msg("stub bus handler error")
		return
	}
	if s.config.MetricsCallback != nil {
		s.config.MetricsCallback("bus_consume_total", 1, map[string]string{"subject": subject, "group": group})
	}
}

func (s *StubBus) callHandlerWithRetry(ctx context.Context, handler MessageHandler, message *Message) error {
	var lastErr error

	for attempt := 0; attempt <= s.config.RetryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(s.config.RetryConfig.InitialDelay) * pow(s.config.RetryConfig.BackoffFactor, attempt))
			if delay > s.config.RetryConfig.MaxDelay {
				delay = s.config.RetryConfig.MaxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := handler(ctx, message); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if s.config.MetricsCallback != nil {
			s.config.MetricsCallback("bus_retries_total", 1, map[string]string{"subject": message.Subject, "attempt": fmt.Sprintf("%d", attempt+1)})
		}
	}

	if s.config.DeadLetterConfig.Enabled && s.deadLetter != nil {
		s.deadLetter.Push(DeadLetterEntry{Message: *message, Reason: lastErr.Error(), FailedAt: time.Now()})
		if s.config.MetricsCallback != nil {
			s.config.MetricsCallback("bus_dlq_total", 1, map[string]string{"subject": message.Subject})
		}
	}
	return lastErr
}

// CreateStream registers a new stream.
func (s *StubBus) CreateStream(ctx context.Context, config StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrBusNotStarted
	}
	if _, exists := s.streams[config.Name]; exists {
		return fmt.Errorf("stream %s already exists", config.Name)
	}

	s.streams[config.Name] = &StreamInfo{
		Name:      config.Name,
		Config:    map[string]string{"type": "stub"},
		CreatedAt: time.Now(),
	}
	s.metrics.ActiveStreams++

	if s.config.MetricsCallback != nil {
		s.config.MetricsCallback("bus_stream_created", 1, map[string]string{"stream": config.Name, "type": "stub"})
	}
	log.Info().Str("stream", config.Name).Strs("subjects", config.Subjects).Msg("stub bus stream created")
	return nil
}

// DeleteStream removes a stream and its subscribers.
func (s *StubBus) DeleteStream(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrBusNotStarted
	}
	if _, exists := s.streams[name]; !exists {
		return ErrStreamNotFound
	}

	delete(s.streams, name)
	delete(s.messages, name)
	s.metrics.ActiveStreams--

	for key := range s.subscribers {
		if len(key) > len(name) && key[:len(name)] == name && key[len(name)] == ':' {
			delete(s.subscribers, key)
			s.metrics.ActiveConsumers--
		}
	}
	return nil
}

// GetStreamInfo returns metadata and live stats for a stream.
func (s *StubBus) GetStreamInfo(ctx context.Context, name string) (*StreamInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return nil, ErrBusNotStarted
	}
	info, exists := s.streams[name]
	if !exists {
		return nil, ErrStreamNotFound
	}

	messages := s.messages[name]
	var totalBytes int64
	for _, msg := range messages {
		totalBytes += int64(len(msg.Payload))
	}

	infoCopy := *info
	infoCopy.Stats = StreamStats{MessageCount: int64(len(messages)), ByteSize: totalBytes}
	return &infoCopy, nil
}

// Health returns the current health status.
func (s *StubBus) Health() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := HealthStatus{Healthy: s.started, Metrics: s.metrics, LastCheck: time.Now()}
	if s.started {
		status.Status = "running"
	} else {
		status.Status = "stopped"
		status.Errors = append(status.Errors, "bus not started")
	}
	return status
}

// AllMessages returns all messages published to a subject (test helper).
func (s *StubBus) AllMessages(subject string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[subject]
	result := make([]*Message, len(messages))
	copy(result, messages)
	return result
}

// DefaultStubConfig returns a minimal config for tests and local runs.
func DefaultStubConfig() BusConfig {
	return BusConfig{
		Brokers:        []string{"stub://localhost:0"},
		ClientID:       "marketprism-stub-client",
		ConnectTimeout: 1 * time.Second,
		ProducerConfig: ProducerConfig{
			RequiredAcks:    1,
			CompressionType: "none",
			MaxMessageBytes: 1048576,
			BatchSize:       100,
			LingerMS:        1,
		},
		ConsumerConfig: ConsumerConfig{
			GroupID:         "ingest-consumers",
			Durable:         true,
			ExplicitAck:     true,
			AutoOffsetReset: "latest",
			MaxPollRecords:  100,
		},
		RetryConfig: RetryConfig{
			MaxRetries:    5,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		DeadLetterConfig: DeadLetterConfig{
			Enabled:       true,
			Capacity:      1024,
			RetentionTime: 24 * time.Hour,
		},
		MetricsEnabled: true,
	}
}
