package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// PulsarBus is a stdlib-simulated EventBus standing in for a real Apache
// Pulsar client, namespacing subjects the way Pulsar's persistent topic
// naming does (tenant/namespace/topic).
type PulsarBus struct {
	config  BusConfig
	started bool
	mu      sync.RWMutex

	streams     map[string]*StreamInfo
	subscribers map[string][]MessageHandler
	messages    map[string][]*Message
	metrics     HealthMetrics
	deadLetter  *DeadLetterQueue
}

// NewPulsarBus creates a new Pulsar-shaped event bus.
func NewPulsarBus(config BusConfig) (EventBus, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("pulsar brokers must be specified")
	}

	return &PulsarBus{
		config:      config,
		streams:     make(map[string]*StreamInfo),
		subscribers: make(map[string][]MessageHandler),
		messages:    make(map[string][]*Message),
		metrics:     HealthMetrics{ConnectedBrokers: len(config.Brokers)},
		deadLetter:  NewDeadLetterQueue(config.DeadLetterConfig.Capacity),
	}, nil
}

func (p *PulsarBus) persistentTopic(subject string) string {
	return fmt.Sprintf("persistent://marketprism/ingest/%s", subject)
}

// Start connects to the configured Pulsar service URL(s).
func (p *PulsarBus) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	p.started = true

	if p.config.MetricsCallback != nil {
		p.config.MetricsCallback("bus_started", 1, map[string]string{"type": "pulsar", "client_id": p.config.ClientID})
	}
	return nil
}

// Stop shuts down the Pulsar bus.
func (p *PulsarBus) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.started = false

	if p.config.MetricsCallback != nil {
		p.config.MetricsCallback("bus_stopped", 1, map[string]string{"type": "pulsar"})
	}
	return nil
}

// Publish sends a message to a subject's persistent topic.
func (p *PulsarBus) Publish(ctx context.Context, subject, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrBusNotStarted
	}

	message := &Message{
		ID:        fmt.Sprintf("%s-%d", p.persistentTopic(subject), len(p.messages[subject])),
		Subject:   subject,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now(),
		Offset:    int64(len(p.messages[subject])),
	}
	p.messages[subject] = append(p.messages[subject], message)

	if p.config.MetricsCallback != nil {
		p.config.MetricsCallback("bus_publish_total", 1, map[string]string{"subject": subject, "type": "pulsar"})
		p.config.MetricsCallback("bus_publish_bytes", len(payload), map[string]string{"subject": subject})
	}

	select {
	case <-time.After(time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// PublishBatch sends multiple messages.
func (p *PulsarBus) PublishBatch(ctx context.Context, messages []Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrBusNotStarted
	}

	totalBytes := 0
	for i := range messages {
		message := &messages[i]
		message.ID = fmt.Sprintf("batch-%s-%d", message.Subject, i)
		message.Timestamp = time.Now()
		message.Offset = int64(len(p.messages[message.Subject]))
		p.messages[message.Subject] = append(p.messages[message.Subject], message)
		totalBytes += len(message.Payload)
	}

	if p.config.MetricsCallback != nil {
		p.config.MetricsCallback("bus_publish_batch_total", len(messages), map[string]string{"type": "pulsar"})
		p.config.MetricsCallback("bus_publish_batch_bytes", totalBytes, map[string]string{"type": "pulsar"})
	}
	return nil
}

// Subscribe registers a handler on a shared subscription for a subject.
func (p *PulsarBus) Subscribe(ctx context.Context, subject, group string, handler MessageHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrBusNotStarted
	}

	subscriptionKey := fmt.Sprintf("%s:%s", subject, group)
	p.subscribers[subscriptionKey] = append(p.subscribers[subscriptionKey], handler)
	p.metrics.ActiveConsumers++

	go p.consumeMessages(ctx, subject, group, handler)

	if p.config.MetricsCallback != nil {
		p.config.MetricsCallback("bus_subscribe_total", 1, map[string]string{"subject": subject, "group": group, "type": "pulsar"})
	}
	return nil
}

// SubscribeWithFilter subscribes with message filtering.
func (p *PulsarBus) SubscribeWithFilter(ctx context.Context, subject, group string, filter MessageFilter, handler MessageHandler) error {
	filtered := func(ctx context.Context, message *Message) error {
		if filter(message) {
			return handler(ctx, message)
		}
		return nil
	}
	return p.Subscribe(ctx, subject, group, filtered)
}

// consumeMessages polls every persistent topic whose literal subject carries
// subject as a prefix, tracking a per-topic ack cursor (see KafkaBus's
// consumeMessages for the same topic-matching rationale).
func (p *PulsarBus) consumeMessages(ctx context.Context, subject, group string, handler MessageHandler) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	acks := make(map[string]int64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			for topic, messages := range p.messages {
				if !strings.HasPrefix(topic, subject) {
					continue
				}
				ack := acks[topic]
				if int64(len(messages)) <= ack {
					continue
				}
				for i := ack; i < int64(len(messages)); i++ {
					message := messages[i]
					if err := p.callHandlerWithRetry(ctx, handler, message); err != nil {
						if p.config.MetricsCallback != nil {
							p.config.MetricsCallback("bus_handler_error_total", 1, map[string]string{"subject": topic, "group": group, "error": err.Error()})
						}
					} else if p.config.MetricsCallback != nil {
						p.config.MetricsCallback("bus_consume_total", 1, map[string]string{"subject": topic, "group": group})
					}
				}
				acks[topic] = int64(len(messages))
			}
			p.mu.RUnlock()
		}
	}
}

func (p *PulsarBus) callHandlerWithRetry(ctx context.Context, handler MessageHandler, message *Message) error {
	var lastErr error

	for attempt := 0; attempt <= p.config.RetryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(p.config.RetryConfig.InitialDelay) * pow(p.config.RetryConfig.BackoffFactor, attempt))
			if delay > p.config.RetryConfig.MaxDelay {
				delay = p.config.RetryConfig.MaxDelay
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

		if p.config.MetricsCallback != nil {
			p.config.MetricsCallback("bus_retries_total", 1, map[string]string{"subject": message.Subject, "attempt": fmt.Sprintf("%d", attempt+1)})
		}
	}

	if p.config.DeadLetterConfig.Enabled && p.deadLetter != nil {
		p.deadLetter.Push(DeadLetterEntry{Message: *message, Reason: lastErr.Error(), FailedAt: time.Now()})
		if p.config.MetricsCallback != nil {
			p.config.MetricsCallback("bus_dlq_total", 1, map[string]string{"subject": message.Subject})
		}
	}
	return lastErr
}

// CreateStream registers a new stream (Pulsar namespace policy equivalent).
func (p *PulsarBus) CreateStream(ctx context.Context, config StreamConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrBusNotStarted
	}
	if _, exists := p.streams[config.Name]; exists {
		return fmt.Errorf("stream %s already exists", config.Name)
	}

	p.streams[config.Name] = &StreamInfo{
		Name: config.Name,
		Config: map[string]string{
			"retention.ms":    fmt.Sprintf("%d", config.MaxAge.Milliseconds()),
			"retention.bytes": fmt.Sprintf("%d", config.RetentionBytes),
		},
		CreatedAt: time.Now(),
	}
	p.messages[config.Name] = make([]*Message, 0)
	p.metrics.ActiveStreams++
	return nil
}

// DeleteStream deletes a stream.
func (p *PulsarBus) DeleteStream(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrBusNotStarted
	}
	if _, exists := p.streams[name]; !exists {
		return ErrStreamNotFound
	}

	delete(p.streams, name)
	delete(p.messages, name)
	p.metrics.ActiveStreams--
	return nil
}

// GetStreamInfo returns information about a stream.
func (p *PulsarBus) GetStreamInfo(ctx context.Context, name string) (*StreamInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return nil, ErrBusNotStarted
	}
	info, exists := p.streams[name]
	if !exists {
		return nil, ErrStreamNotFound
	}

	messages := p.messages[name]
	var totalBytes int64
	for _, msg := range messages {
		totalBytes += int64(len(msg.Payload))
	}

	infoCopy := *info
	infoCopy.Stats = StreamStats{MessageCount: int64(len(messages)), ByteSize: totalBytes}
	return &infoCopy, nil
}

// Health returns the current health status.
func (p *PulsarBus) Health() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := HealthStatus{Healthy: p.started, Metrics: p.metrics, LastCheck: time.Now()}
	if p.started {
		status.Status = "running"
	} else {
		status.Status = "stopped"
		status.Errors = append(status.Errors, "bus not started")
	}
	return status
}

// DefaultPulsarConfig returns sensible defaults for Pulsar-shaped configuration.
func DefaultPulsarConfig() BusConfig {
	return BusConfig{
		Brokers:        []string{"pulsar://localhost:6650"},
		ClientID:       "marketprism-pulsar-client",
		ConnectTimeout: 30 * time.Second,
		ProducerConfig: ProducerConfig{
			RequiredAcks:    1,
			CompressionType: "zstd",
			MaxMessageBytes: 5242880,
			BatchSize:       1000,
			LingerMS:        10,
		},
		ConsumerConfig: ConsumerConfig{
			GroupID:             "marketprism-consumers",
			Durable:             true,
			ExplicitAck:         true,
			AutoOffsetReset:     "latest",
			SessionTimeoutMS:    30000,
			HeartbeatIntervalMS: 3000,
			MaxPollRecords:      1000,
		},
		RetryConfig: RetryConfig{
			MaxRetries:    3,
			InitialDelay:  100 * time.Millisecond,
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
