package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// KafkaBus is a stdlib-simulated EventBus standing in for a real Kafka
// client. It keeps the wire shape (brokers, consumer groups, retry and
// dead-letter policy) so callers can be swapped onto a real client
// library without an interface change.
type KafkaBus struct {
	config  BusConfig
	started bool
	mu      sync.RWMutex

	streams     map[string]*StreamInfo
	subscribers map[string][]MessageHandler
	messages    map[string][]*Message
	metrics     HealthMetrics
	deadLetter  *DeadLetterQueue
}

// NewKafkaBus creates a new Kafka-shaped event bus.
func NewKafkaBus(config BusConfig) (EventBus, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers must be specified")
	}

	return &KafkaBus{
		config:      config,
		streams:     make(map[string]*StreamInfo),
		subscribers: make(map[string][]MessageHandler),
		messages:    make(map[string][]*Message),
		metrics:     HealthMetrics{ConnectedBrokers: len(config.Brokers)},
		deadLetter:  NewDeadLetterQueue(config.DeadLetterConfig.Capacity),
	}, nil
}

// Start connects to the configured brokers.
func (k *KafkaBus) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.started {
		return nil
	}
	k.started = true

	if k.config.MetricsCallback != nil {
		k.config.MetricsCallback("bus_started", 1, map[string]string{"type": "kafka", "client_id": k.config.ClientID})
	}
	return nil
}

// Stop shuts down the Kafka bus.
func (k *KafkaBus) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.started {
		return nil
	}
	k.started = false

	if k.config.MetricsCallback != nil {
		k.config.MetricsCallback("bus_stopped", 1, map[string]string{"type": "kafka"})
	}
	return nil
}

// Publish sends a message to a subject.
func (k *KafkaBus) Publish(ctx context.Context, subject, key string, payload []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.started {
		return ErrBusNotStarted
	}

	message := &Message{
		ID:        fmt.Sprintf("%s-%d", subject, len(k.messages[subject])),
		Subject:   subject,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now(),
		Offset:    int64(len(k.messages[subject])),
	}
	k.messages[subject] = append(k.messages[subject], message)

	if k.config.MetricsCallback != nil {
		k.config.MetricsCallback("bus_publish_total", 1, map[string]string{"subject": subject, "type": "kafka"})
		k.config.MetricsCallback("bus_publish_bytes", len(payload), map[string]string{"subject": subject})
	}

	select {
	case <-time.After(time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// PublishBatch sends multiple messages.
func (k *KafkaBus) PublishBatch(ctx context.Context, messages []Message) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.started {
		return ErrBusNotStarted
	}

	totalBytes := 0
	for i := range messages {
		message := &messages[i]
		message.ID = fmt.Sprintf("batch-%s-%d", message.Subject, i)
		message.Timestamp = time.Now()
		message.Offset = int64(len(k.messages[message.Subject]))
		k.messages[message.Subject] = append(k.messages[message.Subject], message)
		totalBytes += len(message.Payload)
	}

	if k.config.MetricsCallback != nil {
		k.config.MetricsCallback("bus_publish_batch_total", len(messages), map[string]string{"type": "kafka"})
		k.config.MetricsCallback("bus_publish_batch_bytes", totalBytes, map[string]string{"type": "kafka"})
	}
	return nil
}

// Subscribe registers a handler for messages on a subject.
func (k *KafkaBus) Subscribe(ctx context.Context, subject, group string, handler MessageHandler) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.started {
		return ErrBusNotStarted
	}

	consumerKey := fmt.Sprintf("%s:%s", subject, group)
	k.subscribers[consumerKey] = append(k.subscribers[consumerKey], handler)
	k.metrics.ActiveConsumers++

	go k.consumeMessages(ctx, subject, group, handler)

	if k.config.MetricsCallback != nil {
		k.config.MetricsCallback("bus_subscribe_total", 1, map[string]string{"subject": subject, "group": group, "type": "kafka"})
	}
	return nil
}

// SubscribeWithFilter subscribes with message filtering.
func (k *KafkaBus) SubscribeWithFilter(ctx context.Context, subject, group string, filter MessageFilter, handler MessageHandler) error {
	filtered := func(ctx context.Context, message *Message) error {
		if filter(message) {
			return handler(ctx, message)
		}
		return nil
	}
	return k.Subscribe(ctx, subject, group, filtered)
}

// consumeMessages polls every topic whose literal name carries subject as a
// prefix (a consumer subscribed to "trade." must pick up records published
// under "trade.binance.btc-usdt"), tracking a per-topic offset the same way
// a real partition-assigned consumer group would.
func (k *KafkaBus) consumeMessages(ctx context.Context, subject, group string, handler MessageHandler) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	offsets := make(map[string]int64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.mu.RLock()
			for topic, messages := range k.messages {
				if !strings.HasPrefix(topic, subject) {
					continue
				}
				offset := offsets[topic]
				if int64(len(messages)) <= offset {
					continue
				}
				for i := offset; i < int64(len(messages)); i++ {
					message := messages[i]
					if err := k.callHandlerWithRetry(ctx, handler, message); err != nil {
						if k.config.MetricsCallback != nil {
							k.config.MetricsCallback("bus_handler_error_total", 1, map[string]string{"subject": topic, "group": group, "error": err.Error()})
						}
					} else if k.config.MetricsCallback != nil {
						k.config.MetricsCallback("bus_consume_total", 1, map[string]string{"subject": topic, "group": group})
					}
				}
				offsets[topic] = int64(len(messages))
			}
			k.mu.RUnlock()
		}
	}
}

// callHandlerWithRetry retries a handler with the configured capped
// exponential backoff, pushing to the dead-letter queue on exhaustion.
func (k *KafkaBus) callHandlerWithRetry(ctx context.Context, handler MessageHandler, message *Message) error {
	var lastErr error

	for attempt := 0; attempt <= k.config.RetryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(k.config.RetryConfig.InitialDelay) * pow(k.config.RetryConfig.BackoffFactor, attempt))
			if delay > k.config.RetryConfig.MaxDelay {
				delay = k.config.RetryConfig.MaxDelay
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

		if k.config.MetricsCallback != nil {
			k.config.MetricsCallback("bus_retries_total", 1, map[string]string{"subject": message.Subject, "attempt": fmt.Sprintf("%d", attempt+1)})
		}
	}

	if k.config.DeadLetterConfig.Enabled && k.deadLetter != nil {
		k.deadLetter.Push(DeadLetterEntry{Message: *message, Reason: lastErr.Error(), FailedAt: time.Now()})
		if k.config.MetricsCallback != nil {
			k.config.MetricsCallback("bus_dlq_total", 1, map[string]string{"subject": message.Subject})
		}
	}
	return lastErr
}

// CreateStream registers a new stream.
func (k *KafkaBus) CreateStream(ctx context.Context, config StreamConfig) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.started {
		return ErrBusNotStarted
	}
	if _, exists := k.streams[config.Name]; exists {
		return fmt.Errorf("stream %s already exists", config.Name)
	}

	cleanup := "delete"
	if config.CompactionEnabled {
		cleanup = "compact"
	}
	k.streams[config.Name] = &StreamInfo{
		Name: config.Name,
		Config: map[string]string{
			"retention.ms":      fmt.Sprintf("%d", config.MaxAge.Milliseconds()),
			"retention.bytes":   fmt.Sprintf("%d", config.RetentionBytes),
			"max.message.bytes": fmt.Sprintf("%d", config.MaxMessageSize),
			"cleanup.policy":    cleanup,
		},
		CreatedAt: time.Now(),
	}
	k.messages[config.Name] = make([]*Message, 0)
	k.metrics.ActiveStreams++

	if k.config.MetricsCallback != nil {
		k.config.MetricsCallback("bus_stream_created", 1, map[string]string{"stream": config.Name})
	}
	return nil
}

// DeleteStream deletes a stream.
func (k *KafkaBus) DeleteStream(ctx context.Context, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.started {
		return ErrBusNotStarted
	}
	if _, exists := k.streams[name]; !exists {
		return ErrStreamNotFound
	}

	delete(k.streams, name)
	delete(k.messages, name)
	k.metrics.ActiveStreams--

	if k.config.MetricsCallback != nil {
		k.config.MetricsCallback("bus_stream_deleted", 1, map[string]string{"stream": name})
	}
	return nil
}

// GetStreamInfo returns information about a stream.
func (k *KafkaBus) GetStreamInfo(ctx context.Context, name string) (*StreamInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if !k.started {
		return nil, ErrBusNotStarted
	}
	info, exists := k.streams[name]
	if !exists {
		return nil, ErrStreamNotFound
	}

	messages := k.messages[name]
	var totalBytes int64
	for _, msg := range messages {
		totalBytes += int64(len(msg.Payload))
	}

	infoCopy := *info
	infoCopy.Stats = StreamStats{MessageCount: int64(len(messages)), ByteSize: totalBytes}
	return &infoCopy, nil
}

// Health returns the current health status.
func (k *KafkaBus) Health() HealthStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()

	status := HealthStatus{Healthy: k.started, Metrics: k.metrics, LastCheck: time.Now()}
	if k.started {
		status.Status = "running"
	} else {
		status.Status = "stopped"
		status.Errors = append(status.Errors, "bus not started")
	}
	return status
}

// DefaultKafkaConfig returns sensible defaults for Kafka-shaped configuration.
func DefaultKafkaConfig() BusConfig {
	return BusConfig{
		Brokers:          []string{"localhost:9092"},
		ClientID:         "marketprism-kafka-client",
		SecurityProtocol: "PLAINTEXT",
		ConnectTimeout:   30 * time.Second,
		ProducerConfig: ProducerConfig{
			RequiredAcks:     1,
			CompressionType:  "gzip",
			MaxMessageBytes:  1048576,
			BatchSize:        16384,
			LingerMS:         5,
			EnableIdempotent: true,
		},
		ConsumerConfig: ConsumerConfig{
			GroupID:             "marketprism-consumers",
			Durable:             true,
			ExplicitAck:         true,
			AutoOffsetReset:     "latest",
			SessionTimeoutMS:    30000,
			HeartbeatIntervalMS: 3000,
			MaxPollRecords:      500,
			FetchMinBytes:       1,
			FetchMaxWaitMS:      500,
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
