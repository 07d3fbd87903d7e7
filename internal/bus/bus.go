// Package bus binds the ingestion pipeline to a JetStream-shaped message
// bus: named streams with retention/age policy, durable consumers with
// explicit ack, and a Publisher that serializes canonical records onto
// subjects derived from record.Envelope.
package bus

import (
	"context"
	"fmt"
	"time"
)

// EventBus defines the interface for publishing and subscribing to events
// on the backing stream transport.
type EventBus interface {
	// Core pub/sub operations
	Publish(ctx context.Context, subject, key string, payload []byte) error
	Subscribe(ctx context.Context, subject, group string, handler MessageHandler) error

	// Lifecycle management
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() HealthStatus

	// Advanced features
	PublishBatch(ctx context.Context, messages []Message) error
	SubscribeWithFilter(ctx context.Context, subject, group string, filter MessageFilter, handler MessageHandler) error

	// Administrative operations
	CreateStream(ctx context.Context, config StreamConfig) error
	DeleteStream(ctx context.Context, name string) error
	GetStreamInfo(ctx context.Context, name string) (*StreamInfo, error)
}

// Message represents a single message on the bus.
type Message struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	Key       string            `json:"key"`
	Payload   []byte            `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Partition int32             `json:"partition,omitempty"`
	Offset    int64             `json:"offset,omitempty"`
}

// MessageHandler processes incoming messages. An error leaves the message
// unacked for redelivery.
type MessageHandler func(ctx context.Context, message *Message) error

// MessageFilter allows selective message processing.
type MessageFilter func(message *Message) bool

// StreamConfig holds one named stream's configuration: the subject
// patterns it owns and its retention policy.
type StreamConfig struct {
	Name              string        `json:"name"`
	Subjects          []string      `json:"subjects"`
	Partitions        int32         `json:"partitions"`
	ReplicationFactor int16         `json:"replication_factor"`
	RetentionBytes    int64         `json:"retention_bytes"`
	MaxAge            time.Duration `json:"max_age"`
	ConsumerCount     int           `json:"consumer_count"`
	CompactionEnabled bool          `json:"compaction_enabled"`
	MaxMessageSize    int64         `json:"max_message_size"`
}

// StreamInfo provides stream metadata.
type StreamInfo struct {
	Name       string            `json:"name"`
	Partitions []PartitionInfo   `json:"partitions"`
	Config     map[string]string `json:"config"`
	CreatedAt  time.Time         `json:"created_at"`
	Stats      StreamStats       `json:"stats"`
}

// PartitionInfo describes a stream partition.
type PartitionInfo struct {
	ID       int32   `json:"id"`
	Leader   int32   `json:"leader"`
	Replicas []int32 `json:"replicas"`
	ISR      []int32 `json:"isr"` // In-sync replicas
}

// StreamStats provides stream statistics.
type StreamStats struct {
	MessageCount int64   `json:"message_count"`
	ByteSize     int64   `json:"byte_size"`
	ConsumerLag  int64   `json:"consumer_lag"`
	ProducerRate float64 `json:"producer_rate"` // Messages per second
	ConsumerRate float64 `json:"consumer_rate"` // Messages per second
}

// HealthStatus indicates the health of the event bus.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Status    string        `json:"status"`
	Errors    []string      `json:"errors,omitempty"`
	Metrics   HealthMetrics `json:"metrics"`
	LastCheck time.Time     `json:"last_check"`
}

// HealthMetrics provides operational metrics.
type HealthMetrics struct {
	ConnectedBrokers  int     `json:"connected_brokers"`
	ActiveStreams     int     `json:"active_streams"`
	ActiveConsumers   int     `json:"active_consumers"`
	ProducerLatencyMS float64 `json:"producer_latency_ms"`
	ConsumerLatencyMS float64 `json:"consumer_latency_ms"`
}

// RetryConfig defines retry behavior for failed publishes.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	JitterEnabled bool          `json:"jitter_enabled"`
}

// DeadLetterConfig defines dead-letter buffer behavior.
type DeadLetterConfig struct {
	Enabled       bool          `json:"enabled"`
	Capacity      int           `json:"capacity"`
	RetentionTime time.Duration `json:"retention_time"`
}

// BusConfig holds general event bus configuration.
type BusConfig struct {
	// Connection settings
	Brokers          []string      `json:"brokers"`
	ClientID         string        `json:"client_id"`
	SecurityProtocol string        `json:"security_protocol"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`

	// Producer settings
	ProducerConfig ProducerConfig `json:"producer"`

	// Consumer settings
	ConsumerConfig ConsumerConfig `json:"consumer"`

	// Retry and error handling
	RetryConfig      RetryConfig      `json:"retry"`
	DeadLetterConfig DeadLetterConfig `json:"dead_letter"`

	// Metrics
	MetricsEnabled  bool            `json:"metrics_enabled"`
	MetricsCallback MetricsCallback `json:"-"`
}

// ProducerConfig holds producer-specific settings.
type ProducerConfig struct {
	RequiredAcks     int    `json:"required_acks"` // 0=none, 1=leader, -1=all
	CompressionType  string `json:"compression_type"`
	MaxMessageBytes  int    `json:"max_message_bytes"`
	BatchSize        int    `json:"batch_size"`
	LingerMS         int    `json:"linger_ms"`
	EnableIdempotent bool   `json:"enable_idempotent"`
}

// ConsumerConfig holds consumer-specific settings. Consumers are durable
// with explicit ack; redeliveries must be de-duplicated by business key.
type ConsumerConfig struct {
	GroupID             string `json:"group_id"`
	Durable             bool   `json:"durable"`
	ExplicitAck         bool   `json:"explicit_ack"`
	AutoOffsetReset     string `json:"auto_offset_reset"` // earliest, latest, none
	SessionTimeoutMS    int    `json:"session_timeout_ms"`
	HeartbeatIntervalMS int    `json:"heartbeat_interval_ms"`
	MaxPollRecords      int    `json:"max_poll_records"`
	FetchMinBytes       int    `json:"fetch_min_bytes"`
	FetchMaxWaitMS      int    `json:"fetch_max_wait_ms"`
}

// MetricsCallback is called when metrics are collected.
type MetricsCallback func(metric string, value interface{}, tags map[string]string)

// BusType selects the backing transport implementation.
type BusType string

const (
	BusTypeKafka  BusType = "kafka"
	BusTypePulsar BusType = "pulsar"
	BusTypeStub   BusType = "stub" // in-memory, for tests and local runs
)

// NewEventBus creates a new event bus of the specified type.
func NewEventBus(busType BusType, config BusConfig) (EventBus, error) {
	switch busType {
	case BusTypeKafka:
		return NewKafkaBus(config)
	case BusTypePulsar:
		return NewPulsarBus(config)
	case BusTypeStub:
		return NewStubBus(config)
	default:
		return nil, ErrUnsupportedBusType
	}
}

// Common errors
var (
	ErrUnsupportedBusType = fmt.Errorf("unsupported bus type")
	ErrStreamNotFound     = fmt.Errorf("stream not found")
	ErrInvalidMessage     = fmt.Errorf("invalid message")
	ErrPublishTimeout     = fmt.Errorf("publish timeout")
	ErrConsumerClosed     = fmt.Errorf("consumer closed")
	ErrBusNotStarted      = fmt.Errorf("bus not started")
)
