// Package config defines the typed configuration surface for the
// ingestion pipeline: bus connection, hot/cold store DSNs,
// per-type writer batching, orderbook/exchange tuning, and replicator
// scheduling. One process-wide yaml.v3-tagged struct with environment
// overrides, decoded strictly (yaml.Decoder.KnownFields) so unknown keys
// reject instead of silently dropping.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete typed configuration for one ingestion process,
// validated at startup.
type Config struct {
	Bus        BusConfig        `yaml:"bus"`
	Hot        StoreConfig      `yaml:"hot"`
	Cold       StoreConfig      `yaml:"cold"`
	Replicator ReplicatorConfig `yaml:"replicator"`
	Writer     WriterConfig     `yaml:"writer"`
	Orderbook  OrderbookConfig  `yaml:"orderbook"`
	Exchanges  []ExchangeConfig `yaml:"exchanges"`
	HealthAddr string           `yaml:"health_addr"`
}

// BusConfig configures the message-bus binding.
type BusConfig struct {
	URL      string `yaml:"url"`
	Type     string `yaml:"type"` // kafka|pulsar|stub
	ClientID string `yaml:"client_id"`
}

// StoreConfig configures one store tier (hot or cold); both share the
// same column schema and differ only in DSN/retention.
type StoreConfig struct {
	Host          string `yaml:"host"`
	HTTPPort      int    `yaml:"http"`
	TCPPort       int    `yaml:"tcp"`
	Database      string `yaml:"db"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	SSLMode       string `yaml:"ssl_mode"`
	RetentionDays int    `yaml:"retention_days"`
}

// DSN formats c as a PostgreSQL connection string for lib/pq.
func (c StoreConfig) DSN() string {
	port := c.TCPPort
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, port, c.Database, c.User, c.Password, sslMode)
}

// ReplicatorConfig configures the hot→cold replicator.
type ReplicatorConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	WindowHours     int    `yaml:"window_hours"`
	BatchLimit      int    `yaml:"batch_limit"`
	SymbolPrefix    string `yaml:"symbol_prefix"`
	Exchange        string `yaml:"exchange"`
	MarketType      string `yaml:"market_type"`
	DryRun          bool   `yaml:"dry_run"`
	CleanupEnabled  bool   `yaml:"cleanup_enabled"`
}

// Interval returns the configured poll interval, defaulting to 60s.
func (c ReplicatorConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Window returns the configured default lookback window, defaulting to
// 24h.
func (c ReplicatorConfig) Window() time.Duration {
	if c.WindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.WindowHours) * time.Hour
}

// BatchConfig is one record type's batching policy.
type BatchConfig struct {
	BatchSize  int `yaml:"batch_size"`
	MaxDelayMS int `yaml:"max_delay_ms"`
	QueueMax   int `yaml:"queue_max"`
}

// WriterConfig configures the hot writer's per-type batching.
type WriterConfig struct {
	Orderbook    BatchConfig `yaml:"orderbook"`
	Trade        BatchConfig `yaml:"trade"`
	FundingRate  BatchConfig `yaml:"funding_rate"`
	OpenInterest BatchConfig `yaml:"open_interest"`
	Liquidation  BatchConfig `yaml:"liquidation"`
	LSR          BatchConfig `yaml:"lsr"`
	Volatility   BatchConfig `yaml:"volatility"`

	QuarantineCapacity    int `yaml:"quarantine_capacity"`
	OrderbookResyncBuffer int `yaml:"orderbook_resync_buffer"`
}

// OrderbookConfig configures the orderbook maintainer.
type OrderbookConfig struct {
	Depth                int    `yaml:"depth"`
	SnapshotSource       string `yaml:"snapshot_source"`
	ResyncBackoffMS      int    `yaml:"resync_backoff_ms"`
	ChecksumVerification bool   `yaml:"checksum_verification"`
}

// ExchangeConfig configures one exchange client session.
// MarketTypes/DataTypes list which (market_type, data_type) sessions to
// open for this venue.
type ExchangeConfig struct {
	Name               string   `yaml:"name"`
	MarketTypes        []string `yaml:"market_types"`
	DataTypes          []string `yaml:"data_types"`
	Symbols            []string `yaml:"symbols"`
	ProxyURL           string   `yaml:"proxy"`
	ReconnectBackoffMS int      `yaml:"reconnect_backoff_ms"`
	HeartbeatTimeoutMS int      `yaml:"heartbeat_timeout_ms"`
	ChannelCapacity    int      `yaml:"channel_capacity"`
}

// Load reads and strictly decodes a YAML config file at path, rejecting
// unknown keys, then applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies the handful of env vars that override the
// equivalent YAML fields.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BUS_URL"); v != "" {
		c.Bus.URL = v
	}
	if v := os.Getenv("MIGRATION_EXCHANGE"); v != "" {
		c.Replicator.Exchange = v
	}
	if v := os.Getenv("MIGRATION_MARKET_TYPE"); v != "" {
		c.Replicator.MarketType = v
	}
	if v := os.Getenv("MIGRATION_SYMBOL_PREFIX"); v != "" {
		c.Replicator.SymbolPrefix = v
	}
}

// Validate fails fast on missing/invalid configuration.
func (c *Config) Validate() error {
	if c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required")
	}
	if c.Hot.Host == "" || c.Hot.Database == "" {
		return fmt.Errorf("hot store host/db are required")
	}
	if c.Cold.Host == "" || c.Cold.Database == "" {
		return fmt.Errorf("cold store host/db are required")
	}
	if c.Hot.RetentionDays <= 0 {
		c.Hot.RetentionDays = 3
	}
	if c.Cold.RetentionDays <= 0 {
		c.Cold.RetentionDays = 3650 // long-retention default
	}
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange must be configured")
	}
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchanges[%d].name is required", i)
		}
		if len(ex.Symbols) == 0 {
			return fmt.Errorf("exchanges[%d] (%s): at least one symbol is required", i, ex.Name)
		}
	}
	return nil
}

// WriterConfigDefaults returns the standard defaults for every field a
// loaded config leaves zero-valued.
func WriterConfigDefaults() WriterConfig {
	return WriterConfig{
		Orderbook:             BatchConfig{BatchSize: 100, MaxDelayMS: 10_000, QueueMax: 1000},
		Trade:                 BatchConfig{BatchSize: 100, MaxDelayMS: 10_000, QueueMax: 1000},
		FundingRate:           BatchConfig{BatchSize: 10, MaxDelayMS: 2_000, QueueMax: 500},
		OpenInterest:          BatchConfig{BatchSize: 50, MaxDelayMS: 10_000, QueueMax: 500},
		Liquidation:           BatchConfig{BatchSize: 5, MaxDelayMS: 10_000, QueueMax: 200},
		LSR:                   BatchConfig{BatchSize: 1, MaxDelayMS: 1_000, QueueMax: 50},
		Volatility:            BatchConfig{BatchSize: 1, MaxDelayMS: 1_000, QueueMax: 50},
		QuarantineCapacity:    256,
		OrderbookResyncBuffer: 500,
	}
}

// WithDefaults fills any zero-valued BatchConfig in w from defaults.
func (w WriterConfig) WithDefaults() WriterConfig {
	d := WriterConfigDefaults()
	fill := func(bc, def BatchConfig) BatchConfig {
		if bc.BatchSize == 0 {
			bc.BatchSize = def.BatchSize
		}
		if bc.MaxDelayMS == 0 {
			bc.MaxDelayMS = def.MaxDelayMS
		}
		if bc.QueueMax == 0 {
			bc.QueueMax = def.QueueMax
		}
		return bc
	}
	w.Orderbook = fill(w.Orderbook, d.Orderbook)
	w.Trade = fill(w.Trade, d.Trade)
	w.FundingRate = fill(w.FundingRate, d.FundingRate)
	w.OpenInterest = fill(w.OpenInterest, d.OpenInterest)
	w.Liquidation = fill(w.Liquidation, d.Liquidation)
	w.LSR = fill(w.LSR, d.LSR)
	w.Volatility = fill(w.Volatility, d.Volatility)
	if w.QuarantineCapacity == 0 {
		w.QuarantineCapacity = d.QuarantineCapacity
	}
	if w.OrderbookResyncBuffer == 0 {
		w.OrderbookResyncBuffer = d.OrderbookResyncBuffer
	}
	return w
}
