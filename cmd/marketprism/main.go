// Command marketprism runs the MarketPrism ingestion pipeline: exchange
// collection, normalization, bus publish, hot-store writing, and
// hot→cold replication. Subcommands cover the long-running server
// process, schema migration, and manual replication control.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketprism/ingest/internal/bus"
	"github.com/marketprism/ingest/internal/config"
	"github.com/marketprism/ingest/internal/exchange"
	"github.com/marketprism/ingest/internal/exchange/binance"
	"github.com/marketprism/ingest/internal/exchange/coinbase"
	"github.com/marketprism/ingest/internal/exchange/kraken"
	"github.com/marketprism/ingest/internal/exchange/okx"
	"github.com/marketprism/ingest/internal/health"
	"github.com/marketprism/ingest/internal/ingest"
	"github.com/marketprism/ingest/internal/lifecycle"
	"github.com/marketprism/ingest/internal/normalize"
	"github.com/marketprism/ingest/internal/orderbook"
	"github.com/marketprism/ingest/internal/record"
	"github.com/marketprism/ingest/internal/replicate"
	"github.com/marketprism/ingest/internal/store"
	"github.com/marketprism/ingest/internal/store/postgres"
	"github.com/marketprism/ingest/internal/writer"

	"github.com/jmoiron/sqlx"
)

const version = "v1.0.0"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	root := &cobra.Command{
		Use:     "marketprism",
		Short:   "MarketPrism crypto market-data ingestion pipeline",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the pipeline config file")

	root.AddCommand(
		runCmd(&configPath),
		migrateCmd(&configPath),
		replicateCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("marketprism: fatal error")
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("marketprism: load config: %w", err)
	}
	return cfg, nil
}

func openStores(ctx context.Context, cfg *config.Config) (hotDB, coldDB *sqlx.DB, hot, cold *store.Store, err error) {
	hotDB, err = sqlx.ConnectContext(ctx, "postgres", cfg.Hot.DSN())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marketprism: connect hot store: %w", err)
	}
	coldDB, err = sqlx.ConnectContext(ctx, "postgres", cfg.Cold.DSN())
	if err != nil {
		hotDB.Close()
		return nil, nil, nil, nil, fmt.Errorf("marketprism: connect cold store: %w", err)
	}

	hot = postgres.NewStores(hotDB, postgres.Config{Tier: postgres.TierHot, RetentionDays: cfg.Hot.RetentionDays})
	cold = postgres.NewStores(coldDB, postgres.Config{Tier: postgres.TierCold, RetentionDays: cfg.Cold.RetentionDays})
	return hotDB, coldDB, hot, cold, nil
}

// unsupportedSnapshotFetch backs the writer's REST resync fallback. No
// venue REST depth client is implemented in this repo (only the
// WebSocket adapters in internal/exchange/*); a resync request simply
// fails until one is wired, which only degrades orderbook recovery after
// a sequence gap rather than the rest of the pipeline.
func unsupportedSnapshotFetch(ctx context.Context, exchangeName, symbol string) (record.OrderbookSnapshot, error) {
	return record.OrderbookSnapshot{}, fmt.Errorf("marketprism: no REST snapshot client configured for %s/%s", exchangeName, symbol)
}

func buildSources(exchanges []config.ExchangeConfig, metrics exchange.Metrics) ([]ingest.Source, error) {
	var sources []ingest.Source
	for _, ex := range exchanges {
		marketType := record.MarketSpot
		if len(ex.MarketTypes) > 0 {
			marketType = record.MarketType(ex.MarketTypes[0])
		}
		capacity := ex.ChannelCapacity
		if capacity <= 0 {
			capacity = 1024
		}

		var adapter exchange.Adapter
		var normalizer normalize.Normalizer
		switch ex.Name {
		case "binance":
			adapter = binance.New(ex.Symbols, marketType, ex.ProxyURL)
			normalizer = normalize.NewBinanceNormalizer(marketType)
		case "okx":
			adapter = okx.New(ex.Symbols, ex.ProxyURL)
			normalizer = normalize.NewOKXNormalizer(marketType)
		case "coinbase":
			adapter = coinbase.New(ex.Symbols, ex.ProxyURL)
			normalizer = normalize.NewCoinbaseNormalizer(marketType)
		case "kraken":
			adapter = kraken.New(ex.Symbols, 10, ex.ProxyURL)
			normalizer = normalize.NewKrakenNormalizer(marketType)
		default:
			return nil, fmt.Errorf("marketprism: unknown exchange %q", ex.Name)
		}

		caps := adapter.Capabilities()
		log.Info().Str("exchange", ex.Name).Bool("proxy", caps.SupportsProxy).
			Bool("multiplexed", caps.MultiplexedSubscription).Bool("checksum", caps.ChecksumField).
			Msg("marketprism: built exchange source")

		session := exchange.NewSession(adapter, capacity)
		if metrics != nil {
			// "stream" labels the whole multiplexed connection: a Session
			// has no notion of which of its adapter's channels is active at
			// a given moment, only that it is connected, handshaking, or
			// streaming.
			session.SetMetrics(metrics, string(marketType), "stream")
		}
		sources = append(sources, ingest.Source{Exchange: ex.Name, Session: session, Normalizer: normalizer})
	}
	return sources, nil
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full ingestion pipeline until signaled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx := context.Background()
			hotDB, coldDB, hot, cold, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer hotDB.Close()
			defer coldDB.Close()

			if err := postgres.Migrate(ctx, hotDB, cfg.Hot.RetentionDays); err != nil {
				return fmt.Errorf("marketprism: migrate hot: %w", err)
			}
			if err := postgres.Migrate(ctx, coldDB, cfg.Cold.RetentionDays); err != nil {
				return fmt.Errorf("marketprism: migrate cold: %w", err)
			}
			now := time.Now().UTC()
			if err := postgres.EnsurePartition(ctx, hotDB, now); err != nil {
				return fmt.Errorf("marketprism: ensure hot partition: %w", err)
			}
			if err := postgres.EnsurePartition(ctx, coldDB, now); err != nil {
				return fmt.Errorf("marketprism: ensure cold partition: %w", err)
			}
			// Writer readiness is gated on schema verification;
			// auditing both tiers here also proves hot/cold column
			// equivalence before any batch is accepted.
			if err := postgres.AuditSchema(ctx, hotDB); err != nil {
				return fmt.Errorf("marketprism: hot schema audit: %w", err)
			}
			if err := postgres.AuditSchema(ctx, coldDB); err != nil {
				return fmt.Errorf("marketprism: cold schema audit: %w", err)
			}

			reg := health.New()

			eventBus, err := bus.NewEventBus(bus.BusType(cfg.Bus.Type), bus.BusConfig{
				Brokers:  []string{cfg.Bus.URL},
				ClientID: cfg.Bus.ClientID,
				RetryConfig: bus.RetryConfig{
					MaxRetries:    5,
					InitialDelay:  200 * time.Millisecond,
					MaxDelay:      10 * time.Second,
					BackoffFactor: 2,
					JitterEnabled: true,
				},
				DeadLetterConfig: bus.DeadLetterConfig{Enabled: true, Capacity: 1024},
				// Bridges the bus's own consume-retry loop (every backend's
				// callHandlerWithRetry) into the redelivery gauge, reusing the hook already used for
				// bus_started/bus_publish_total/etc. rather than adding a
				// new extension point.
				MetricsCallback: func(metric string, value interface{}, tags map[string]string) {
					if metric == "bus_retries_total" {
						reg.RecordRedelivery(tags["subject"])
					}
				},
			})
			if err != nil {
				return fmt.Errorf("marketprism: build event bus: %w", err)
			}

			publisher := bus.NewPublisher(eventBus, bus.RetryConfig{
				MaxRetries:    5,
				InitialDelay:  200 * time.Millisecond,
				MaxDelay:      10 * time.Second,
				BackoffFactor: 2,
			}, bus.NewDeadLetterQueue(1024))
			publisher.SetNotifier(reg)
			publisher.SetMetrics(reg)

			sources, err := buildSources(cfg.Exchanges, reg)
			if err != nil {
				return err
			}

			writerCfg := writer.FromConfig(cfg.Writer.WithDefaults())
			w := writer.New(eventBus, hot, writerCfg, unsupportedSnapshotFetch)
			w.SetHealth(reg)
			w.SetMetrics(reg)

			// The collector gets its own registry, independent of the writer's: they
			// run in the same process here but own separate maintainer
			// state, the same separation the writer keeps today because a
			// real deployment runs the collector and the hot writer as separate
			// processes sharing nothing but the bus.
			obRegistry := orderbook.NewRegistry(writerCfg.OrderbookResyncBuffer, unsupportedSnapshotFetch)
			obRegistry.SetMetrics(reg)

			replicator := &replicate.Replicator{
				Hot:       hot,
				Cold:      cold,
				Cfg:       cfg.Replicator,
				Exchanges: cfg.Exchanges,
				Logger:    log.Logger,
				Health:    reg,
				Metrics:   reg,
			}
			reg.SetCleanupEnabled(cfg.Replicator.CleanupEnabled)

			collector := ingest.NewCollector(sources, publisher, log.Logger, obRegistry)

			// Hot TTL is a scheduled sweep, since
			// Postgres has no native per-row TTL. The cold tier keeps its
			// long retention and is not swept here.
			janitor := &postgres.Janitor{
				Store:         hot,
				RetentionDays: cfg.Hot.RetentionDays,
				Interval:      time.Hour,
				Keys:          partitionKeys(cfg.Exchanges),
				Logger:        log.Logger,
			}

			mgr := lifecycle.NewManager(log.Logger)
			mgr.SetHealth(reg)
			mgr.Register(busComponent{bus: eventBus})
			mgr.Register(collector)
			mgr.Register(writerComponent{w: w})
			mgr.Register(replicatorComponent{r: replicator})
			mgr.Register(janitorComponent{j: janitor})

			return lifecycle.Run(ctx, mgr, 30*time.Second)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create canonical tables and the current month's partitions on both tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			hotDB, coldDB, _, _, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer hotDB.Close()
			defer coldDB.Close()

			if err := postgres.Migrate(ctx, hotDB, cfg.Hot.RetentionDays); err != nil {
				return err
			}
			if err := postgres.Migrate(ctx, coldDB, cfg.Cold.RetentionDays); err != nil {
				return err
			}
			now := time.Now().UTC()
			if err := postgres.EnsurePartition(ctx, hotDB, now); err != nil {
				return err
			}
			if err := postgres.EnsurePartition(ctx, coldDB, now); err != nil {
				return err
			}
			log.Info().Msg("marketprism: migration complete")
			return nil
		},
	}
}

func replicateCmd(configPath *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Run one hot-to-cold replication pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			hotDB, coldDB, hot, cold, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer hotDB.Close()
			defer coldDB.Close()

			r := &replicate.Replicator{
				Hot:       hot,
				Cold:      cold,
				Cfg:       cfg.Replicator,
				Exchanges: cfg.Exchanges,
				Logger:    log.Logger,
			}

			if dryRun {
				report, err := r.DryRun(ctx)
				if err != nil {
					return err
				}
				log.Info().Int("planned_rows", report.TotalRows).Int("steps", len(report.Steps)).Msg("marketprism: dry-run plan")
				for _, step := range report.Steps {
					fmt.Printf("%-10s %-10s %-8s %-6s planned=%d\n",
						step.Partition.Key.Exchange, step.Partition.Key.MarketType, step.Partition.Key.Symbol,
						step.Partition.DataType, step.PlannedCount)
				}
				return nil
			}

			report, err := r.Run(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("copied", report.TotalCopied()).Int("partitions", len(report.Results)).Msg("marketprism: replication run complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned copy counts without writing or deleting")
	return cmd
}

// busComponent, writerComponent, and replicatorComponent adapt each
// collaborator's own Start/Stop shape to lifecycle.Component so ordering
// is enforced in one place.
type busComponent struct{ bus bus.EventBus }

func (c busComponent) Name() string                    { return "bus" }
func (c busComponent) Start(ctx context.Context) error { return c.bus.Start(ctx) }
func (c busComponent) Stop(ctx context.Context) error  { return c.bus.Stop(ctx) }

type writerComponent struct{ w *writer.Writer }

func (c writerComponent) Name() string { return "writer" }
func (c writerComponent) Start(ctx context.Context) error {
	return c.w.Start(ctx)
}
func (c writerComponent) Stop(ctx context.Context) error {
	c.w.Stop(ctx)
	return nil
}

// partitionKeys enumerates every (exchange, market_type, symbol) the
// config declares, the same universe replicate.Partitions iterates.
func partitionKeys(exchanges []config.ExchangeConfig) []store.PartitionKey {
	var keys []store.PartitionKey
	for _, ex := range exchanges {
		marketTypes := ex.MarketTypes
		if len(marketTypes) == 0 {
			marketTypes = []string{string(record.MarketSpot)}
		}
		for _, mt := range marketTypes {
			for _, sym := range ex.Symbols {
				keys = append(keys, store.PartitionKey{Exchange: ex.Name, MarketType: record.MarketType(mt), Symbol: sym})
			}
		}
	}
	return keys
}

type replicatorComponent struct{ r *replicate.Replicator }

func (c replicatorComponent) Name() string { return "replicator" }
func (c replicatorComponent) Start(ctx context.Context) error {
	go func() {
		if err := c.r.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("replicator: stopped")
		}
	}()
	return nil
}
func (c replicatorComponent) Stop(ctx context.Context) error { return nil }

type janitorComponent struct{ j *postgres.Janitor }

func (c janitorComponent) Name() string { return "janitor" }
func (c janitorComponent) Start(ctx context.Context) error {
	go func() {
		if err := c.j.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("janitor: stopped")
		}
	}()
	return nil
}
func (c janitorComponent) Stop(ctx context.Context) error { return nil }
