package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/config"
	"github.com/drfirst/rxchain/internal/indexer"
	"github.com/drfirst/rxchain/internal/infrastructure/postgres"
	"github.com/drfirst/rxchain/internal/infrastructure/redpanda"
	"github.com/drfirst/rxchain/pkg/idempotency"
)

func indexerCmd(configPath *string) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Project contract events from Redpanda into PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runIndexer(cmd.Context(), cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address serving /metrics")
	return cmd
}

func runIndexer(ctx context.Context, cfg *config.Config, metricsAddr string) error {
	if !cfg.Database.Enabled() {
		return errDatabaseRequired
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTracing, err := initTracing(ctx, cfg, "indexer")
	if err != nil {
		return err
	}
	defer shutdownTracing(stopTracing, logger)

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		return err
	}
	defer admin.Close()
	if err := admin.EnsureTopics(ctx); err != nil {
		return err
	}

	// dead letters go through a plain producer; the consumer already retries
	pcfg := redpanda.DefaultProducerConfig()
	pcfg.Brokers = cfg.Kafka.Brokers
	deadLetter, err := redpanda.NewProducer(pcfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deadLetter.Close(); err != nil {
			logger.Warn("close dead letter producer", zap.Error(err))
		}
	}()

	inbox := idempotency.NewInbox(idempotency.NewPostgresStore(pool), idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	m := newMetrics()
	ix := indexer.New(inbox, postgres.NewProjector(pool, logger), logger,
		indexer.WithConsumedCounter(m.KafkaMessagesConsumed))

	ccfg := redpanda.DefaultConsumerConfig()
	ccfg.Brokers = cfg.Kafka.Brokers
	ccfg.GroupID = cfg.Kafka.GroupID
	if cfg.Kafka.Workers > 0 {
		ccfg.Pool.Workers = cfg.Kafka.Workers
	}
	consumer, err := redpanda.NewConsumer(ccfg, ix.Handle, deadLetter, logger)
	if err != nil {
		return err
	}
	consumer.Start()
	defer func() {
		if err := consumer.Stop(); err != nil {
			logger.Warn("stop consumer", zap.Error(err))
		}
	}()
	logger.Info("indexer started",
		zap.String("group", ccfg.GroupID),
		zap.Strings("topics", ccfg.Topics),
		zap.Int("workers", ccfg.Pool.Workers))

	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if lag, err := admin.GetConsumerGroupLag(ctx, ccfg.GroupID); err != nil {
					logger.Warn("consumer lag unavailable", zap.Error(err))
				} else {
					m.SetConsumerLag(lag)
				}
				stats := consumer.Stats()
				logger.Debug("indexer progress",
					zap.Int64("read", stats.MessagesRead),
					zap.Int64("errors", stats.ErrorCount),
					zap.Int64("dead_lettered", stats.DeadLettered),
					zap.Bool("pool_healthy", stats.PoolHealthy))
				if recovered, err := inbox.RecoverStaleEntries(ctx); err != nil {
					logger.Warn("inbox recovery failed", zap.Error(err))
				} else if recovered > 0 {
					logger.Info("stale inbox entries recovered", zap.Int64("count", recovered))
				}
				if is, err := inbox.GetStats(ctx); err == nil {
					logger.Debug("inbox state",
						zap.Int64("finished", is.Finished),
						zap.Int64("recoverable", is.Recoverable),
						zap.Int64("failed", is.Failed))
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := redpanda.HealthCheck(r.Context(), cfg.Kafka.Brokers); err != nil {
			http.Error(w, "broker unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return serveHTTP(ctx, &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, logger)
}
