package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/config"
	"github.com/drfirst/rxchain/internal/infrastructure/postgres"
	"github.com/drfirst/rxchain/internal/infrastructure/redpanda"
	"github.com/drfirst/rxchain/pkg/circuitbreaker"
)

const (
	statsInterval     = 15 * time.Second
	processedRetained = 24 * time.Hour
)

var errDatabaseRequired = errors.New("database.url is required")

func relayCmd(configPath *string) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish outbox entries to Redpanda",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address serving /metrics")
	return cmd
}

// countingPublisher counts successful publishes
type countingPublisher struct {
	next     redpanda.Publisher
	produced prometheus.Counter
}

func (p *countingPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := p.next.Publish(ctx, topic, key, value); err != nil {
		return err
	}
	p.produced.Inc()
	return nil
}

func runRelay(ctx context.Context, cfg *config.Config, metricsAddr string) error {
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

	stopTracing, err := initTracing(ctx, cfg, "relay")
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
	if topics, err := admin.ListTopics(ctx); err == nil {
		logger.Debug("broker topics", zap.Strings("topics", topics))
	}

	pcfg := redpanda.DefaultProducerConfig()
	pcfg.Brokers = cfg.Kafka.Brokers
	producer, err := redpanda.NewProducer(pcfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Warn("close producer", zap.Error(err))
		}
	}()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("redpanda-publish"), logger)
	if err != nil {
		return err
	}
	m := newMetrics()
	m.ObserveBreaker(breaker)

	ocfg := postgres.DefaultOutboxConfig()
	ocfg.BatchSize = cfg.Outbox.BatchSize
	ocfg.PollInterval = cfg.Outbox.PollInterval
	ocfg.MaxRetries = cfg.Outbox.MaxRetries
	outbox := postgres.NewOutbox(pool, &countingPublisher{
		next:     redpanda.NewGuardedPublisher(producer, breaker),
		produced: m.KafkaMessagesProduced,
	}, ocfg, logger)

	outbox.Start()
	defer outbox.Stop()
	logger.Info("outbox relay started", zap.Int("batch_size", ocfg.BatchSize))

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if breaker.IsOpen() {
			http.Error(w, "publishing suspended", http.StatusServiceUnavailable)
			return
		}
		if err := producer.Ping(r.Context()); err != nil {
			http.Error(w, "broker unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOutbox(ctx, outbox, m.OutboxPending, m.OutboxFailed, logger)
				stats := producer.Stats()
				logger.Debug("relay progress",
					zap.Int64("sent", stats.MessagesSent),
					zap.Int64("bytes", stats.BytesSent),
					zap.Int64("errors", stats.ErrorCount),
					zap.String("breaker", string(breaker.GetState())))
			}
		}
	}()

	return serveHTTP(ctx, &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, logger)
}

// sweepOutbox dead-letters exhausted entries, prunes delivered ones and
// refreshes the outbox gauges
func sweepOutbox(ctx context.Context, outbox *postgres.Outbox, pending, failed prometheus.Gauge, logger *zap.Logger) {
	if moved, err := outbox.MoveToDeadLetter(ctx); err != nil {
		logger.Error("dead letter sweep failed", zap.Error(err))
	} else if moved > 0 {
		logger.Warn("outbox entries dead-lettered", zap.Int64("count", moved))
	}

	if removed, err := outbox.CleanupProcessed(ctx, processedRetained); err != nil {
		logger.Error("outbox cleanup failed", zap.Error(err))
	} else if removed > 0 {
		logger.Debug("processed outbox entries removed", zap.Int64("count", removed))
	}

	stats, err := outbox.GetStats(ctx)
	if err != nil {
		logger.Error("outbox stats failed", zap.Error(err))
		return
	}
	pending.Set(float64(stats.Pending))
	failed.Set(float64(stats.Failed))
	if stats.OldestPending != nil {
		logger.Debug("outbox backlog",
			zap.Int64("pending", stats.Pending),
			zap.Duration("oldest", time.Since(*stats.OldestPending)))
	}
}
