// Package main provides the rxchain command: the ledger node, the outbox
// relay, the event indexer and offline whitelist and token tools.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/api"
	"github.com/drfirst/rxchain/internal/api/middleware"
	"github.com/drfirst/rxchain/internal/config"
	"github.com/drfirst/rxchain/internal/infrastructure/postgres"
	"github.com/drfirst/rxchain/internal/observability/metrics"
	"github.com/drfirst/rxchain/internal/observability/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "rxchain",
		Short:        "Prescription and pharmacy exchange ledger",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file; RXCHAIN_* variables override it")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(relayCmd(&configPath))
	root.AddCommand(indexerCmd(&configPath))
	root.AddCommand(whitelistCmd())
	root.AddCommand(tokenCmd(&configPath))
	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.IsDev() {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

func initTracing(ctx context.Context, cfg *config.Config, component string) (tracing.ShutdownFunc, error) {
	return tracing.Setup(ctx, cfg.Tracing, tracing.Process{
		Component: component,
		Version:   api.Version,
		Env:       cfg.Env,
	})
}

func shutdownTracing(shutdown tracing.ShutdownFunc, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}
}

// newMetrics registers the application metrics next to the Go runtime and
// process collectors
func newMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg)
}

func openPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	pcfg := postgres.DefaultPoolConfig()
	pcfg.URL = cfg.Database.URL
	pcfg.MaxConns = cfg.Database.MaxConns
	pcfg.MinConns = cfg.Database.MinConns

	pool, err := postgres.NewPool(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to database", zap.Int32("max_conns", pcfg.MaxConns))
	return pool, nil
}

func authConfig(cfg *config.Config) middleware.AuthConfig {
	return middleware.AuthConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	}
}
