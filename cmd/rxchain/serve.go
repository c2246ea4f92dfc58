package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/api"
	"github.com/drfirst/rxchain/internal/api/handlers"
	"github.com/drfirst/rxchain/internal/config"
	"github.com/drfirst/rxchain/internal/infrastructure/leveldb"
	"github.com/drfirst/rxchain/internal/infrastructure/postgres"
	"github.com/drfirst/rxchain/internal/node"
)

// ErrChainExists is returned when a receipt store already holds a chain.
// Ledger state lives in memory, so every node run starts again from genesis.
var ErrChainExists = errors.New("receipt store already holds a chain")

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a ledger node with the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTracing, err := initTracing(ctx, cfg, "node")
	if err != nil {
		return err
	}
	defer shutdownTracing(stopTracing, logger)

	receipts, err := openReceipts(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := receipts.Close(); err != nil {
			logger.Warn("close receipt store", zap.Error(err))
		}
	}()

	m := newMetrics()
	nodeOpts := []node.Option{node.WithLogger(logger), node.WithSink(receipts), node.WithSink(m)}
	handlerOpts := []handlers.Option{handlers.WithReceipts(receipts)}
	var ready func(context.Context) error

	if cfg.Database.Enabled() {
		pool, err := openPool(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		events := postgres.NewEventStore(pool, logger)
		if _, ok, err := events.Latest(ctx); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: database receipts table is not empty", ErrChainExists)
		}
		nodeOpts = append(nodeOpts, node.WithSink(events))
		projector := postgres.NewProjector(pool, logger)
		handlerOpts = append(handlerOpts,
			handlers.WithEvents(events),
			handlers.WithOrders(projector),
			handlers.WithCatalog(projector))
		ready = pool.Ping
	} else {
		logger.Info("database disabled; event routes are not served")
	}

	n, err := node.New(ctx, cfg.Genesis, nodeOpts...)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	router := api.NewRouter(handlers.New(n, logger, handlerOpts...), m, api.RouterConfig{
		ServiceName: "rxchain-node",
		Auth:        authConfig(cfg),
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Ready:       ready,
	}, logger)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  2 * cfg.HTTP.WriteTimeout,
	}
	return serveHTTP(ctx, server, logger)
}

// openReceipts opens the LevelDB receipt store and refuses one left behind
// by an earlier run
func openReceipts(cfg *config.Config, logger *zap.Logger) (*leveldb.Store, error) {
	if cfg.Receipts.Path == "" {
		return leveldb.OpenMemory(logger)
	}
	store, err := leveldb.Open(cfg.Receipts.Path, logger)
	if err != nil {
		return nil, err
	}
	if _, ok, err := store.Latest(); err != nil || ok {
		_ = store.Close()
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrChainExists, cfg.Receipts.Path)
	}
	return store, nil
}

// serveHTTP runs server until ctx is cancelled, then drains it
func serveHTTP(ctx context.Context, server *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
