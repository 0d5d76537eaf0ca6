package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	"github.com/tverberg/switchyard/internal/accounts"
	"github.com/tverberg/switchyard/internal/cache"
	"github.com/tverberg/switchyard/internal/config"
	"github.com/tverberg/switchyard/internal/cost"
	"github.com/tverberg/switchyard/internal/provider/factory"
	"github.com/tverberg/switchyard/internal/router"
	"github.com/tverberg/switchyard/internal/server"
	"github.com/tverberg/switchyard/internal/storage/sqlite"
	"github.com/tverberg/switchyard/internal/telemetry"
	"github.com/tverberg/switchyard/internal/worker"
)

const dnsRefreshEvery = 5 * time.Minute

func run(configPath, addrOverride, dbOverride string) error {
	// Load config
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if addrOverride != "" {
		cfg.Server.Addr = addrOverride
	}
	if dbOverride != "" {
		cfg.Database.DSN = dbOverride
	}

	setupLogging(cfg.Logging)
	slog.Info("starting switchyard", "version", version, "addr", cfg.Server.Addr)

	// Open database
	store, err := sqlite.New(cfg.ResolveDSN())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	// Telemetry
	var reg *prometheus.Registry
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg)
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				slog.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	// Restore account registry, then seed accounts from provider env keys
	manager := accounts.New(store, slog.Default().With("component", "accounts"))
	accts, err := store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	manager.Load(accts)
	if err := config.Bootstrap(ctx, manager, slog.Default()); err != nil {
		return err
	}

	// Cost ledger: budgets plus the current UTC day's entries (older days
	// are served from rollups)
	recorder := worker.NewCostRecorder(store, metrics)
	ledger := cost.New(store, recorder, slog.Default().With("component", "cost"))
	budgets, err := store.ListBudgets(ctx)
	if err != nil {
		return fmt.Errorf("load budgets: %w", err)
	}
	now := time.Now().UTC()
	entries, err := store.QueryCostEntries(ctx, now.Truncate(24*time.Hour), now)
	if err != nil {
		return fmt.Errorf("load cost entries: %w", err)
	}
	ledger.Load(budgets, entries)

	// Adapters and routing
	resolver := &dnscache.Resolver{}
	fact := factory.New(resolver)
	rtr := router.New(manager, fact, metrics, slog.Default().With("component", "router"))

	catalogCache, err := cache.NewMemory(1024, time.Minute)
	if err != nil {
		return err
	}

	// Create HTTP server
	var gatherer prometheus.Gatherer
	if reg != nil {
		gatherer = reg
	}
	handler := server.New(server.Deps{
		Accounts: manager,
		Router:   rtr,
		Ledger:   ledger,
		Factory:  fact,
		Costs:    store,
		Cache:    catalogCache,
		Metrics:  metrics,
		Gatherer: gatherer,
		APIKey:   cfg.Server.APIKey,
		Version:  version,
		Started:  time.Now(),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	runner := worker.NewRunner(
		recorder,
		worker.NewCostRollupWorker(store, ledger),
		worker.NewBudgetAlertWorker(ledger),
	)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()
	go refreshDNS(workerCtx, resolver)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("switchyard ready", "addr", cfg.Server.Addr)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	case err := <-workerDone:
		return fmt.Errorf("worker stopped: %w", err)
	}

	// Shutdown: stop accepting requests, then let the workers drain
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stopWorkers()
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("worker shutdown", "error", err)
	}

	slog.Info("switchyard stopped")
	return nil
}

// setupLogging installs the process-wide slog handler from config.
func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// refreshDNS re-resolves cached upstream hosts on a fixed interval so
// long-lived connection pools follow provider DNS changes.
func refreshDNS(ctx context.Context, resolver *dnscache.Resolver) {
	ticker := time.NewTicker(dnsRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			resolver.Refresh(true)
		case <-ctx.Done():
			return
		}
	}
}
