// Command syncd runs the article sync daemon: it keeps a local SQLite store
// in step with the remote feed, coordinating background and manual sync
// triggers through a single-flight coordinator and a deduplicating
// ingestion pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"feedsync/internal/config"
	sqliteStore "feedsync/internal/infra/adapter/persistence/sqlite"
	"feedsync/internal/infra/exchange"
	"feedsync/internal/infra/fetcher"
	"feedsync/internal/infra/netgate"
	"feedsync/internal/infra/scheduler"
	workerPkg "feedsync/internal/infra/worker"
	"feedsync/internal/observability/logging"
	"feedsync/internal/observability/tracing"
	"feedsync/internal/usecase/dedup"
	"feedsync/internal/usecase/ingest"
	"feedsync/internal/usecase/notify"
	syncUC "feedsync/internal/usecase/sync"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownTracing := tracing.Setup()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	db, err := sqliteStore.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open article store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close article store", slog.Any("error", err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := sqliteStore.NewArticleStore(db)
	registry := dedup.NewRegistry(logger)
	gate := netgate.NewInterfaceGate(logger)

	exchangeClient := exchange.NewClient(exchange.Config{
		BaseURL:   cfg.Endpoint.BaseURL,
		Token:     cfg.Endpoint.Token,
		UserAgent: "feedsync/1.0",
	}, nil, logger)

	payloadClient := fetcher.NewPayloadClient(fetcher.Config{
		Timeout:      cfg.Sync.ItemTimeout,
		MaxBodyBytes: 2 << 20,
		UserAgent:    "feedsync/1.0",
	}, logger)

	pipeline := ingest.NewPipeline(registry, store, payloadClient, ingest.Config{
		Parallelism: cfg.Sync.Parallelism,
		ItemTimeout: cfg.Sync.ItemTimeout,
	}, logger)

	events := notify.NewService([]notify.Channel{&notify.LogChannel{Logger: logger}}, 4, logger)
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := events.Shutdown(shutdownCtx); err != nil {
			logger.Warn("event service shutdown incomplete", slog.Any("error", err))
		}
	}()

	host := scheduler.NewTimerHost(cfg.Scheduler.TaskBudget, logger)
	defer host.Stop()

	// The coordinator and adapter reference each other: the adapter drives
	// BackgroundSync, the coordinator reschedules through the adapter.
	coordinator := syncUC.NewCoordinator(store, exchangeClient, gate, pipeline, events, nil, syncUC.Config{
		ManualThrottle:  cfg.Sync.ManualThrottle,
		ExchangeTimeout: cfg.Sync.ExchangeTimeout,
		SeenLookback:    cfg.Sync.SeenLookback,
		AllowCellular:   cfg.Network.AllowCellular,
	}, logger)

	adapter := scheduler.NewAdapter(host, coordinator, scheduler.Config{
		BaseInterval:         cfg.Scheduler.BaseInterval,
		RecentActivityWindow: cfg.Scheduler.RecentActivityWindow,
		PendingShortInterval: cfg.Scheduler.PendingShortInterval,
		PendingThreshold:     cfg.Scheduler.PendingThreshold,
		MaintenanceAfter:     cfg.Scheduler.MaintenanceAfter,
		BatchWindow:          cfg.Scheduler.BatchWindow,
		AllowCellular:        cfg.Network.AllowCellular,
		RequirePower:         cfg.Scheduler.RequirePower,
	}, logger)
	coordinator.SetRescheduler(adapter)

	statusServer := workerPkg.NewStatusServer(
		fmt.Sprintf(":%d", cfg.Status.Port),
		coordinator, coordinator, adapter, logger,
	)
	go func() {
		if err := statusServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("status server failed", slog.Any("error", err))
		}
	}()

	startMaintenanceCron(logger, adapter)

	// Kick off the first background slot; every run reschedules the next.
	adapter.ScheduleFetch()
	statusServer.SetReady(true)

	logger.Info("syncd started",
		slog.String("endpoint", cfg.Endpoint.BaseURL),
		slog.String("store", cfg.Store.Path),
		slog.Int("status_port", cfg.Status.Port))

	<-ctx.Done()
	logger.Info("shutting down")
}

// startMaintenanceCron runs the daily staleness sweep: if sync has not
// succeeded in the maintenance window, the adapter's next request drops the
// power requirement so the host grants a slot as soon as possible.
func startMaintenanceCron(logger *slog.Logger, adapter *scheduler.Adapter) {
	c := cron.New()
	if _, err := c.AddFunc("@hourly", adapter.ScheduleSync); err != nil {
		logger.Error("failed to register maintenance cron", slog.Any("error", err))
		return
	}
	c.Start()
	logger.Info("maintenance cron started", slog.String("schedule", "@hourly"))
}
