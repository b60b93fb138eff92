package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inspersync/inspersync/internal/app"
	"github.com/inspersync/inspersync/internal/shared/infrastructure/eventbus"
	syncApp "github.com/inspersync/inspersync/internal/sync/application"
	"github.com/inspersync/inspersync/pkg/config"
	"github.com/inspersync/inspersync/pkg/observability"
)

// retryQueueTTL is how long a failed sync job waits on the delay queue
// before it dead-letters back into the work queue.
const retryQueueTTL = 60 * time.Second

func main() {
	logger := observability.LoggerFromEnv()

	logger.Info("starting inspersync worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.LocalMode {
		logger.Error("worker requires server mode (set DATABASE_URL and unset INSPERSYNC_LOCAL_MODE)")
		os.Exit(1)
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	if !container.SyncEnabled() {
		logger.Error("sync services unavailable, nothing for the worker to do")
		os.Exit(1)
	}

	registry := eventbus.NewConsumerRegistry(logger)

	consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
		URL: cfg.RabbitMQURL,
		RetryQueue: &eventbus.RetryQueueConfig{
			Name:          "inspersync.worker.retry",
			BindingKey:    syncApp.RoutingKeySyncRetry,
			DeadLetterKey: syncApp.RoutingKeySyncRequested,
			TTL:           retryQueueTTL,
		},
		Logger: logger,
	}, registry)
	if err != nil {
		logger.Error("failed to connect consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Registering through the consumer binds the work queue to the
	// subscriber's routing keys.
	consumer.RegisterConsumer(container.SyncSubscriber)

	// Scheduler: enqueue users whose sync frequency says they are due.
	schedulerTicker := time.NewTicker(cfg.SchedulerInterval)
	defer schedulerTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-schedulerTicker.C:
				enqueued, err := container.Orchestrator.EnqueueDueUsers(ctx)
				if err != nil {
					logger.Error("scheduler pass failed", "error", err)
					continue
				}
				if enqueued > 0 {
					logger.Info("scheduler enqueued due users", "count", enqueued)
				}
			}
		}
	}()

	// Session cleanup: drop sync sessions past the retention window.
	retention := time.Duration(cfg.SessionRetentionDays) * 24 * time.Hour
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanupTicker.C:
				deleted, err := container.Orchestrator.CleanupSessions(ctx, retention)
				if err != nil {
					logger.Error("session cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					logger.Info("session cleanup completed", "deleted", deleted, "retention_days", cfg.SessionRetentionDays)
				}
			}
		}
	}()

	if cfg.WorkerHealthAddr != "" {
		startHealthServer(ctx, cfg.WorkerHealthAddr, container, logger)
	}

	logger.Info("worker ready",
		"scheduler_interval", cfg.SchedulerInterval,
		"session_retention_days", cfg.SessionRetentionDays,
	)

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("worker stopped")
}

func startHealthServer(ctx context.Context, addr string, container *app.Container, logger *slog.Logger) {
	health := observability.NewHealthRegistry()
	health.Register("postgres", observability.DatabaseHealthChecker(func(ctx context.Context) error {
		return container.DB.Ping(ctx)
	}))
	if container.RedisClient != nil {
		health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return container.RedisClient.Ping(ctx).Err()
		}))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "ok",
			"sync_runs":      container.Metrics.GetCounter(observability.MetricSyncRuns),
			"sync_failures":  container.Metrics.GetCounter(observability.MetricSyncFailures),
			"events_created": container.Metrics.GetCounter(observability.MetricEventsCreated),
			"events_updated": container.Metrics.GetCounter(observability.MetricEventsUpdated),
			"events_deleted": container.Metrics.GetCounter(observability.MetricEventsDeleted),
			"events_failed":  container.Metrics.GetCounter(observability.MetricEventsFailed),
		})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		overall := health.GetOverallHealth(checkCtx)
		w.Header().Set("Content-Type", "application/json")
		if overall.Status == observability.HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(overall)
	})

	healthSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("health server starting", "addr", addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()
}
