package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/audit"
	"github.com/alexnthnz/notification-dispatch/internal/channels"
	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/database"
	"github.com/alexnthnz/notification-dispatch/internal/filter"
	"github.com/alexnthnz/notification-dispatch/internal/monitoring"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
	"github.com/alexnthnz/notification-dispatch/internal/offline"
	"github.com/alexnthnz/notification-dispatch/internal/orchestrator"
	"github.com/alexnthnz/notification-dispatch/internal/preferences"
	"github.com/alexnthnz/notification-dispatch/internal/queue"
	"github.com/alexnthnz/notification-dispatch/internal/ratelimit"
	"github.com/alexnthnz/notification-dispatch/internal/retry"
	"github.com/alexnthnz/notification-dispatch/internal/tracker"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Notification Dispatcher")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize metrics
	metrics := monitoring.NewMetrics()

	// Connect to PostgreSQL
	postgres, err := database.NewPostgresDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer postgres.Close()

	if err := postgres.InitSchema(); err != nil {
		logger.Fatal("Failed to initialize database schema", zap.Error(err))
	}
	logger.Info("Database connected and schema initialized")

	// Connect to Redis
	redis, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("Redis connected")

	// Initialize Kafka consumer
	consumer := queue.NewConsumer(cfg.Kafka, "notification-dispatcher", logger)
	defer consumer.Close()
	logger.Info("Kafka consumer initialized")

	clk := clock.New()

	// Channel providers. The dispatcher owns the live socket hub.
	hub := channels.NewHub()
	registry := channels.NewRegistry()
	if cfg.Channels.SocketEnabled {
		registry.Register(channels.NewSocketProvider(hub))
	}
	if cfg.Channels.PushEnabled {
		tokens := channels.NewPostgresTokenSource(postgres)
		push, err := channels.NewPushProvider(context.Background(), cfg.Channels.Firebase, tokens, logger)
		if err != nil {
			logger.Fatal("Failed to initialize push provider", zap.Error(err))
		}
		registry.Register(push)
	}
	if cfg.Channels.RelayEnabled {
		registry.Register(channels.NewRelayProvider(cfg.Channels.Relay, logger))
	}

	contentFilter, err := filter.New(nil)
	if err != nil {
		logger.Fatal("Failed to compile content filter", zap.Error(err))
	}

	auditLog := audit.New(audit.NewPostgresStore(postgres), clk, logger)
	limiter := ratelimit.New(ratelimit.NewRedisStore(redis.Client), cfg.RateLimit, clk)
	deliveryTracker := tracker.New(tracker.NewPostgresStore(postgres), tracker.NewRedisClaimer(redis), clk, logger)
	resolver := preferences.NewResolver(preferences.NewPostgresStore(postgres), redis, cfg.QuietHours, clk, logger)

	policy := retry.PolicyFromConfig(cfg.Retry)
	scheduler := retry.NewScheduler(retry.NewPostgresStore(postgres), policy, cfg.Retry.SweepInterval, clk, logger)
	offlineQueue := offline.New(offline.NewPostgresStore(postgres), auditLog, policy, cfg.Offline, clk, logger)

	orch := orchestrator.New(registry, resolver, contentFilter, limiter, deliveryTracker,
		auditLog, scheduler, offlineQueue, cfg.Channels, metrics, clk, logger)
	logger.Info("Dispatch pipeline initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A reconnecting user immediately gets their queued backlog.
	hub.OnConnect(func(userID string) {
		drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
		defer drainCancel()

		delivered, err := offlineQueue.DrainFor(drainCtx, userID)
		if err != nil {
			logger.Error("Failed to drain offline queue on reconnect",
				zap.String("user_id", userID), zap.Error(err))
			return
		}
		if delivered > 0 {
			logger.Info("Drained offline queue on reconnect",
				zap.String("user_id", userID), zap.Int("delivered", delivered))
		}
	})

	// Background sweepers: due retries and due offline replays.
	go scheduler.Run(ctx)
	go offlineQueue.Run(ctx)

	// Consume dispatch events
	go func() {
		err := consumer.ConsumeEvents(ctx, func(event notification.Event) error {
			dispatchCtx, dispatchCancel := context.WithTimeout(ctx, 60*time.Second)
			defer dispatchCancel()

			result, err := orch.Dispatch(dispatchCtx, event)
			if err != nil {
				return err
			}
			logger.Debug("event dispatched",
				zap.String("event_id", result.EventID),
				zap.String("status", string(result.Status)),
			)
			return nil
		})
		if err != nil && err != context.Canceled {
			logger.Error("Consumer stopped", zap.Error(err))
		}
	}()

	// Start metrics server if enabled
	if cfg.Metrics.Enabled {
		metricsServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metrics.Handler(),
		}

		go func() {
			logger.Info("Starting metrics server", zap.Int("port", cfg.Metrics.Port))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down dispatcher...")
	cancel()

	// Give in-flight dispatches a moment to finish recording.
	time.Sleep(2 * time.Second)

	logger.Info("Dispatcher exited")
}
