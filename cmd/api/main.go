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

	"github.com/alexnthnz/notification-dispatch/api/rest"
	"github.com/alexnthnz/notification-dispatch/internal/audit"
	"github.com/alexnthnz/notification-dispatch/internal/channels"
	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/database"
	"github.com/alexnthnz/notification-dispatch/internal/filter"
	"github.com/alexnthnz/notification-dispatch/internal/monitoring"
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

	logger.Info("Starting Notification Dispatch API")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize metrics
	metrics := monitoring.NewMetrics()
	logger.Info("Metrics initialized")

	// Connect to PostgreSQL
	postgres, err := database.NewPostgresDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer postgres.Close()

	// Initialize database schema
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

	// Initialize Kafka producer
	producer := queue.NewProducer(cfg.Kafka, logger)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	clk := clock.New()

	// The API process carries the stateless channels so drain and purge
	// requests can be served directly. Live socket connections belong to
	// the dispatcher; socket delivery from here reports no connection.
	registry := channels.NewRegistry()
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

	// Initialize REST API handler
	handler := rest.NewHandler(producer, orch, resolver, offlineQueue, metrics, logger)
	router := handler.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
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

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
