package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/api"
	"github.com/lalithlochan/pulse/internal/config"
	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/observ"
	"github.com/lalithlochan/pulse/internal/pipeline"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/redis"
	"github.com/lalithlochan/pulse/internal/reports"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting pulse gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs ingestion idempotency; the gateway degrades without it.
	var idempotency *redis.IdempotencyService
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		idempotency = redis.NewIdempotencyService(redisClient, logger)
		defer redisClient.Close()
	}

	producer, err := queue.NewProducer(ctx, queue.Config{
		Region: cfg.SQSRegion,
		QueueURLs: map[string]string{
			queue.QueueEvents:        cfg.EventsQueueURL,
			queue.QueueNotifications: cfg.NotificationsQueueURL,
			queue.QueueReports:       cfg.ReportsQueueURL,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create task producer: %w", err)
	}

	events := pipeline.NewEventProcessor(repo, producer, logger)
	notifier := pipeline.NewNotificationDispatcher(repo, producer, nil, nil, logger)
	reporter := reports.NewReporter(repo, logger)

	// The scheduler runs in the gateway: one instance submits the recurring
	// report and cleanup tasks, workers on the reports queue execute them.
	scheduler, err := reports.NewScheduler(producer, cfg.ReportCron, cfg.CleanupCron, cfg.RetentionDays, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(logger, repo, events, notifier, reporter, idempotency)
	router := api.NewRouter(handler, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
