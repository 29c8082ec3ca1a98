package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/pulse/internal/circuitbreaker"
	"github.com/lalithlochan/pulse/internal/config"
	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/mailer"
	"github.com/lalithlochan/pulse/internal/observ"
	"github.com/lalithlochan/pulse/internal/pipeline"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/reports"
	"github.com/lalithlochan/pulse/internal/retry"
	"github.com/lalithlochan/pulse/internal/webhook"
	"github.com/lalithlochan/pulse/internal/worker"
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

	logger.Info("starting pulse worker", zap.String("env", cfg.Env))

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

	queueCfg := queue.Config{
		Region: cfg.SQSRegion,
		QueueURLs: map[string]string{
			queue.QueueEvents:        cfg.EventsQueueURL,
			queue.QueueNotifications: cfg.NotificationsQueueURL,
			queue.QueueReports:       cfg.ReportsQueueURL,
		},
	}

	producer, err := queue.NewProducer(ctx, queueCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create task producer: %w", err)
	}

	ses, err := mailer.NewSES(ctx, mailer.Config{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES mailer: %w", err)
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("webhook-delivery"), logger)
	client := webhook.NewClient(webhook.Config{
		Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
	}, breaker, logger)

	events := pipeline.NewEventProcessor(repo, producer, logger)
	webhooks := pipeline.NewWebhookDispatcher(repo, producer, client, logger)
	notifier := pipeline.NewNotificationDispatcher(repo, producer, ses, client, logger)
	reporter := reports.NewReporter(repo, logger)

	eventsWorker, err := newQueueWorker(ctx, queueCfg, queue.QueueEvents, producer, logger)
	if err != nil {
		return err
	}
	eventsWorker.Register(queue.TaskProcessEvent, func(ctx context.Context, payload json.RawMessage) error {
		var p queue.ProcessEventPayload
		id, err := parseID(payload, &p, func() string { return p.EventID })
		if err != nil {
			return err
		}
		return events.Handle(ctx, id)
	}, retry.EventProcessing)
	eventsWorker.Register(queue.TaskTriggerWebhooks, func(ctx context.Context, payload json.RawMessage) error {
		var p queue.TriggerWebhooksPayload
		id, err := parseID(payload, &p, func() string { return p.EventID })
		if err != nil {
			return err
		}
		return webhooks.SelectAndTrigger(ctx, id)
	}, retry.WebhookTrigger)
	eventsWorker.Register(queue.TaskDeliverWebhook, func(ctx context.Context, payload json.RawMessage) error {
		var p queue.DeliverWebhookPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return retry.Permanent(fmt.Errorf("decode payload: %w", err))
		}
		webhookID, err := uuid.Parse(p.WebhookID)
		if err != nil {
			return retry.Permanent(fmt.Errorf("invalid webhook_id: %w", err))
		}
		eventID, err := uuid.Parse(p.EventID)
		if err != nil {
			return retry.Permanent(fmt.Errorf("invalid event_id: %w", err))
		}
		return webhooks.DeliverOne(ctx, webhookID, eventID)
	}, retry.WebhookDelivery)

	notifWorker, err := newQueueWorker(ctx, queueCfg, queue.QueueNotifications, producer, logger)
	if err != nil {
		return err
	}
	notifWorker.Register(queue.TaskEmailNotification, func(ctx context.Context, payload json.RawMessage) error {
		var p queue.EmailNotificationPayload
		id, err := parseID(payload, &p, func() string { return p.NotificationID })
		if err != nil {
			return err
		}
		return notifier.SendEmail(ctx, id)
	}, retry.EmailNotification)
	notifWorker.Register(queue.TaskWebhookNotification, func(ctx context.Context, payload json.RawMessage) error {
		var p queue.WebhookNotificationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return retry.Permanent(fmt.Errorf("decode payload: %w", err))
		}
		id, err := uuid.Parse(p.NotificationID)
		if err != nil {
			return retry.Permanent(fmt.Errorf("invalid notification_id: %w", err))
		}
		return notifier.SendWebhook(ctx, id, p.URL, p.Secret)
	}, retry.WebhookNotification)

	reportsWorker, err := newQueueWorker(ctx, queueCfg, queue.QueueReports, producer, logger)
	if err != nil {
		return err
	}
	reportsWorker.Register(queue.TaskDailyReport, func(ctx context.Context, payload json.RawMessage) error {
		_, err := reporter.DailyReports(ctx)
		return err
	}, retry.None)
	reportsWorker.Register(queue.TaskCleanupEvents, func(ctx context.Context, payload json.RawMessage) error {
		var p queue.CleanupEventsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return retry.Permanent(fmt.Errorf("decode payload: %w", err))
		}
		days := p.RetentionDays
		if days <= 0 {
			days = cfg.RetentionDays
		}
		_, err := reporter.CleanupOldEvents(ctx, days)
		return err
	}, retry.None)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return eventsWorker.Run(gctx) })
	g.Go(func() error { return notifWorker.Run(gctx) })
	g.Go(func() error { return reportsWorker.Run(gctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	logger.Info("worker stopped gracefully")
	return nil
}

func newQueueWorker(ctx context.Context, cfg queue.Config, queueName string, producer *queue.Producer, logger *zap.Logger) (*worker.Worker, error) {
	consumer, err := queue.NewConsumer(ctx, cfg, queueName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s consumer: %w", queueName, err)
	}
	return worker.New(consumer, producer, logger.With(zap.String("queue", queueName))), nil
}

// parseID decodes a payload and extracts its UUID field. Malformed payloads
// are permanent failures.
func parseID(payload json.RawMessage, dst any, field func() string) (uuid.UUID, error) {
	if err := json.Unmarshal(payload, dst); err != nil {
		return uuid.Nil, retry.Permanent(fmt.Errorf("decode payload: %w", err))
	}
	id, err := uuid.Parse(field())
	if err != nil {
		return uuid.Nil, retry.Permanent(fmt.Errorf("invalid id: %w", err))
	}
	return id, nil
}
