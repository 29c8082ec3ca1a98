package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/retry"
	"github.com/lalithlochan/pulse/internal/webhook"
)

// WebhookDispatcher fans events out to matching subscriptions in two phases:
// selection enqueues one independent delivery task per match, delivery signs
// and posts a single payload.
type WebhookDispatcher struct {
	store  Store
	queue  Enqueuer
	client Poster
	logger *zap.Logger
}

// NewWebhookDispatcher creates a webhook dispatcher.
func NewWebhookDispatcher(store Store, q Enqueuer, client Poster, logger *zap.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		store:  store,
		queue:  q,
		client: client,
		logger: logger,
	}
}

// SelectAndTrigger enqueues a delivery task for every active subscription of
// the event's owner whose filter matches the event type. A load failure —
// including a not-yet-visible event — is transient; the queue retries.
func (d *WebhookDispatcher) SelectAndTrigger(ctx context.Context, eventID uuid.UUID) error {
	event, err := d.store.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}

	webhooks, err := d.store.ListActiveWebhooks(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("list webhooks for user %s: %w", event.UserID, err)
	}

	triggered := 0
	for _, w := range webhooks {
		if !w.ShouldTrigger(event.EventType) {
			continue
		}

		task, err := queue.NewTask(queue.TaskDeliverWebhook, queue.DeliverWebhookPayload{
			WebhookID: w.ID.String(),
			EventID:   eventID.String(),
		})
		if err == nil {
			err = d.queue.Enqueue(ctx, task, 0)
		}
		if err != nil {
			metrics.RecordEnqueueFailure(queue.TaskDeliverWebhook)
			d.logger.Warn("failed to enqueue webhook delivery",
				zap.Error(err),
				zap.String("webhook_id", w.ID.String()),
				zap.String("event_id", eventID.String()),
			)
			continue
		}
		triggered++
	}

	d.logger.Info("webhooks triggered",
		zap.String("event_id", eventID.String()),
		zap.Int("triggered", triggered),
	)

	return nil
}

// DeliverOne performs a single delivery attempt for one subscription. The
// counters account for every attempt and last_triggered_at is touched
// regardless of outcome; a failed attempt surfaces as transient so the queue
// redelivers, and exhaustion simply drops the attempt.
func (d *WebhookDispatcher) DeliverOne(ctx context.Context, webhookID, eventID uuid.UUID) error {
	w, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("load webhook %s: %w", webhookID, err)
	}

	event, err := d.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("load event %s: %w", eventID, err)
	}

	user, err := d.store.GetUser(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("load user %s: %w", event.UserID, err)
	}

	result, postErr := d.client.Post(ctx, w.URL, w.Secret, webhook.EventPayload(event, user))
	success := postErr == nil && result.OK()

	if err := d.store.RecordWebhookDelivery(ctx, w.ID, success); err != nil {
		d.logger.Error("failed to record webhook delivery",
			zap.Error(err),
			zap.String("webhook_id", w.ID.String()),
		)
	}
	metrics.RecordWebhookDelivery(success)

	if success {
		d.logger.Info("webhook delivered",
			zap.String("webhook_id", w.ID.String()),
			zap.String("event_id", eventID.String()),
			zap.Int("status_code", result.StatusCode),
		)
		return nil
	}

	if postErr != nil {
		return fmt.Errorf("deliver webhook %s: %w", webhookID, postErr)
	}
	return fmt.Errorf("deliver webhook %s: status %d: %s", webhookID, result.StatusCode, result.Body)
}
