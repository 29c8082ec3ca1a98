package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/mailer"
	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/retry"
	"github.com/lalithlochan/pulse/internal/webhook"
)

// maxWebhookNotificationRetries matches the webhook-notification retry
// policy: once retry_count reaches it, the notification is terminally failed.
const maxWebhookNotificationRetries = 5

// NotificationDispatcher owns the notification status state machine and
// channel-specific delivery.
type NotificationDispatcher struct {
	store  Store
	queue  Enqueuer
	mailer mailer.Mailer
	client Poster
	logger *zap.Logger
}

// NewNotificationDispatcher creates a notification dispatcher.
func NewNotificationDispatcher(store Store, q Enqueuer, m mailer.Mailer, client Poster, logger *zap.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		store:  store,
		queue:  q,
		mailer: m,
		client: client,
		logger: logger,
	}
}

// SendEmail delivers one email notification. A missing notification, a
// non-email channel, or a missing owner are permanent failures. A mail-send
// failure records the failed state and surfaces as transient; a later retry
// that succeeds recovers the notification to sent.
func (d *NotificationDispatcher) SendEmail(ctx context.Context, notificationID uuid.UUID) error {
	n, err := d.store.GetNotification(ctx, notificationID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("load notification %s: %w", notificationID, err)
	}

	if n.Channel != db.ChannelEmail {
		return retry.Permanent(fmt.Errorf("notification %s is %s, not email", notificationID, n.Channel))
	}

	user, err := d.store.GetUser(ctx, n.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("load user %s: %w", n.UserID, err)
	}

	if err := d.mailer.Send(ctx, user.Email, n.Title, n.Content); err != nil {
		if _, rerr := d.store.IncrementNotificationRetry(ctx, n.ID); rerr != nil {
			d.logger.Warn("failed to bump retry count", zap.Error(rerr))
		}
		if ferr := d.store.MarkNotificationFailed(ctx, n.ID, err.Error()); ferr != nil {
			d.logger.Warn("failed to mark notification failed", zap.Error(ferr))
		}
		metrics.RecordNotificationProcessed(string(db.NotificationFailed), string(db.ChannelEmail))
		return fmt.Errorf("send email notification %s: %w", notificationID, err)
	}

	if err := d.store.MarkNotificationSent(ctx, n.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}

	metrics.RecordNotificationProcessed(string(db.NotificationSent), string(db.ChannelEmail))
	d.logger.Info("email notification sent",
		zap.String("notification_id", notificationID.String()),
		zap.String("to", user.Email),
	)

	return nil
}

// SendWebhook delivers one webhook-channel notification to a caller-supplied
// target. Failures leave the notification pending for redelivery until the
// retry count reaches the ceiling, at which point it is terminally failed
// with the captured error.
func (d *NotificationDispatcher) SendWebhook(ctx context.Context, notificationID uuid.UUID, url, secret string) error {
	n, err := d.store.GetNotification(ctx, notificationID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("load notification %s: %w", notificationID, err)
	}

	result, postErr := d.client.Post(ctx, url, secret, webhook.NotificationPayload(n))
	if postErr == nil && result.OK() {
		if err := d.store.MarkNotificationSent(ctx, n.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("mark notification sent: %w", err)
		}
		metrics.RecordNotificationProcessed(string(db.NotificationSent), string(db.ChannelWebhook))
		d.logger.Info("webhook notification sent",
			zap.String("notification_id", notificationID.String()),
			zap.String("url", url),
		)
		return nil
	}

	cause := postErr
	if cause == nil {
		cause = fmt.Errorf("status %d: %s", result.StatusCode, result.Body)
	}

	count, err := d.store.IncrementNotificationRetry(ctx, n.ID)
	if err != nil {
		d.logger.Warn("failed to bump retry count", zap.Error(err))
	}

	if count >= maxWebhookNotificationRetries {
		if err := d.store.MarkNotificationFailed(ctx, n.ID, cause.Error()); err != nil {
			d.logger.Warn("failed to mark notification failed", zap.Error(err))
		}
		metrics.RecordNotificationProcessed(string(db.NotificationFailed), string(db.ChannelWebhook))
	}

	return fmt.Errorf("send webhook notification %s: %w", notificationID, cause)
}

// CreateAndDispatch persists a notification and routes it by channel: email
// is queued for delivery, in-app is sent at creation with no delivery
// attempt, and webhook targets are supplied by the caller through
// DispatchWebhook.
func (d *NotificationDispatcher) CreateAndDispatch(ctx context.Context, userID uuid.UUID, channel db.Channel, title, content string, metadata map[string]any) (*db.Notification, error) {
	if !channel.Valid() {
		return nil, fmt.Errorf("unknown channel %q", channel)
	}

	n := &db.Notification{
		UserID:    userID,
		Channel:   channel,
		Title:     title,
		Content:   content,
		ExtraData: metadata,
		Status:    db.NotificationPending,
	}

	if channel == db.ChannelInApp {
		now := time.Now().UTC()
		n.Status = db.NotificationSent
		n.SentAt = &now
	}

	if err := d.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if channel == db.ChannelEmail {
		task, err := queue.NewTask(queue.TaskEmailNotification, queue.EmailNotificationPayload{
			NotificationID: n.ID.String(),
		})
		if err == nil {
			err = d.queue.Enqueue(ctx, task, 0)
		}
		if err != nil {
			// The notification stays pending; the failure is observable.
			metrics.RecordEnqueueFailure(queue.TaskEmailNotification)
			d.logger.Warn("failed to enqueue email notification",
				zap.Error(err),
				zap.String("notification_id", n.ID.String()),
			)
		}
	}

	return n, nil
}

// DispatchWebhook queues delivery of an existing webhook-channel
// notification to a caller-supplied URL and secret.
func (d *NotificationDispatcher) DispatchWebhook(ctx context.Context, notificationID uuid.UUID, url, secret string) error {
	task, err := queue.NewTask(queue.TaskWebhookNotification, queue.WebhookNotificationPayload{
		NotificationID: notificationID.String(),
		URL:            url,
		Secret:         secret,
	})
	if err != nil {
		return err
	}
	return d.queue.Enqueue(ctx, task, 0)
}

// BulkResult reports the outcome of one user's notification in a bulk send.
type BulkResult struct {
	UserID         uuid.UUID `json:"user_id"`
	NotificationID uuid.UUID `json:"notification_id,omitempty"`
	Err            error     `json:"-"`
}

// CreateBulk fans CreateAndDispatch out over the target users. Individual
// failures do not abort the batch.
func (d *NotificationDispatcher) CreateBulk(ctx context.Context, userIDs []uuid.UUID, channel db.Channel, title, content string, metadata map[string]any) []BulkResult {
	results := make([]BulkResult, 0, len(userIDs))

	for _, userID := range userIDs {
		n, err := d.CreateAndDispatch(ctx, userID, channel, title, content, metadata)
		res := BulkResult{UserID: userID, Err: err}
		if err == nil {
			res.NotificationID = n.ID
		} else {
			d.logger.Warn("bulk notification failed",
				zap.Error(err),
				zap.String("user_id", userID.String()),
			)
		}
		results = append(results, res)
	}

	return results
}
