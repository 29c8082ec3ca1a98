// Package pipeline holds the task handlers at the heart of the system: the
// event processor, the webhook dispatcher, and the notification dispatcher.
// Handlers reload entity state fresh at the start of every task and classify
// failures as permanent or transient for the worker runtime.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/webhook"
)

// Store is the slice of the entity store the pipeline depends on.
type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*db.Event, error)
	SetEventStatus(ctx context.Context, id uuid.UUID, from, to db.EventStatus) error
	MarkEventProcessed(ctx context.Context, id uuid.UUID, properties map[string]any, processedAt time.Time) error
	MarkEventFailed(ctx context.Context, id uuid.UUID) error

	GetWebhook(ctx context.Context, id uuid.UUID) (*db.Webhook, error)
	ListActiveWebhooks(ctx context.Context, userID uuid.UUID) ([]*db.Webhook, error)
	RecordWebhookDelivery(ctx context.Context, id uuid.UUID, success bool) error

	CreateNotification(ctx context.Context, n *db.Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	IncrementNotificationRetry(ctx context.Context, id uuid.UUID) (int, error)

	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// Enqueuer submits tasks to the broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error
}

// Poster delivers a signed payload to a subscriber URL.
type Poster interface {
	Post(ctx context.Context, url, secret string, payload any) (*webhook.Result, error)
}
