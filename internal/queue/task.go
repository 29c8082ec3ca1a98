package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Logical queue names.
const (
	QueueEvents        = "events"
	QueueNotifications = "notifications"
	QueueReports       = "reports"
)

// Task types. The prefix decides the queue a task is routed to.
const (
	TaskProcessEvent        = "event.process"
	TaskTriggerWebhooks     = "webhook.trigger"
	TaskDeliverWebhook      = "webhook.deliver"
	TaskEmailNotification   = "notification.email"
	TaskWebhookNotification = "notification.webhook"
	TaskDailyReport         = "report.daily"
	TaskCleanupEvents       = "report.cleanup"
)

// QueueForTask maps a task type onto its logical queue. Event processing and
// both webhook fan-out stages share the events queue; notification delivery
// and scheduled jobs each get their own.
func QueueForTask(taskType string) (string, error) {
	switch {
	case strings.HasPrefix(taskType, "event."), strings.HasPrefix(taskType, "webhook."):
		return QueueEvents, nil
	case strings.HasPrefix(taskType, "notification."):
		return QueueNotifications, nil
	case strings.HasPrefix(taskType, "report."):
		return QueueReports, nil
	default:
		return "", fmt.Errorf("no queue for task type %q", taskType)
	}
}

// Task is the envelope carried on the broker.
type Task struct {
	Type       string          `json:"type"`
	Attempt    int             `json:"attempt"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueued_at"`
}

// NewTask builds a first-attempt task with a JSON payload.
func NewTask(taskType string, payload any) (Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("marshal task payload: %w", err)
	}
	return Task{
		Type:       taskType,
		Payload:    body,
		EnqueuedAt: time.Now().UnixNano(),
	}, nil
}

// Task payloads.

type ProcessEventPayload struct {
	EventID string `json:"event_id"`
}

type TriggerWebhooksPayload struct {
	EventID string `json:"event_id"`
}

type DeliverWebhookPayload struct {
	WebhookID string `json:"webhook_id"`
	EventID   string `json:"event_id"`
}

type EmailNotificationPayload struct {
	NotificationID string `json:"notification_id"`
}

type WebhookNotificationPayload struct {
	NotificationID string `json:"notification_id"`
	URL            string `json:"url"`
	Secret         string `json:"secret"`
}

type CleanupEventsPayload struct {
	RetentionDays int `json:"retention_days"`
}
