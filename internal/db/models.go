package db

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the closed set of event processing states.
// Transitions move forward: pending -> processing -> processed|failed. A
// failed event re-enters processing when the queue retries its task.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
)

// CanTransition reports whether moving from s to the given status is legal.
func (s EventStatus) CanTransition(to EventStatus) bool {
	switch s {
	case EventPending, EventFailed:
		return to == EventProcessing
	case EventProcessing:
		return to == EventProcessed || to == EventFailed
	default:
		return false
	}
}

// NotificationStatus is the closed set of notification delivery states.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationRead    NotificationStatus = "read"
)

// Channel is the closed set of notification delivery channels.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelInApp || c == ChannelWebhook
}

// Event is a single tracked user action.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	EventType  string         `json:"event_type"`
	EventName  string         `json:"event_name"`
	Properties map[string]any `json:"properties"`

	SessionID *string `json:"session_id,omitempty"`
	URL       *string `json:"url,omitempty"`
	Referrer  *string `json:"referrer,omitempty"`
	UserAgent *string `json:"user_agent,omitempty"`
	IPAddress *string `json:"ip_address,omitempty"`

	Timestamp   time.Time   `json:"timestamp"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	Status      EventStatus `json:"status"`
}

// Webhook is a user-configured HTTP endpoint receiving signed event payloads.
type Webhook struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	URL    string    `json:"url"`
	Secret string    `json:"-"`

	// Events holds event-type filters; "*" subscribes to everything.
	Events   []string `json:"events"`
	IsActive bool     `json:"is_active"`

	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	SuccessCount    int64      `json:"success_count"`
	FailureCount    int64      `json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShouldTrigger reports whether this webhook subscribes to the event type.
func (w *Webhook) ShouldTrigger(eventType string) bool {
	if !w.IsActive {
		return false
	}
	for _, e := range w.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// Notification is a message delivered to a user about platform activity.
type Notification struct {
	ID      uuid.UUID `json:"id"`
	UserID  uuid.UUID `json:"user_id"`
	Channel Channel   `json:"channel"`

	Title     string         `json:"title"`
	Content   string         `json:"content"`
	ExtraData map[string]any `json:"extra_data,omitempty"`

	Status       NotificationStatus `json:"status"`
	ErrorMessage *string            `json:"error_message,omitempty"`
	RetryCount   int                `json:"retry_count"`

	IsRead bool `json:"is_read"`

	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// User owns events, webhooks, and notifications.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
