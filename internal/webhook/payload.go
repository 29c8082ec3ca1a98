package webhook

import (
	"time"

	"github.com/lalithlochan/pulse/internal/db"
)

// EventPayload formats an event into the wire payload delivered to a
// subscription.
func EventPayload(e *db.Event, u *db.User) map[string]any {
	return map[string]any{
		"event": map[string]any{
			"id":         e.ID.String(),
			"type":       e.EventType,
			"name":       e.EventName,
			"properties": e.Properties,
			"timestamp":  e.Timestamp.UTC().Format(time.RFC3339),
			"session_id": e.SessionID,
			"url":        e.URL,
		},
		"user": map[string]any{
			"id":    u.ID.String(),
			"email": u.Email,
		},
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}
}

// NotificationPayload formats a notification into the wire payload for the
// webhook channel.
func NotificationPayload(n *db.Notification) map[string]any {
	return map[string]any{
		"type": "notification",
		"notification": map[string]any{
			"id":         n.ID.String(),
			"type":       string(n.Channel),
			"title":      n.Title,
			"content":    n.Content,
			"extra_data": n.ExtraData,
			"created_at": n.CreatedAt.UTC().Format(time.RFC3339),
		},
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}
}
