package queue

import (
	"encoding/json"
	"testing"
)

func TestQueueForTask(t *testing.T) {
	tests := []struct {
		taskType string
		want     string
	}{
		{TaskProcessEvent, QueueEvents},
		{TaskTriggerWebhooks, QueueEvents},
		{TaskDeliverWebhook, QueueEvents},
		{TaskEmailNotification, QueueNotifications},
		{TaskWebhookNotification, QueueNotifications},
		{TaskDailyReport, QueueReports},
		{TaskCleanupEvents, QueueReports},
	}

	for _, tt := range tests {
		got, err := QueueForTask(tt.taskType)
		if err != nil {
			t.Errorf("QueueForTask(%q): %v", tt.taskType, err)
			continue
		}
		if got != tt.want {
			t.Errorf("QueueForTask(%q) = %q, want %q", tt.taskType, got, tt.want)
		}
	}
}

func TestQueueForTaskUnknown(t *testing.T) {
	if _, err := QueueForTask("mystery.task"); err == nil {
		t.Error("expected error for unroutable task type")
	}
}

func TestNewTask(t *testing.T) {
	task, err := NewTask(TaskDeliverWebhook, DeliverWebhookPayload{
		WebhookID: "w-1",
		EventID:   "e-1",
	})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}

	if task.Attempt != 0 {
		t.Errorf("new task attempt = %d, want 0", task.Attempt)
	}
	if task.EnqueuedAt == 0 {
		t.Error("enqueued_at not set")
	}

	var payload DeliverWebhookPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.WebhookID != "w-1" || payload.EventID != "e-1" {
		t.Errorf("payload round trip mismatch: %+v", payload)
	}
}
