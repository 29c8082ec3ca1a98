package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/retry"
)

func newPendingEvent(store *fakeStore) *db.Event {
	e := &db.Event{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		EventType: "click",
		EventName: "signup_button",
		Timestamp: time.Now().UTC(),
		Status:    db.EventPending,
	}
	store.events[e.ID] = e
	return e
}

func TestEventProcessorHandle(t *testing.T) {
	store := newFakeStore()
	q := &fakeQueue{}
	proc := NewEventProcessor(store, q, zap.NewNop())

	e := newPendingEvent(store)

	if err := proc.Handle(context.Background(), e.ID); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := store.events[e.ID]
	if got.Status != db.EventProcessed {
		t.Errorf("status = %s, want processed", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Error("processed_at not set")
	}
	if got.Properties["_version"] != "1.0" {
		t.Errorf("_version = %v, want 1.0", got.Properties["_version"])
	}
	if _, ok := got.Properties["_processed_at"].(string); !ok {
		t.Errorf("_processed_at = %v, want RFC3339 string", got.Properties["_processed_at"])
	}

	triggers := q.tasksOfType(queue.TaskTriggerWebhooks)
	if len(triggers) != 1 {
		t.Fatalf("got %d trigger tasks, want 1", len(triggers))
	}
}

func TestEventProcessorHandleMissingEvent(t *testing.T) {
	proc := NewEventProcessor(newFakeStore(), &fakeQueue{}, zap.NewNop())

	err := proc.Handle(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("Handle() = nil, want error")
	}
	if !retry.IsPermanent(err) {
		t.Errorf("missing event should be permanent, got %v", err)
	}
}

func TestEventProcessorHandleRedelivery(t *testing.T) {
	store := newFakeStore()
	q := &fakeQueue{}
	proc := NewEventProcessor(store, q, zap.NewNop())

	e := newPendingEvent(store)

	if err := proc.Handle(context.Background(), e.ID); err != nil {
		t.Fatalf("first Handle() error = %v", err)
	}
	firstProcessedAt := *store.events[e.ID].ProcessedAt

	// Redelivery of a finished task is a silent no-op.
	if err := proc.Handle(context.Background(), e.ID); err != nil {
		t.Fatalf("redelivered Handle() error = %v", err)
	}
	if got := *store.events[e.ID].ProcessedAt; !got.Equal(firstProcessedAt) {
		t.Error("redelivery rewrote processed_at")
	}
	if n := len(q.tasksOfType(queue.TaskTriggerWebhooks)); n != 1 {
		t.Errorf("got %d trigger tasks after redelivery, want 1", n)
	}
}

func TestEventProcessorHandleMidFlight(t *testing.T) {
	store := newFakeStore()
	proc := NewEventProcessor(store, &fakeQueue{}, zap.NewNop())

	e := newPendingEvent(store)
	e.Status = db.EventProcessing
	e.Properties = map[string]any{"_processed_at": "stale", "_version": "0.9", "plan": "pro"}

	if err := proc.Handle(context.Background(), e.ID); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := store.events[e.ID]
	if got.Status != db.EventProcessed {
		t.Errorf("status = %s, want processed", got.Status)
	}
	// Enrichment overwrites its fixed keys and leaves the rest alone.
	if got.Properties["_version"] != "1.0" {
		t.Errorf("_version = %v, want 1.0", got.Properties["_version"])
	}
	if got.Properties["_processed_at"] == "stale" {
		t.Error("stale _processed_at survived re-enrichment")
	}
	if got.Properties["plan"] != "pro" {
		t.Errorf("plan = %v, want pro", got.Properties["plan"])
	}
}

func TestEventProcessorHandleStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failMarkProcessed = true
	proc := NewEventProcessor(store, &fakeQueue{}, zap.NewNop())

	e := newPendingEvent(store)

	err := proc.Handle(context.Background(), e.ID)
	if err == nil {
		t.Fatal("Handle() = nil, want error")
	}
	if retry.IsPermanent(err) {
		t.Errorf("store failure should be transient, got %v", err)
	}
	if store.events[e.ID].Status != db.EventFailed {
		t.Errorf("status = %s, want failed", store.events[e.ID].Status)
	}
}

func TestEventProcessorHandleRecoversAfterTransientFailure(t *testing.T) {
	store := newFakeStore()
	q := &fakeQueue{}
	proc := NewEventProcessor(store, q, zap.NewNop())

	e := newPendingEvent(store)

	store.failMarkProcessed = true
	if err := proc.Handle(context.Background(), e.ID); err == nil {
		t.Fatal("first Handle() = nil, want error")
	}
	if store.events[e.ID].Status != db.EventFailed {
		t.Fatalf("status after failure = %s, want failed", store.events[e.ID].Status)
	}

	// The queue redelivers; the retry re-enters processing from failed.
	store.failMarkProcessed = false
	if err := proc.Handle(context.Background(), e.ID); err != nil {
		t.Fatalf("retried Handle() error = %v", err)
	}

	got := store.events[e.ID]
	if got.Status != db.EventProcessed {
		t.Errorf("status = %s, want processed", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Error("processed_at not set on successful retry")
	}
}

func TestEventProcessorHandleEnqueueFailureStillProcesses(t *testing.T) {
	store := newFakeStore()
	q := &fakeQueue{failAll: true}
	proc := NewEventProcessor(store, q, zap.NewNop())

	e := newPendingEvent(store)

	// Fan-out submission failing must not block the event itself.
	if err := proc.Handle(context.Background(), e.ID); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if store.events[e.ID].Status != db.EventProcessed {
		t.Errorf("status = %s, want processed", store.events[e.ID].Status)
	}
}

func TestEventProcessorEnqueueBatch(t *testing.T) {
	store := newFakeStore()
	q := &fakeQueue{}
	proc := NewEventProcessor(store, q, zap.NewNop())

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	results := proc.EnqueueBatch(context.Background(), ids)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("result %d: unexpected error %v", i, r.Err)
		}
		if r.EventID != ids[i] {
			t.Errorf("result %d: event_id = %s, want %s", i, r.EventID, ids[i])
		}
	}
	if n := len(q.tasksOfType(queue.TaskProcessEvent)); n != 3 {
		t.Errorf("got %d process tasks, want 3", n)
	}
}

func TestEventProcessorEnqueueBatchPartialFailure(t *testing.T) {
	q := &fakeQueue{failAll: true}
	proc := NewEventProcessor(newFakeStore(), q, zap.NewNop())

	results := proc.EnqueueBatch(context.Background(), []uuid.UUID{uuid.New(), uuid.New()})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if r.Err == nil {
			t.Errorf("result %d: expected enqueue error", i)
		}
	}
}
