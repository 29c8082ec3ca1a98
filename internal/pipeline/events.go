package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/retry"
)

// enrichmentVersion is written into event properties during processing.
const enrichmentVersion = "1.0"

// EventProcessor owns the event status state machine.
type EventProcessor struct {
	store  Store
	queue  Enqueuer
	logger *zap.Logger
}

// NewEventProcessor creates an event processor.
func NewEventProcessor(store Store, q Enqueuer, logger *zap.Logger) *EventProcessor {
	return &EventProcessor{
		store:  store,
		queue:  q,
		logger: logger,
	}
}

// Handle processes one tracked event: pending -> processing, enrichment,
// webhook fan-out submission, then processed. A missing event is permanent;
// anything else marks the event failed best-effort and reports a transient
// failure so the queue retries it. A retried task finds the event failed and
// re-enters processing, so a transient blip on one attempt does not strand
// the event.
func (p *EventProcessor) Handle(ctx context.Context, eventID uuid.UUID) error {
	event, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			p.logger.Error("event not found", zap.String("event_id", eventID.String()))
			return retry.Permanent(err)
		}
		return p.fail(ctx, eventID, err)
	}

	switch event.Status {
	case db.EventProcessed:
		// Duplicate redelivery of a finished task.
		return nil
	case db.EventPending:
		if err := p.store.SetEventStatus(ctx, eventID, db.EventPending, db.EventProcessing); err != nil {
			return p.fail(ctx, eventID, err)
		}
	case db.EventFailed:
		// A prior attempt failed; the retry picks the event back up.
		if err := p.store.SetEventStatus(ctx, eventID, db.EventFailed, db.EventProcessing); err != nil {
			return p.fail(ctx, eventID, err)
		}
	case db.EventProcessing:
		// Redelivered mid-flight; enrichment keys are overwritten below, so
		// continuing is safe.
	}

	now := time.Now().UTC()

	// Enrichment merges fixed keys by overwrite so at-least-once redelivery
	// cannot accumulate duplicate markers.
	properties := event.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	properties["_processed_at"] = now.Format(time.RFC3339)
	properties["_version"] = enrichmentVersion

	// Fan-out is fire-and-forget: a failed submission is observable but must
	// not block marking the event processed.
	task, err := queue.NewTask(queue.TaskTriggerWebhooks, queue.TriggerWebhooksPayload{
		EventID: eventID.String(),
	})
	if err == nil {
		err = p.queue.Enqueue(ctx, task, 0)
	}
	if err != nil {
		metrics.RecordEnqueueFailure(queue.TaskTriggerWebhooks)
		p.logger.Warn("failed to enqueue webhook trigger",
			zap.Error(err),
			zap.String("event_id", eventID.String()),
		)
	}

	if err := p.store.MarkEventProcessed(ctx, eventID, properties, now); err != nil {
		return p.fail(ctx, eventID, err)
	}

	metrics.RecordEventProcessed(string(db.EventProcessed))
	p.logger.Info("event processed",
		zap.String("event_id", eventID.String()),
		zap.String("event_type", event.EventType),
	)

	return nil
}

// fail marks the event failed best-effort and surfaces a transient error.
// A secondary failure of the status write is swallowed; the queue retry is
// what matters.
func (p *EventProcessor) fail(ctx context.Context, eventID uuid.UUID, cause error) error {
	if err := p.store.MarkEventFailed(ctx, eventID); err != nil {
		p.logger.Warn("failed to mark event failed",
			zap.Error(err),
			zap.String("event_id", eventID.String()),
		)
	}
	metrics.RecordEventProcessed(string(db.EventFailed))
	return fmt.Errorf("process event %s: %w", eventID, cause)
}

// BatchResult reports the submission outcome for one event in a batch.
type BatchResult struct {
	EventID uuid.UUID `json:"event_id"`
	Err     error     `json:"-"`
}

// EnqueueBatch submits a processing task per event. Individual submission
// failures do not abort the batch.
func (p *EventProcessor) EnqueueBatch(ctx context.Context, eventIDs []uuid.UUID) []BatchResult {
	results := make([]BatchResult, 0, len(eventIDs))

	for _, id := range eventIDs {
		task, err := queue.NewTask(queue.TaskProcessEvent, queue.ProcessEventPayload{
			EventID: id.String(),
		})
		if err == nil {
			err = p.queue.Enqueue(ctx, task, 0)
		}
		if err != nil {
			metrics.RecordEnqueueFailure(queue.TaskProcessEvent)
			p.logger.Warn("failed to enqueue event processing",
				zap.Error(err),
				zap.String("event_id", id.String()),
			)
		}
		results = append(results, BatchResult{EventID: id, Err: err})
	}

	return results
}
