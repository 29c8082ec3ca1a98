// Package worker is the task execution runtime. A worker binds to one logical
// queue, dispatches tasks to registered handlers, and drives retries with
// delayed re-enqueue, mirroring at-least-once broker semantics.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/retry"
)

const (
	// softLimit is the handler context deadline.
	softLimit = 240 * time.Second
	// hardLimit is how long the loop waits for a handler before abandoning
	// it. The broker visibility timeout outlasts it, so an abandoned task is
	// redelivered rather than lost.
	hardLimit = 300 * time.Second

	// errorBackoff throttles the poll loop after a broker error.
	errorBackoff = 5 * time.Second
)

// Handler executes one task. Returning a permanent error drops the task;
// a transient error re-enqueues it while the retry policy allows.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Receiver is the queue consumption surface.
type Receiver interface {
	Receive(ctx context.Context) (*queue.Task, string, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Enqueuer submits retry copies back to the broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error
}

type registration struct {
	handler Handler
	policy  retry.Policy
}

// Worker consumes one queue and dispatches tasks by type.
type Worker struct {
	consumer Receiver
	producer Enqueuer
	registry map[string]registration
	logger   *zap.Logger
}

// New creates a worker bound to the given consumer.
func New(consumer Receiver, producer Enqueuer, logger *zap.Logger) *Worker {
	return &Worker{
		consumer: consumer,
		producer: producer,
		registry: map[string]registration{},
		logger:   logger,
	}
}

// Register binds a task type to its handler and retry policy.
func (w *Worker) Register(taskType string, handler Handler, policy retry.Policy) {
	w.registry[taskType] = registration{handler: handler, policy: policy}
}

// Run polls the queue until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", zap.Int("task_types", len(w.registry)))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return ctx.Err()
		default:
		}

		task, receipt, err := w.consumer.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Error("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}
		if task == nil {
			continue
		}

		w.handle(ctx, task, receipt)
	}
}

func (w *Worker) handle(ctx context.Context, task *queue.Task, receipt string) {
	reg, ok := w.registry[task.Type]
	if !ok {
		w.logger.Error("unknown task type", zap.String("task_type", task.Type))
		w.delete(ctx, task, receipt)
		return
	}

	start := time.Now()
	err := w.runHandler(ctx, reg.handler, task)
	metrics.RecordTaskDuration(task.Type, time.Since(start))

	if err == nil {
		w.delete(ctx, task, receipt)
		return
	}

	if errors.Is(err, errHardLimit) {
		// The handler goroutine is abandoned; do not delete, the broker
		// redelivers when the visibility timeout lapses.
		w.logger.Error("task exceeded hard time limit",
			zap.String("task_type", task.Type),
			zap.Int("attempt", task.Attempt),
		)
		return
	}

	attempts := task.Attempt + 1

	if retry.IsPermanent(err) {
		w.logger.Error("task failed permanently",
			zap.Error(err),
			zap.String("task_type", task.Type),
			zap.Int("attempts", attempts),
		)
		w.delete(ctx, task, receipt)
		return
	}

	if !reg.policy.ShouldRetry(attempts) {
		w.logger.Error("task retries exhausted",
			zap.Error(err),
			zap.String("task_type", task.Type),
			zap.Int("attempts", attempts),
		)
		w.delete(ctx, task, receipt)
		return
	}

	delay := reg.policy.Delay(task.Attempt)
	next := *task
	next.Attempt = attempts

	if enqErr := w.producer.Enqueue(ctx, next, delay); enqErr != nil {
		// Leave the original in flight; visibility timeout redelivers it
		// with the same attempt count rather than losing the task.
		w.logger.Error("failed to re-enqueue task",
			zap.Error(enqErr),
			zap.String("task_type", task.Type),
		)
		return
	}

	metrics.RecordTaskRetry(task.Type)
	w.logger.Warn("task re-enqueued",
		zap.Error(err),
		zap.String("task_type", task.Type),
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
	)
	w.delete(ctx, task, receipt)
}

var errHardLimit = errors.New("hard time limit exceeded")

// runHandler enforces the soft limit through the context deadline and the
// hard limit by abandoning the handler goroutine.
func (w *Worker) runHandler(ctx context.Context, handler Handler, task *queue.Task) error {
	hctx, cancel := context.WithTimeout(ctx, softLimit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler(hctx, task.Payload)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(hardLimit):
		return errHardLimit
	}
}

func (w *Worker) delete(ctx context.Context, task *queue.Task, receipt string) {
	if err := w.consumer.Delete(ctx, receipt); err != nil {
		w.logger.Error("failed to delete task",
			zap.Error(err),
			zap.String("task_type", task.Type),
		)
	}
}
