package reports

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/queue"
)

// Enqueuer submits tasks to the broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error
}

// Scheduler enqueues the recurring report and cleanup tasks on cron
// schedules. It only submits tasks; workers on the reports queue do the work,
// so running multiple schedulers at once would double-submit.
type Scheduler struct {
	cron          *cron.Cron
	queue         Enqueuer
	logger        *zap.Logger
	retentionDays int
}

// NewScheduler creates a scheduler with the given cron specs (standard
// five-field format, UTC).
func NewScheduler(q Enqueuer, reportSpec, cleanupSpec string, retentionDays int, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:          cron.New(cron.WithLocation(time.UTC)),
		queue:         q,
		logger:        logger,
		retentionDays: retentionDays,
	}

	if _, err := s.cron.AddFunc(reportSpec, s.submitDailyReport); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cleanupSpec, s.submitCleanup); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the cron loop and waits for any in-flight submission.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) submitDailyReport() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	task, err := queue.NewTask(queue.TaskDailyReport, struct{}{})
	if err == nil {
		err = s.queue.Enqueue(ctx, task, 0)
	}
	if err != nil {
		metrics.RecordEnqueueFailure(queue.TaskDailyReport)
		s.logger.Error("failed to submit daily report task", zap.Error(err))
		return
	}
	s.logger.Info("daily report task submitted")
}

func (s *Scheduler) submitCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	task, err := queue.NewTask(queue.TaskCleanupEvents, queue.CleanupEventsPayload{
		RetentionDays: s.retentionDays,
	})
	if err == nil {
		err = s.queue.Enqueue(ctx, task, 0)
	}
	if err != nil {
		metrics.RecordEnqueueFailure(queue.TaskCleanupEvents)
		s.logger.Error("failed to submit cleanup task", zap.Error(err))
		return
	}
	s.logger.Info("cleanup task submitted")
}
