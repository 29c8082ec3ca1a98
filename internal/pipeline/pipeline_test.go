package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/webhook"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	mu            sync.Mutex
	events        map[uuid.UUID]*db.Event
	webhooks      map[uuid.UUID]*db.Webhook
	notifications map[uuid.UUID]*db.Notification
	users         map[uuid.UUID]*db.User

	failMarkProcessed bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:        map[uuid.UUID]*db.Event{},
		webhooks:      map[uuid.UUID]*db.Webhook{},
		notifications: map[uuid.UUID]*db.Notification{},
		users:         map[uuid.UUID]*db.User{},
	}
}

func (s *fakeStore) GetEvent(ctx context.Context, id uuid.UUID) (*db.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, db.ErrNotFound)
	}
	copied := *e
	return &copied, nil
}

func (s *fakeStore) SetEventStatus(ctx context.Context, id uuid.UUID, from, to db.EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, db.ErrNotFound)
	}
	if !from.CanTransition(to) || e.Status != from {
		return fmt.Errorf("event %s: %s -> %s: %w", id, e.Status, to, db.ErrInvalidTransition)
	}
	e.Status = to
	return nil
}

func (s *fakeStore) MarkEventProcessed(ctx context.Context, id uuid.UUID, properties map[string]any, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarkProcessed {
		return errors.New("store unavailable")
	}
	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, db.ErrNotFound)
	}
	if e.Status != db.EventProcessing {
		return fmt.Errorf("event %s not in processing: %w", id, db.ErrInvalidTransition)
	}
	e.Status = db.EventProcessed
	e.Properties = properties
	e.ProcessedAt = &processedAt
	return nil
}

func (s *fakeStore) MarkEventFailed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, db.ErrNotFound)
	}
	if e.Status == db.EventPending || e.Status == db.EventProcessing {
		e.Status = db.EventFailed
	}
	return nil
}

func (s *fakeStore) GetWebhook(ctx context.Context, id uuid.UUID) (*db.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return nil, fmt.Errorf("webhook %s: %w", id, db.ErrNotFound)
	}
	copied := *w
	return &copied, nil
}

func (s *fakeStore) ListActiveWebhooks(ctx context.Context, userID uuid.UUID) ([]*db.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Webhook
	for _, w := range s.webhooks {
		if w.UserID == userID && w.IsActive {
			copied := *w
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) RecordWebhookDelivery(ctx context.Context, id uuid.UUID, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return fmt.Errorf("webhook %s: %w", id, db.ErrNotFound)
	}
	if success {
		w.SuccessCount++
	} else {
		w.FailureCount++
	}
	now := time.Now()
	w.LastTriggeredAt = &now
	return nil
}

func (s *fakeStore) CreateNotification(ctx context.Context, n *db.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = db.NotificationPending
	}
	n.CreatedAt = time.Now()
	copied := *n
	s.notifications[n.ID] = &copied
	return nil
}

func (s *fakeStore) GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	copied := *n
	return &copied, nil
}

func (s *fakeStore) MarkNotificationSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	switch n.Status {
	case db.NotificationSent, db.NotificationRead:
		// Redelivered task racing a completed one.
		return nil
	case db.NotificationPending, db.NotificationFailed:
		n.Status = db.NotificationSent
		n.SentAt = &sentAt
		n.ErrorMessage = nil
		return nil
	default:
		return fmt.Errorf("notification %s: %s -> %s: %w", id, n.Status, db.NotificationSent, db.ErrInvalidTransition)
	}
}

func (s *fakeStore) MarkNotificationFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	n.Status = db.NotificationFailed
	n.ErrorMessage = &errMsg
	return nil
}

func (s *fakeStore) IncrementNotificationRetry(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return 0, fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	n.RetryCount++
	return n.RetryCount, nil
}

func (s *fakeStore) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, db.ErrNotFound)
	}
	copied := *u
	return &copied, nil
}

// fakeQueue records enqueued tasks.
type fakeQueue struct {
	mu      sync.Mutex
	tasks   []queue.Task
	failAll bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failAll {
		return errors.New("broker unavailable")
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) tasksOfType(taskType string) []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Task
	for _, t := range q.tasks {
		if t.Type == taskType {
			out = append(out, t)
		}
	}
	return out
}

// fakePoster simulates the outbound HTTP collaborator.
type fakePoster struct {
	mu      sync.Mutex
	status  int
	err     error
	calls   int
	lastURL string
}

func (p *fakePoster) Post(ctx context.Context, url, secret string, payload any) (*webhook.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastURL = url
	if p.err != nil {
		return nil, p.err
	}
	return &webhook.Result{StatusCode: p.status}, nil
}
