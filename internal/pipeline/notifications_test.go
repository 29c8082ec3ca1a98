package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/queue"
	"github.com/lalithlochan/pulse/internal/retry"
)

type fakeMailer struct {
	sent []string
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

func newDispatcher(store *fakeStore, q *fakeQueue, m *fakeMailer, p *fakePoster) *NotificationDispatcher {
	return NewNotificationDispatcher(store, q, m, p, zap.NewNop())
}

func seedNotification(store *fakeStore, userID uuid.UUID, channel db.Channel) *db.Notification {
	n := &db.Notification{
		ID:      uuid.New(),
		UserID:  userID,
		Channel: channel,
		Title:   "Welcome",
		Content: "Hello there",
		Status:  db.NotificationPending,
	}
	store.notifications[n.ID] = n
	return n
}

func TestCreateAndDispatchEmail(t *testing.T) {
	store := newFakeStore()
	q := &fakeQueue{}
	d := newDispatcher(store, q, &fakeMailer{}, &fakePoster{})

	n, err := d.CreateAndDispatch(context.Background(), uuid.New(), db.ChannelEmail, "Welcome", "Hello", nil)
	if err != nil {
		t.Fatalf("CreateAndDispatch() error = %v", err)
	}
	if n.Status != db.NotificationPending {
		t.Errorf("status = %s, want pending", n.Status)
	}

	tasks := q.tasksOfType(queue.TaskEmailNotification)
	if len(tasks) != 1 {
		t.Fatalf("got %d email tasks, want 1", len(tasks))
	}
	var p queue.EmailNotificationPayload
	if err := json.Unmarshal(tasks[0].Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.NotificationID != n.ID.String() {
		t.Errorf("payload notification_id = %s, want %s", p.NotificationID, n.ID)
	}
}

func TestCreateAndDispatchInApp(t *testing.T) {
	store := newFakeStore()
	q := &fakeQueue{}
	d := newDispatcher(store, q, &fakeMailer{}, &fakePoster{})

	n, err := d.CreateAndDispatch(context.Background(), uuid.New(), db.ChannelInApp, "Ping", "In-app body", nil)
	if err != nil {
		t.Fatalf("CreateAndDispatch() error = %v", err)
	}

	// In-app notifications are sent the moment they exist.
	if n.Status != db.NotificationSent {
		t.Errorf("status = %s, want sent", n.Status)
	}
	if n.SentAt == nil {
		t.Error("sent_at not set")
	}
	if len(q.tasks) != 0 {
		t.Errorf("got %d queued tasks, want 0", len(q.tasks))
	}
}

func TestCreateAndDispatchUnknownChannel(t *testing.T) {
	d := newDispatcher(newFakeStore(), &fakeQueue{}, &fakeMailer{}, &fakePoster{})

	if _, err := d.CreateAndDispatch(context.Background(), uuid.New(), db.Channel("sms"), "t", "c", nil); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestCreateAndDispatchEnqueueFailureLeavesPending(t *testing.T) {
	store := newFakeStore()
	d := newDispatcher(store, &fakeQueue{failAll: true}, &fakeMailer{}, &fakePoster{})

	n, err := d.CreateAndDispatch(context.Background(), uuid.New(), db.ChannelEmail, "t", "c", nil)
	if err != nil {
		t.Fatalf("CreateAndDispatch() error = %v", err)
	}
	if store.notifications[n.ID].Status != db.NotificationPending {
		t.Errorf("status = %s, want pending", store.notifications[n.ID].Status)
	}
}

func TestSendEmail(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{}
	d := newDispatcher(store, &fakeQueue{}, m, &fakePoster{})

	userID := uuid.New()
	seedUser(store, userID)
	n := seedNotification(store, userID, db.ChannelEmail)

	if err := d.SendEmail(context.Background(), n.ID); err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}

	got := store.notifications[n.ID]
	if got.Status != db.NotificationSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
	if got.SentAt == nil {
		t.Error("sent_at not set")
	}
	if len(m.sent) != 1 || m.sent[0] != "user@example.com" {
		t.Errorf("mailer sent = %v, want [user@example.com]", m.sent)
	}
}

func TestSendEmailFailure(t *testing.T) {
	store := newFakeStore()
	d := newDispatcher(store, &fakeQueue{}, &fakeMailer{err: errors.New("ses throttled")}, &fakePoster{})

	userID := uuid.New()
	seedUser(store, userID)
	n := seedNotification(store, userID, db.ChannelEmail)

	err := d.SendEmail(context.Background(), n.ID)
	if err == nil {
		t.Fatal("SendEmail() = nil, want error")
	}
	if retry.IsPermanent(err) {
		t.Errorf("mail failure should be transient, got %v", err)
	}

	got := store.notifications[n.ID]
	if got.Status != db.NotificationFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "ses throttled") {
		t.Errorf("error_message = %v, want cause captured", got.ErrorMessage)
	}
}

func TestSendEmailRecoversAfterFailure(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{err: errors.New("ses throttled")}
	d := newDispatcher(store, &fakeQueue{}, m, &fakePoster{})

	userID := uuid.New()
	seedUser(store, userID)
	n := seedNotification(store, userID, db.ChannelEmail)

	if err := d.SendEmail(context.Background(), n.ID); err == nil {
		t.Fatal("first SendEmail() = nil, want error")
	}
	if store.notifications[n.ID].Status != db.NotificationFailed {
		t.Fatalf("status after failure = %s, want failed", store.notifications[n.ID].Status)
	}

	// The mailer recovers and the queue redelivers. The retry must record
	// sent, not send again on every redelivery until the policy exhausts.
	m.err = nil
	if err := d.SendEmail(context.Background(), n.ID); err != nil {
		t.Fatalf("retried SendEmail() error = %v", err)
	}

	got := store.notifications[n.ID]
	if got.Status != db.NotificationSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
	if got.SentAt == nil {
		t.Error("sent_at not set on successful retry")
	}
	if got.ErrorMessage != nil {
		t.Errorf("error_message = %q, want cleared", *got.ErrorMessage)
	}
	if len(m.sent) != 1 {
		t.Errorf("mailer sent %d emails, want 1", len(m.sent))
	}
}

func TestSendEmailPermanentCases(t *testing.T) {
	store := newFakeStore()
	d := newDispatcher(store, &fakeQueue{}, &fakeMailer{}, &fakePoster{})

	orphan := seedNotification(store, uuid.New(), db.ChannelEmail) // owner missing
	wrongChannel := seedNotification(store, uuid.New(), db.ChannelWebhook)
	seedUser(store, wrongChannel.UserID)

	cases := []struct {
		name string
		id   uuid.UUID
	}{
		{"missing notification", uuid.New()},
		{"missing user", orphan.ID},
		{"wrong channel", wrongChannel.ID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := d.SendEmail(context.Background(), tc.id)
			if !retry.IsPermanent(err) {
				t.Errorf("got %v, want permanent", err)
			}
		})
	}
}

func TestSendWebhookSuccess(t *testing.T) {
	store := newFakeStore()
	poster := &fakePoster{status: 204}
	d := newDispatcher(store, &fakeQueue{}, &fakeMailer{}, poster)

	n := seedNotification(store, uuid.New(), db.ChannelWebhook)

	if err := d.SendWebhook(context.Background(), n.ID, "https://example.com/n", "sec"); err != nil {
		t.Fatalf("SendWebhook() error = %v", err)
	}
	if store.notifications[n.ID].Status != db.NotificationSent {
		t.Errorf("status = %s, want sent", store.notifications[n.ID].Status)
	}
	if poster.lastURL != "https://example.com/n" {
		t.Errorf("posted to %s", poster.lastURL)
	}
}

func TestSendWebhookRetryExhaustion(t *testing.T) {
	store := newFakeStore()
	poster := &fakePoster{status: 503}
	d := newDispatcher(store, &fakeQueue{}, &fakeMailer{}, poster)

	n := seedNotification(store, uuid.New(), db.ChannelWebhook)

	for i := 0; i < maxWebhookNotificationRetries; i++ {
		err := d.SendWebhook(context.Background(), n.ID, "https://example.com/n", "sec")
		if err == nil {
			t.Fatalf("attempt %d: expected error", i+1)
		}
		if retry.IsPermanent(err) {
			t.Fatalf("attempt %d: should stay transient, got %v", i+1, err)
		}
	}

	got := store.notifications[n.ID]
	if got.RetryCount != maxWebhookNotificationRetries {
		t.Errorf("retry_count = %d, want %d", got.RetryCount, maxWebhookNotificationRetries)
	}
	if got.Status != db.NotificationFailed {
		t.Errorf("status = %s, want failed after exhaustion", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "503") {
		t.Errorf("error_message = %v, want final cause", got.ErrorMessage)
	}
}

func TestSendWebhookStaysPendingBeforeExhaustion(t *testing.T) {
	store := newFakeStore()
	d := newDispatcher(store, &fakeQueue{}, &fakeMailer{}, &fakePoster{status: 500})

	n := seedNotification(store, uuid.New(), db.ChannelWebhook)

	_ = d.SendWebhook(context.Background(), n.ID, "https://example.com/n", "sec")

	got := store.notifications[n.ID]
	if got.Status != db.NotificationPending {
		t.Errorf("status = %s, want pending for redelivery", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
}

func TestDispatchWebhook(t *testing.T) {
	q := &fakeQueue{}
	d := newDispatcher(newFakeStore(), q, &fakeMailer{}, &fakePoster{})

	id := uuid.New()
	if err := d.DispatchWebhook(context.Background(), id, "https://example.com/n", "sec"); err != nil {
		t.Fatalf("DispatchWebhook() error = %v", err)
	}

	tasks := q.tasksOfType(queue.TaskWebhookNotification)
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	var p queue.WebhookNotificationPayload
	if err := json.Unmarshal(tasks[0].Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.NotificationID != id.String() || p.URL != "https://example.com/n" || p.Secret != "sec" {
		t.Errorf("payload = %+v", p)
	}
}

func TestCreateBulk(t *testing.T) {
	store := newFakeStore()
	q := &fakeQueue{}
	d := newDispatcher(store, q, &fakeMailer{}, &fakePoster{})

	userIDs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	results := d.CreateBulk(context.Background(), userIDs, db.ChannelInApp, "Maintenance", "Heads up", map[string]any{"window": "tonight"})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("result %d: unexpected error %v", i, r.Err)
		}
		if r.NotificationID == uuid.Nil {
			t.Errorf("result %d: notification_id not set", i)
		}
		n := store.notifications[r.NotificationID]
		if n == nil || n.UserID != userIDs[i] {
			t.Errorf("result %d: notification not persisted for user", i)
		}
	}
}
