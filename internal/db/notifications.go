package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const notificationColumns = `
	id, user_id, channel, title, content, extra_data,
	status, error_message, retry_count, is_read,
	created_at, sent_at, read_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Channel,
		&n.Title,
		&n.Content,
		&n.ExtraData,
		&n.Status,
		&n.ErrorMessage,
		&n.RetryCount,
		&n.IsRead,
		&n.CreatedAt,
		&n.SentAt,
		&n.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNotification inserts a new notification. The caller decides the
// initial status: dispatched channels start pending, in-app and daily report
// notifications are inserted already sent.
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = NotificationPending
	}

	query := `
		INSERT INTO notifications (id, user_id, channel, title, content, extra_data, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		n.ID, n.UserID, n.Channel, n.Title, n.Content, n.ExtraData, n.Status, n.SentAt,
	).Scan(&n.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
			zap.String("channel", string(n.Channel)),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return n, nil
}

// ListNotificationsByUser retrieves notifications for a user with pagination
func (r *Repository) ListNotificationsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationSent completes a delivery: status sent plus sent_at. A
// failed notification recovers to sent, so a retried delivery that finally
// succeeds is recorded instead of looping.
func (r *Repository) MarkNotificationSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = $1, sent_at = $2, error_message = NULL
		WHERE id = $3 AND status IN ($4, $5)
	`

	result, err := r.db.Pool().Exec(ctx, query, NotificationSent, sentAt, id, NotificationPending, NotificationFailed)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		var current NotificationStatus
		err := r.db.Pool().QueryRow(ctx, `SELECT status FROM notifications WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("notification %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("query notification status: %w", err)
		}
		// Redelivered task racing a completed one. Already sent is fine.
		if current == NotificationSent || current == NotificationRead {
			return nil
		}
		return fmt.Errorf("notification %s: %s -> %s: %w", id, current, NotificationSent, ErrInvalidTransition)
	}

	return nil
}

// MarkNotificationFailed records the terminal failed status and error message.
func (r *Repository) MarkNotificationFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE notifications
		SET status = $1, error_message = $2
		WHERE id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, NotificationFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}

	return nil
}

// IncrementNotificationRetry bumps retry_count atomically and returns the new value.
func (r *Repository) IncrementNotificationRetry(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE notifications
		SET retry_count = retry_count + 1
		WHERE id = $1
		RETURNING retry_count
	`

	var count int
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment retry count: %w", err)
	}

	return count, nil
}

// MarkNotificationRead flips is_read once. Only sent notifications can be
// read, and read_at is written exactly once.
func (r *Repository) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = NOW(), status = $1
		WHERE id = $2 AND is_read = FALSE AND status = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, NotificationRead, id, NotificationSent)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if result.RowsAffected() == 0 {
		var current Notification
		err := r.db.Pool().QueryRow(ctx,
			`SELECT is_read, status FROM notifications WHERE id = $1`, id,
		).Scan(&current.IsRead, &current.Status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("notification %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("query notification: %w", err)
		}
		return fmt.Errorf("notification %s: read from is_read=%t status=%s: %w",
			id, current.IsRead, current.Status, ErrInvalidTransition)
	}

	return nil
}
