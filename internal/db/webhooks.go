package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const webhookColumns = `
	id, user_id, name, url, secret, events, is_active,
	last_triggered_at, success_count, failure_count,
	created_at, updated_at`

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Name,
		&w.URL,
		&w.Secret,
		&w.Events,
		&w.IsActive,
		&w.LastTriggeredAt,
		&w.SuccessCount,
		&w.FailureCount,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWebhook inserts a new webhook subscription. The secret must already
// be set by the caller (signer.NewSecret); it is never generated here so that
// regeneration stays an explicit operation.
func (r *Repository) CreateWebhook(ctx context.Context, w *Webhook) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Secret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if len(w.Events) == 0 {
		w.Events = []string{"*"}
	}

	query := `
		INSERT INTO webhooks (id, user_id, name, url, secret, events, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		w.ID, w.UserID, w.Name, w.URL, w.Secret, w.Events, w.IsActive,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create webhook",
			zap.Error(err),
			zap.String("webhook_id", w.ID.String()),
		)
		return fmt.Errorf("insert webhook: %w", err)
	}

	return nil
}

// GetWebhook retrieves a webhook by ID
func (r *Repository) GetWebhook(ctx context.Context, id uuid.UUID) (*Webhook, error) {
	query := `SELECT` + webhookColumns + ` FROM webhooks WHERE id = $1`

	w, err := scanWebhook(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("webhook %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query webhook: %w", err)
	}

	return w, nil
}

// ListActiveWebhooks returns a user's active subscriptions.
func (r *Repository) ListActiveWebhooks(ctx context.Context, userID uuid.UUID) ([]*Webhook, error) {
	query := `SELECT` + webhookColumns + `
		FROM webhooks
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY created_at
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}

	return webhooks, rows.Err()
}

// RegenerateWebhookSecret replaces the subscription secret with the given one.
func (r *Repository) RegenerateWebhookSecret(ctx context.Context, id uuid.UUID, secret string) error {
	query := `UPDATE webhooks SET secret = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Pool().Exec(ctx, query, secret, id)
	if err != nil {
		return fmt.Errorf("update webhook secret: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("webhook %s: %w", id, ErrNotFound)
	}

	return nil
}

// RecordWebhookDelivery bumps the delivery counters for an attempt outcome.
// The increment happens in SQL so concurrent deliveries for the same
// subscription cannot lose updates, and last_triggered_at is touched on every
// attempt regardless of outcome.
func (r *Repository) RecordWebhookDelivery(ctx context.Context, id uuid.UUID, success bool) error {
	var query string
	if success {
		query = `
			UPDATE webhooks
			SET success_count = success_count + 1, last_triggered_at = NOW(), updated_at = NOW()
			WHERE id = $1`
	} else {
		query = `
			UPDATE webhooks
			SET failure_count = failure_count + 1, last_triggered_at = NOW(), updated_at = NOW()
			WHERE id = $1`
	}

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("webhook %s: %w", id, ErrNotFound)
	}

	return nil
}
