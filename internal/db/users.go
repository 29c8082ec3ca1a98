package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT id, email, name, is_active, created_at FROM users WHERE id = $1`

	var u User
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.IsActive,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &u, nil
}

// ListActiveUsers returns all active users, used by the daily report job.
func (r *Repository) ListActiveUsers(ctx context.Context) ([]*User, error) {
	query := `SELECT id, email, name, is_active, created_at FROM users WHERE is_active = TRUE`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}

	return users, rows.Err()
}
