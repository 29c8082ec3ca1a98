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

const eventColumns = `
	id, user_id, event_type, event_name, properties,
	session_id, url, referrer, user_agent, ip_address,
	timestamp, processed_at, status`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.EventType,
		&e.EventName,
		&e.Properties,
		&e.SessionID,
		&e.URL,
		&e.Referrer,
		&e.UserAgent,
		&e.IPAddress,
		&e.Timestamp,
		&e.ProcessedAt,
		&e.Status,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEvent inserts a new event. Ingestion creates events in pending status.
func (r *Repository) CreateEvent(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = EventPending
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (
			id, user_id, event_type, event_name, properties,
			session_id, url, referrer, user_agent, ip_address,
			timestamp, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		e.ID, e.UserID, e.EventType, e.EventName, e.Properties,
		e.SessionID, e.URL, e.Referrer, e.UserAgent, e.IPAddress,
		e.Timestamp, e.Status,
	)
	if err != nil {
		r.logger.Error("failed to create event",
			zap.Error(err),
			zap.String("event_id", e.ID.String()),
		)
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// GetEvent retrieves an event by ID
func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `SELECT` + eventColumns + ` FROM events WHERE id = $1`

	e, err := scanEvent(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}

	return e, nil
}

// SetEventStatus moves an event from one status to another. The transition is
// validated and the update is guarded on the expected current status, so a
// concurrent or replayed write cannot move the state machine backwards.
func (r *Repository) SetEventStatus(ctx context.Context, id uuid.UUID, from, to EventStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("event %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}

	query := `UPDATE events SET status = $1 WHERE id = $2 AND status = $3`

	result, err := r.db.Pool().Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}

	if result.RowsAffected() == 0 {
		var current EventStatus
		err := r.db.Pool().QueryRow(ctx, `SELECT status FROM events WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("event %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("query event status: %w", err)
		}
		return fmt.Errorf("event %s: %s -> %s: %w", id, current, to, ErrInvalidTransition)
	}

	return nil
}

// MarkEventProcessed stamps processed_at, persists the enriched properties,
// and completes the state machine in a single write.
func (r *Repository) MarkEventProcessed(ctx context.Context, id uuid.UUID, properties map[string]any, processedAt time.Time) error {
	query := `
		UPDATE events
		SET status = $1, properties = $2, processed_at = $3
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, EventProcessed, properties, processedAt, id, EventProcessing)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("event %s not in processing: %w", id, ErrInvalidTransition)
	}

	return nil
}

// MarkEventFailed is the best-effort terminal write on a processing failure.
// Already-processed events are left alone.
func (r *Repository) MarkEventFailed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE events SET status = $1 WHERE id = $2 AND status IN ($3, $4)`

	_, err := r.db.Pool().Exec(ctx, query, EventFailed, id, EventPending, EventProcessing)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}

	return nil
}

// ListFailedEvents is the query surface for events whose retries exhausted.
func (r *Repository) ListFailedEvents(ctx context.Context, limit, offset int) ([]*Event, error) {
	query := `SELECT` + eventColumns + `
		FROM events
		WHERE status = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, EventFailed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query failed events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// DeleteEventsBefore deletes at most limit events older than the cutoff and
// returns the number of rows removed. Retention loops over this until a batch
// comes back empty.
func (r *Repository) DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM events
		WHERE id IN (
			SELECT id FROM events WHERE timestamp < $1 LIMIT $2
		)
	`

	result, err := r.db.Pool().Exec(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}

	return result.RowsAffected(), nil
}

// EventCount pairs an event name or type with its occurrence count.
type EventCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// DailyReport summarizes one user's activity over a single day.
type DailyReport struct {
	TotalEvents    int64            `json:"total_events"`
	UniqueSessions int64            `json:"unique_sessions"`
	EventsByType   map[string]int64 `json:"events_by_type"`
	TopEvents      []EventCount     `json:"top_events"`
}

// UserDailyReport computes the daily report aggregates for one user over
// [start, end]. Returns nil if the user produced no events in the window.
func (r *Repository) UserDailyReport(ctx context.Context, userID uuid.UUID, start, end time.Time) (*DailyReport, error) {
	pool := r.db.Pool()

	report := &DailyReport{EventsByType: map[string]int64{}}

	err := pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT session_id)
		FROM events
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp <= $3
	`, userID, start, end).Scan(&report.TotalEvents, &report.UniqueSessions)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	if report.TotalEvents == 0 {
		return nil, nil
	}

	rows, err := pool.Query(ctx, `
		SELECT event_type, COUNT(*)
		FROM events
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp <= $3
		GROUP BY event_type
	`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("events by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var count int64
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		report.EventsByType[typ] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT event_name, COUNT(*) AS count
		FROM events
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp <= $3
		GROUP BY event_name
		ORDER BY count DESC
		LIMIT 10
	`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("top events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ec EventCount
		if err := rows.Scan(&ec.Name, &ec.Count); err != nil {
			return nil, fmt.Errorf("scan top event: %w", err)
		}
		report.TopEvents = append(report.TopEvents, ec)
	}

	return report, rows.Err()
}

// DayCount is an event count for one calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// HourCount is an event count for one hour of day.
type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// DailyEventCounts returns per-day event counts for a user since the cutoff.
func (r *Repository) DailyEventCounts(ctx context.Context, userID uuid.UUID, since time.Time) ([]DayCount, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT timestamp::date AS day, COUNT(*)
		FROM events
		WHERE user_id = $1 AND timestamp >= $2
		GROUP BY day
		ORDER BY day
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	defer rows.Close()

	var counts []DayCount
	for rows.Next() {
		var day time.Time
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		counts = append(counts, DayCount{Date: day.Format("2006-01-02"), Count: count})
	}

	return counts, rows.Err()
}

// HourlyDistribution returns hour-of-day event counts for a user since the cutoff.
func (r *Repository) HourlyDistribution(ctx context.Context, userID uuid.UUID, since time.Time) ([]HourCount, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT EXTRACT(HOUR FROM timestamp)::int AS hour, COUNT(*)
		FROM events
		WHERE user_id = $1 AND timestamp >= $2
		GROUP BY hour
		ORDER BY hour
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("hourly distribution: %w", err)
	}
	defer rows.Close()

	var counts []HourCount
	for rows.Next() {
		var hc HourCount
		if err := rows.Scan(&hc.Hour, &hc.Count); err != nil {
			return nil, fmt.Errorf("scan hour count: %w", err)
		}
		counts = append(counts, hc)
	}

	return counts, rows.Err()
}
