// Package reports implements the scheduled jobs: per-user daily activity
// reports delivered as in-app notifications, retention cleanup of old events,
// and on-demand time-range aggregations.
package reports

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/metrics"
)

// cleanupBatchSize bounds each retention delete so the job never holds a
// long-running transaction over the events table.
const cleanupBatchSize = 10000

// Store is the slice of the entity store the reporting jobs depend on.
type Store interface {
	ListActiveUsers(ctx context.Context) ([]*db.User, error)
	UserDailyReport(ctx context.Context, userID uuid.UUID, start, end time.Time) (*db.DailyReport, error)
	DailyEventCounts(ctx context.Context, userID uuid.UUID, since time.Time) ([]db.DayCount, error)
	HourlyDistribution(ctx context.Context, userID uuid.UUID, since time.Time) ([]db.HourCount, error)
	CreateNotification(ctx context.Context, n *db.Notification) error
	DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Reporter runs the scheduled reporting and retention jobs.
type Reporter struct {
	store  Store
	logger *zap.Logger
}

// NewReporter creates a reporter.
func NewReporter(store Store, logger *zap.Logger) *Reporter {
	return &Reporter{store: store, logger: logger}
}

// DailyReports generates yesterday's activity report for every active user
// and files it as an already-sent in-app notification. Users with no events
// are skipped, and one user's failure never blocks the rest. Returns the
// number of reports generated.
func (r *Reporter) DailyReports(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	end := now.Truncate(24 * time.Hour)
	start := end.Add(-24 * time.Hour)
	reportDate := start.Format("2006-01-02")

	users, err := r.store.ListActiveUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}

	generated := 0
	for _, user := range users {
		report, err := r.store.UserDailyReport(ctx, user.ID, start, end.Add(-time.Nanosecond))
		if err != nil {
			r.logger.Warn("failed to build daily report",
				zap.Error(err),
				zap.String("user_id", user.ID.String()),
			)
			continue
		}
		if report == nil {
			// No activity yesterday.
			continue
		}

		sentAt := time.Now().UTC()
		n := &db.Notification{
			UserID:  user.ID,
			Channel: db.ChannelInApp,
			Title:   "Daily Report - " + reportDate,
			Content: formatReportContent(reportDate, report),
			ExtraData: map[string]any{
				"report_date":     reportDate,
				"total_events":    report.TotalEvents,
				"unique_sessions": report.UniqueSessions,
				"events_by_type":  report.EventsByType,
				"top_events":      report.TopEvents,
			},
			Status: db.NotificationSent,
			SentAt: &sentAt,
		}
		if err := r.store.CreateNotification(ctx, n); err != nil {
			r.logger.Warn("failed to store daily report",
				zap.Error(err),
				zap.String("user_id", user.ID.String()),
			)
			continue
		}
		generated++
	}

	metrics.RecordReportsGenerated(generated)
	r.logger.Info("daily reports generated",
		zap.String("report_date", reportDate),
		zap.Int("users", len(users)),
		zap.Int("generated", generated),
	)

	return generated, nil
}

// formatReportContent renders the report as readable notification text.
func formatReportContent(date string, report *db.DailyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your activity summary for %s:\n", date)
	fmt.Fprintf(&b, "- Total events: %d\n", report.TotalEvents)
	fmt.Fprintf(&b, "- Unique sessions: %d\n", report.UniqueSessions)
	if len(report.TopEvents) > 0 {
		b.WriteString("- Top events:\n")
		for _, ec := range report.TopEvents {
			fmt.Fprintf(&b, "    %s: %d\n", ec.Name, ec.Count)
		}
	}
	return b.String()
}

// CleanupOldEvents deletes events older than the retention window in batches
// until a batch comes back empty. Returns the total rows removed.
func (r *Reporter) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	var total int64
	for {
		deleted, err := r.store.DeleteEventsBefore(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			return total, fmt.Errorf("cleanup events: %w", err)
		}
		total += deleted
		if deleted < cleanupBatchSize {
			break
		}
	}

	metrics.RecordEventsPurged(total)
	r.logger.Info("old events purged",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", total),
	)

	return total, nil
}

// Aggregation is an on-demand activity summary over a rolling time range.
type Aggregation struct {
	UserID       uuid.UUID       `json:"user_id"`
	Range        string          `json:"range"`
	Since        time.Time       `json:"since"`
	DailyCounts  []db.DayCount   `json:"daily_counts"`
	HourlySpread []db.HourCount  `json:"hourly_spread"`
	Report       *db.DailyReport `json:"summary,omitempty"`
}

// ErrInvalidRange reports an unparseable time-range string.
var ErrInvalidRange = errors.New("invalid time range")

// ParseTimeRange converts a "7d" / "4w" / "3m" range string into days.
// A string without a recognized unit suffix falls back to the seven-day
// default; a recognized unit with a bad count is an error.
func ParseTimeRange(s string) (int, error) {
	if s == "" {
		return 7, nil
	}

	var mult int
	switch s[len(s)-1] {
	case 'd':
		mult = 1
	case 'w':
		mult = 7
	case 'm':
		mult = 30
	default:
		return 7, nil
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}

	return n * mult, nil
}

// UserAggregation builds the rolling-window activity view for one user.
func (r *Reporter) UserAggregation(ctx context.Context, userID uuid.UUID, timeRange string) (*Aggregation, error) {
	days, err := ParseTimeRange(timeRange)
	if err != nil {
		return nil, err
	}
	if timeRange == "" {
		timeRange = "7d"
	}

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -days)

	daily, err := r.store.DailyEventCounts(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}

	hourly, err := r.store.HourlyDistribution(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("hourly distribution: %w", err)
	}

	report, err := r.store.UserDailyReport(ctx, userID, since, now)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	return &Aggregation{
		UserID:       userID,
		Range:        timeRange,
		Since:        since,
		DailyCounts:  daily,
		HourlySpread: hourly,
		Report:       report,
	}, nil
}
