package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	eventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_processed_total",
			Help: "Total events processed by terminal status",
		},
		[]string{"status"},
	)

	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_webhook_deliveries_total",
			Help: "Total webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	notificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_notifications_processed_total",
			Help: "Total notifications processed by status and channel",
		},
		[]string{"status", "channel"},
	)

	enqueueFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_enqueue_failures_total",
			Help: "Fire-and-forget task submissions that failed",
		},
		[]string{"task_type"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_task_duration_seconds",
			Help:    "Task handler execution time",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 120, 300},
		},
		[]string{"task_type"},
	)

	taskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_task_retries_total",
			Help: "Tasks re-enqueued for retry after a transient failure",
		},
		[]string{"task_type"},
	)

	reportsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_reports_generated_total",
			Help: "Daily report notifications generated",
		},
	)

	eventsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_events_purged_total",
			Help: "Events deleted by the retention job",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_idempotency_hits_total",
			Help: "Ingestion requests served from the idempotency cache",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEventProcessed records an event reaching a terminal status
func RecordEventProcessed(status string) {
	eventsProcessed.WithLabelValues(status).Inc()
}

// RecordWebhookDelivery records a delivery attempt outcome
func RecordWebhookDelivery(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	webhookDeliveries.WithLabelValues(outcome).Inc()
}

// RecordNotificationProcessed records a notification delivery result
func RecordNotificationProcessed(status, channel string) {
	notificationsProcessed.WithLabelValues(status, channel).Inc()
}

// RecordEnqueueFailure makes a swallowed fire-and-forget enqueue failure observable
func RecordEnqueueFailure(taskType string) {
	enqueueFailures.WithLabelValues(taskType).Inc()
}

// RecordTaskDuration records handler execution time
func RecordTaskDuration(taskType string, d time.Duration) {
	taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// RecordTaskRetry records a retry re-enqueue
func RecordTaskRetry(taskType string) {
	taskRetries.WithLabelValues(taskType).Inc()
}

// RecordReportsGenerated adds to the daily report counter
func RecordReportsGenerated(n int) {
	reportsGenerated.Add(float64(n))
}

// RecordEventsPurged adds to the retention deletion counter
func RecordEventsPurged(n int64) {
	eventsPurged.Add(float64(n))
}

// RecordIdempotencyHit records a cache hit for ingestion dedupe
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
