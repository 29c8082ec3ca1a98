package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/metrics"
)

// NewRouter assembles the gateway HTTP surface.
func NewRouter(h *Handler, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.IngestEvent)
		r.Post("/events/batch", h.IngestEventBatch)
		r.Get("/events/failed", h.ListFailedEvents)
		r.Get("/events/{id}", h.GetEvent)

		r.Post("/notifications", h.CreateNotification)
		r.Post("/notifications/bulk", h.CreateBulkNotifications)
		r.Get("/notifications", h.ListNotifications)
		r.Get("/notifications/{id}", h.GetNotification)
		r.Post("/notifications/{id}/read", h.MarkNotificationRead)

		r.Post("/webhooks", h.CreateWebhook)
		r.Get("/webhooks/{id}", h.GetWebhook)
		r.Post("/webhooks/{id}/secret", h.RegenerateWebhookSecret)

		r.Get("/users/{id}/aggregations", h.GetUserAggregations)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
