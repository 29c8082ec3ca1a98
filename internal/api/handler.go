package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/pipeline"
	"github.com/lalithlochan/pulse/internal/redis"
	"github.com/lalithlochan/pulse/internal/reports"
	"github.com/lalithlochan/pulse/internal/signer"
)

// Repository defines the database operations the API depends on.
type Repository interface {
	CreateEvent(ctx context.Context, e *db.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*db.Event, error)
	ListFailedEvents(ctx context.Context, limit, offset int) ([]*db.Event, error)

	CreateWebhook(ctx context.Context, w *db.Webhook) error
	GetWebhook(ctx context.Context, id uuid.UUID) (*db.Webhook, error)
	RegenerateWebhookSecret(ctx context.Context, id uuid.UUID, secret string) error

	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ListNotificationsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*db.Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID) error
}

// EventSubmitter submits ingested events for asynchronous processing.
type EventSubmitter interface {
	EnqueueBatch(ctx context.Context, eventIDs []uuid.UUID) []pipeline.BatchResult
}

// Notifier creates notifications and routes them by channel.
type Notifier interface {
	CreateAndDispatch(ctx context.Context, userID uuid.UUID, channel db.Channel, title, content string, metadata map[string]any) (*db.Notification, error)
	CreateBulk(ctx context.Context, userIDs []uuid.UUID, channel db.Channel, title, content string, metadata map[string]any) []pipeline.BulkResult
	DispatchWebhook(ctx context.Context, notificationID uuid.UUID, url, secret string) error
}

// Aggregator serves on-demand activity aggregations.
type Aggregator interface {
	UserAggregation(ctx context.Context, userID uuid.UUID, timeRange string) (*reports.Aggregation, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        Repository
	events      EventSubmitter
	notifier    Notifier
	aggregator  Aggregator
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler. idempotency may be nil.
func NewHandler(logger *zap.Logger, repo Repository, events EventSubmitter, notifier Notifier, aggregator Aggregator, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		events:      events,
		notifier:    notifier,
		aggregator:  aggregator,
		idempotency: idempotency,
	}
}

// EventRequest represents an incoming tracked event
type EventRequest struct {
	UserID     string         `json:"user_id"`
	EventType  string         `json:"event_type"`
	EventName  string         `json:"event_name"`
	Properties map[string]any `json:"properties,omitempty"`
	SessionID  *string        `json:"session_id,omitempty"`
	URL        *string        `json:"url,omitempty"`
	Referrer   *string        `json:"referrer,omitempty"`
	UserAgent  *string        `json:"user_agent,omitempty"`
	IPAddress  *string        `json:"ip_address,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
}

// EventResponse is returned after accepting an event
type EventResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (req *EventRequest) toEvent() (*db.Event, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, errors.New("user_id must be a valid UUID")
	}
	if req.EventType == "" || req.EventName == "" {
		return nil, errors.New("event_type and event_name are required")
	}

	e := &db.Event{
		ID:         uuid.New(),
		UserID:     userID,
		EventType:  req.EventType,
		EventName:  req.EventName,
		Properties: req.Properties,
		SessionID:  req.SessionID,
		URL:        req.URL,
		Referrer:   req.Referrer,
		UserAgent:  req.UserAgent,
		IPAddress:  req.IPAddress,
		Status:     db.EventPending,
	}
	if req.Timestamp != nil {
		e.Timestamp = req.Timestamp.UTC()
	}
	return e, nil
}

// IngestEvent handles POST /v1/events.
// Supports deduplication via the Idempotency-Key header.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	event, err := req.toEvent()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid event", err.Error())
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, req.UserID, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			resp := EventResponse{ID: cached.EventID, Status: string(db.EventPending)}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
	}

	if err := h.repo.CreateEvent(ctx, event); err != nil {
		h.logger.Error("failed to create event",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("event_type", req.EventType),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create event", "")
		return
	}

	results := h.events.EnqueueBatch(ctx, []uuid.UUID{event.ID})
	if results[0].Err != nil {
		// The event row exists; the enqueue failure is already counted and
		// logged, and the client can resubmit.
		h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue event", "")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			EventID:    event.ID.String(),
			StatusCode: http.StatusAccepted,
			CreatedAt:  time.Now().Unix(),
		}
		if err := h.idempotency.Store(ctx, req.UserID, idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.logger.Info("event accepted",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(EventResponse{ID: event.ID.String(), Status: string(event.Status)})
}

// BatchEventRequest wraps a batch ingestion body
type BatchEventRequest struct {
	Events []EventRequest `json:"events"`
}

// IngestEventBatch handles POST /v1/events/batch
func (h *Handler) IngestEventBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if len(req.Events) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Empty batch", "events must not be empty")
		return
	}

	accepted := make([]EventResponse, 0, len(req.Events))
	var ids []uuid.UUID
	for i, er := range req.Events {
		event, err := er.toEvent()
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid event in batch", "event "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		if err := h.repo.CreateEvent(ctx, event); err != nil {
			h.logger.Error("failed to create event in batch", zap.Error(err), zap.Int("index", i))
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create event", "")
			return
		}
		ids = append(ids, event.ID)
		accepted = append(accepted, EventResponse{ID: event.ID.String(), Status: string(event.Status)})
	}

	// Submission failures are per-event and already observable; the rows
	// exist either way.
	h.events.EnqueueBatch(ctx, ids)

	h.logger.Info("event batch accepted", zap.Int("count", len(ids)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"events": accepted,
		"count":  len(accepted),
	})
}

// GetEvent handles GET /v1/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid event ID", "ID must be a valid UUID")
		return
	}

	event, err := h.repo.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Event not found", "")
			return
		}
		h.logger.Error("failed to get event", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get event", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(event)
}

// ListFailedEvents handles GET /v1/events/failed?limit=20&offset=0
func (h *Handler) ListFailedEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := parsePagination(r)

	events, err := h.repo.ListFailedEvents(ctx, limit, offset)
	if err != nil {
		h.logger.Error("failed to list failed events", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list events", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":   events,
		"limit":  limit,
		"offset": offset,
		"count":  len(events),
	})
}

// NotificationRequest represents the incoming notification body
type NotificationRequest struct {
	UserID   string         `json:"user_id"`
	Channel  string         `json:"channel"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Webhook-channel targets.
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// CreateNotification handles POST /v1/notifications
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	channel := db.Channel(req.Channel)
	if !channel.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be email, in_app, or webhook")
		return
	}
	if req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing title", "title is required")
		return
	}
	if channel == db.ChannelWebhook && req.WebhookURL == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing webhook_url", "webhook_url is required for the webhook channel")
		return
	}

	n, err := h.notifier.CreateAndDispatch(ctx, userID, channel, req.Title, req.Content, req.Metadata)
	if err != nil {
		h.logger.Error("failed to create notification", zap.Error(err), zap.String("user_id", req.UserID))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create notification", "")
		return
	}

	if channel == db.ChannelWebhook {
		if err := h.notifier.DispatchWebhook(ctx, n.ID, req.WebhookURL, req.WebhookSecret); err != nil {
			h.logger.Error("failed to dispatch webhook notification",
				zap.Error(err),
				zap.String("notification_id", n.ID.String()),
			)
			h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue notification", "")
			return
		}
	}

	h.logger.Info("notification created",
		zap.String("id", n.ID.String()),
		zap.String("channel", string(channel)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(n)
}

// BulkNotificationRequest fans one notification out to many users
type BulkNotificationRequest struct {
	UserIDs  []string       `json:"user_ids"`
	Channel  string         `json:"channel"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateBulkNotifications handles POST /v1/notifications/bulk
func (h *Handler) CreateBulkNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BulkNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if len(req.UserIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Empty user list", "user_ids must not be empty")
		return
	}

	channel := db.Channel(req.Channel)
	if !channel.Valid() || channel == db.ChannelWebhook {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "bulk channel must be email or in_app")
		return
	}

	userIDs := make([]uuid.UUID, 0, len(req.UserIDs))
	for _, s := range req.UserIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", s+" is not a valid UUID")
			return
		}
		userIDs = append(userIDs, id)
	}

	results := h.notifier.CreateBulk(ctx, userIDs, channel, req.Title, req.Content, req.Metadata)

	created := 0
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		item := map[string]any{"user_id": res.UserID.String()}
		if res.Err != nil {
			item["error"] = res.Err.Error()
		} else {
			item["notification_id"] = res.NotificationID.String()
			created++
		}
		out = append(out, item)
	}

	h.logger.Info("bulk notifications created",
		zap.Int("requested", len(userIDs)),
		zap.Int("created", created),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"results": out,
		"created": created,
	})
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	n, err := h.repo.GetNotification(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to get notification", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get notification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(n)
}

// ListNotifications handles GET /v1/notifications?user_id=xxx&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id query parameter must be a valid UUID")
		return
	}
	limit, offset := parsePagination(r)

	notifications, err := h.repo.ListNotificationsByUser(ctx, userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err), zap.String("user_id", userID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// MarkNotificationRead handles POST /v1/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	if err := h.repo.MarkNotificationRead(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found or not readable", "")
			return
		}
		h.logger.Error("failed to mark notification read", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark notification read", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     id.String(),
		"status": string(db.NotificationRead),
	})
}

// WebhookRequest represents the incoming webhook registration body
type WebhookRequest struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"`
}

// WebhookResponse includes the secret exactly once, at creation.
type WebhookResponse struct {
	*db.Webhook
	Secret string `json:"secret"`
}

// CreateWebhook handles POST /v1/webhooks
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}
	if req.Name == "" || req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and url are required")
		return
	}

	secret, err := signer.NewSecret()
	if err != nil {
		h.logger.Error("failed to generate webhook secret", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to generate secret", "")
		return
	}

	hook := &db.Webhook{
		ID:       uuid.New(),
		UserID:   userID,
		Name:     req.Name,
		URL:      req.URL,
		Secret:   secret,
		Events:   req.Events,
		IsActive: true,
	}

	if err := h.repo.CreateWebhook(ctx, hook); err != nil {
		h.logger.Error("failed to create webhook", zap.Error(err), zap.String("user_id", req.UserID))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create webhook", "")
		return
	}

	h.logger.Info("webhook created",
		zap.String("id", hook.ID.String()),
		zap.String("user_id", req.UserID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(WebhookResponse{Webhook: hook, Secret: secret})
}

// GetWebhook handles GET /v1/webhooks/{id}
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid webhook ID", "ID must be a valid UUID")
		return
	}

	hook, err := h.repo.GetWebhook(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Webhook not found", "")
			return
		}
		h.logger.Error("failed to get webhook", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get webhook", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(hook)
}

// RegenerateWebhookSecret handles POST /v1/webhooks/{id}/secret
func (h *Handler) RegenerateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid webhook ID", "ID must be a valid UUID")
		return
	}

	secret, err := signer.NewSecret()
	if err != nil {
		h.logger.Error("failed to generate webhook secret", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to generate secret", "")
		return
	}

	if err := h.repo.RegenerateWebhookSecret(ctx, id, secret); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Webhook not found", "")
			return
		}
		h.logger.Error("failed to regenerate webhook secret", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to regenerate secret", "")
		return
	}

	h.logger.Info("webhook secret regenerated", zap.String("id", id.String()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     id.String(),
		"secret": secret,
	})
}

// GetUserAggregations handles GET /v1/users/{id}/aggregations?range=7d
func (h *Handler) GetUserAggregations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "ID must be a valid UUID")
		return
	}

	agg, err := h.aggregator.UserAggregation(ctx, userID, r.URL.Query().Get("range"))
	if err != nil {
		if errors.Is(err, reports.ErrInvalidRange) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid range", err.Error())
			return
		}
		h.logger.Error("failed to build aggregation", zap.Error(err), zap.String("user_id", userID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to build aggregation", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(agg)
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit, offset = 20, 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if o, err := strconv.Atoi(s); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
