package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/discount-monitor/internal/database"
	"github.com/maltedev/discount-monitor/internal/models"
	"github.com/maltedev/discount-monitor/internal/settings"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// Store is the read side of the persistence store plus the dispatcher's
// mark-sent write.
type Store interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	Stats(ctx context.Context, dealThreshold int) (*models.Stats, error)
	ListRunLogs(ctx context.Context, platform string, limit int) ([]models.RunLog, error)
	PendingNotifications(ctx context.Context, limit int) ([]models.PendingNotification, error)
	MarkNotificationSent(ctx context.Context, id int64, sentAt time.Time) error
}

// OutboxStatus reports the relay backlog.
type OutboxStatus interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	store  Store
	outbox OutboxStatus
	logger *slog.Logger
	now    func() time.Time
}

func NewHandlers(store Store, outbox OutboxStatus, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:  store,
		outbox: outbox,
		logger: logger.With("component", "api"),
		now:    time.Now,
	}
}

// Health reports ok, warning or error based on the outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	pendingCount, err := h.outbox.GetPendingCount(r.Context())
	if err != nil {
		h.logger.Error("failed to count pending outbox events", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "outbox unavailable")
		return
	}
	deadLetterCount, err := h.outbox.GetDeadLetterCount(r.Context())
	if err != nil {
		h.logger.Error("failed to count dead letter events", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "outbox unavailable")
		return
	}

	health := map[string]interface{}{
		"status": "ok",
		"outbox": map[string]interface{}{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		},
	}

	status := http.StatusOK
	if pendingCount > pendingWarnThreshold {
		health["status"] = "warning"
		health["message"] = "High number of pending outbox events"
	}
	if deadLetterCount > deadLetterFailThreshold {
		health["status"] = "error"
		health["message"] = "High number of dead letter events"
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, health)
}

// GetStats uses the configured discount threshold to count active deals.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	raw, err := h.store.LoadSettings(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	s := settings.FromMap(raw)

	stats, err := h.store.Stats(r.Context(), s.MinDiscountThreshold)
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// ListRuns returns recent run log rows, optionally for one platform.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.store.ListRunLogs(r.Context(), r.URL.Query().Get("platform"), limit)
	if err != nil {
		h.logger.Error("failed to list run logs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if logs == nil {
		logs = []models.RunLog{}
	}

	h.respondJSON(w, http.StatusOK, logs)
}

func (h *Handlers) PendingNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pending, err := h.store.PendingNotifications(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list pending notifications", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if pending == nil {
		pending = []models.PendingNotification{}
	}

	h.respondJSON(w, http.StatusOK, pending)
}

// MarkSent is called by the dispatcher after delivery. Repeated calls are
// harmless.
func (h *Handlers) MarkSent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "notificationID"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	err = h.store.MarkNotificationSent(r.Context(), id, h.now())
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to mark notification sent", "error", err, "notification_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to mark notification sent")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "sent": true})
}

var errInvalidLimit = errors.New("limit must be a positive integer")

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errInvalidLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
