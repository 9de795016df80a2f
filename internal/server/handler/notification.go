package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// NotificationReader exposes the in-app notification queries the handler
// needs. The Postgres NotificationStore satisfies it directly.
type NotificationReader interface {
	ListByFarmer(ctx context.Context, farmerID uuid.UUID, opts domain.ListOpts) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

// NotificationHandler serves in-app notification endpoints.
type NotificationHandler struct {
	notifications NotificationReader
	logger        *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(notifications NotificationReader, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		logger:        logger,
	}
}

// notificationResponse is the JSON representation of a notification.
type notificationResponse struct {
	ID        uuid.UUID  `json:"id"`
	FarmerID  uuid.UUID  `json:"farmer_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	GroupID   *uuid.UUID `json:"group_id,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// ListNotifications returns a farmer's notifications, newest first.
// GET /api/notifications?farmer={uuid}&limit=50&offset=0
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("farmer")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "farmer query parameter is required")
		return
	}
	farmerID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid farmer id")
		return
	}

	opts := parseListOpts(r)
	rows, err := h.notifications.ListByFarmer(r.Context(), farmerID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list notifications failed",
			slog.String("farmer_id", farmerID.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	out := make([]notificationResponse, 0, len(rows))
	for _, n := range rows {
		out = append(out, notificationResponse{
			ID:        n.ID,
			FarmerID:  n.FarmerID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			GroupID:   n.GroupID,
			Status:    string(n.Status),
			CreatedAt: n.CreatedAt,
			ReadAt:    n.ReadAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

// MarkRead marks a notification as read.
// POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.notifications.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "mark notification read failed",
			slog.String("notification_id", id.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}
