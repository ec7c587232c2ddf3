package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eldtechnologies/greenhub/internal/api/middleware"
	"github.com/eldtechnologies/greenhub/internal/metrics"
	"github.com/eldtechnologies/greenhub/internal/realtime"
	"github.com/eldtechnologies/greenhub/internal/store"
)

const (
	defaultNotificationPage = 50
	maxNotificationPage     = 200
)

// CreateNotificationRequest is the body of POST /notifications.
type CreateNotificationRequest struct {
	UserID int64  `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// CreateNotification handles POST /notifications (admin only).
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.UserID <= 0 {
		h.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	title := sanitizeText(req.Title, 200)
	if title == "" {
		h.Error(w, http.StatusBadRequest, "title is required")
		return
	}

	n, err := h.db.CreateNotification(r.Context(), req.UserID, title, sanitizeText(req.Body, 2000))
	if err != nil {
		h.internalError(w, r, err, "failed to create notification")
		return
	}
	metrics.NotificationsSent.Inc()

	delivered := h.broadcaster.Broadcast(realtime.ChannelNotifications, req.UserID, n)

	h.JSON(w, http.StatusCreated, map[string]any{"notification": n, "delivered": delivered})
}

// ListNotifications handles GET /notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit, ok := queryInt(r, "limit", defaultNotificationPage)
	if !ok {
		h.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if limit == 0 || limit > maxNotificationPage {
		limit = maxNotificationPage
	}

	notifications, err := h.db.ListNotifications(r.Context(), p.ID, limit)
	if err != nil {
		h.internalError(w, r, err, "failed to list notifications")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

// MarkNotificationRead handles POST /notifications/{id}/read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, ok := idParam(r, "id")
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid notification ID")
		return
	}

	if err := h.db.MarkNotificationRead(r.Context(), p.ID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "notification not found")
			return
		}
		h.internalError(w, r, err, "failed to update notification")
		return
	}

	h.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
