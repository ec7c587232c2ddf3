package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eldtechnologies/greenhub/internal/api/middleware"
	"github.com/eldtechnologies/greenhub/internal/metrics"
	"github.com/eldtechnologies/greenhub/internal/store"
)

// CreateChatRequest is the body of POST /chats.
type CreateChatRequest struct {
	ParticipantIDs []int64 `json:"participantIds"`
	Title          string  `json:"title,omitempty"`
}

// CreateChat handles POST /chats.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	title := sanitizeText(req.Title, 100)
	chat, err := h.db.CreateChat(r.Context(), p.ID, req.ParticipantIDs, title)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			h.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, r, err, "failed to create chat")
		return
	}

	kind := "direct"
	if chat.IsGroup {
		kind = "group"
	}
	metrics.ChatsCreated.WithLabelValues(kind).Inc()

	h.JSON(w, http.StatusCreated, map[string]int64{"id": chat.ID})
}

// ListChats handles GET /chats.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chats, err := h.db.ListChatsFor(r.Context(), p.ID)
	if err != nil {
		h.internalError(w, r, err, "failed to list chats")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// GetMessages handles GET /chats/{chatID}/messages.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chatID, ok := idParam(r, "chatID")
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat ID")
		return
	}

	if !h.assertParticipant(w, r, chatID, p.ID) {
		return
	}

	limit, ok := queryInt(r, "limit", store.DefaultMessagePage)
	if !ok {
		h.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		h.Error(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	messages, err := h.db.ListMessages(r.Context(), chatID, limit, offset)
	if err != nil {
		h.internalError(w, r, err, "failed to fetch messages")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// assertParticipant writes 403 (or 500) and returns false unless userID is in the chat.
func (h *Handler) assertParticipant(w http.ResponseWriter, r *http.Request, chatID, userID int64) bool {
	err := h.db.AssertParticipant(r.Context(), chatID, userID)
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrForbidden) {
		h.Error(w, http.StatusForbidden, "not a participant of this chat")
		return false
	}
	h.internalError(w, r, err, "failed to check chat membership")
	return false
}
