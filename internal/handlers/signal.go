package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/eldtechnologies/greenhub/internal/api/middleware"
	"github.com/eldtechnologies/greenhub/internal/metrics"
	"github.com/eldtechnologies/greenhub/internal/realtime"
)

// SignalEvent is pushed on the chat channel to every other participant.
// Signal is relayed exactly as received.
type SignalEvent struct {
	ChatID int64           `json:"chat_id"`
	Type   string          `json:"type"`
	From   int64           `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// Signal handles POST /chats/{chatID}/signal.
func (h *Handler) Signal(w http.ResponseWriter, r *http.Request) {
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

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' || !json.Valid(raw) {
		h.Error(w, http.StatusBadRequest, "signal must be a JSON object")
		return
	}

	participants, err := h.db.ListParticipants(r.Context(), chatID)
	if err != nil {
		h.internalError(w, r, err, "failed to load participants")
		return
	}

	others := make([]int64, 0, len(participants))
	for _, id := range participants {
		if id != p.ID {
			others = append(others, id)
		}
	}

	delivered := h.broadcaster.BroadcastMany(realtime.ChannelChat, others, SignalEvent{
		ChatID: chatID,
		Type:   "webrtc",
		From:   p.ID,
		Signal: raw,
	})
	metrics.SignalsRelayed.Inc()

	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "delivered": delivered})
}
