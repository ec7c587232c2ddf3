package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/eldtechnologies/greenhub/internal/api/middleware"
	"github.com/eldtechnologies/greenhub/internal/metrics"
	"github.com/eldtechnologies/greenhub/internal/models"
	"github.com/eldtechnologies/greenhub/internal/realtime"
	"github.com/eldtechnologies/greenhub/internal/store"
)

// TelemetryRequest is the body of POST /iot/telemetry.
type TelemetryRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// PostTelemetry handles POST /iot/telemetry. The reading is pushed to the
// caller's own iot streams and kept in the short-lived history when redis is up.
func (h *Handler) PostTelemetry(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req TelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	topic := sanitizeText(req.Topic, 100)
	if topic == "" {
		h.Error(w, http.StatusBadRequest, "topic is required")
		return
	}
	payload := bytes.TrimSpace(req.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		h.Error(w, http.StatusBadRequest, "payload is required")
		return
	}

	reading := &models.TelemetryReading{
		Topic:     topic,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	if h.redis != nil {
		if err := h.redis.AddTelemetry(r.Context(), p.ID, reading); err != nil {
			h.logger.Warn().Err(err).Int64("user_id", p.ID).Msg("failed to record telemetry")
		}
	}
	metrics.TelemetryReadings.Inc()

	delivered := h.broadcaster.Broadcast(realtime.ChannelIoT, p.ID, reading)

	h.JSON(w, http.StatusAccepted, map[string]any{"accepted": true, "delivered": delivered})
}

// GetTelemetry handles GET /iot/telemetry.
func (h *Handler) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if h.redis == nil {
		h.Error(w, http.StatusServiceUnavailable, "telemetry history unavailable")
		return
	}

	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		h.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if limit > store.MaxTelemetryHistory {
		limit = store.MaxTelemetryHistory
	}

	readings, err := h.redis.RecentTelemetry(r.Context(), p.ID, r.URL.Query().Get("topic"), limit)
	if err != nil {
		h.internalError(w, r, err, "failed to fetch telemetry")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"readings": readings})
}
