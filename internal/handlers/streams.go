package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/greenhub/internal/api/middleware"
	"github.com/eldtechnologies/greenhub/internal/realtime"
)

// helloEvent is the first frame of every stream.
type helloEvent struct {
	Channel realtime.Channel `json:"channel"`
	UserID  int64            `json:"user_id"`
}

// Stream handles GET /channel/{channel}. The principal comes from the
// token query parameter and is not re-checked for the life of the stream.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	channel, ok := realtime.ParseChannel(chi.URLParam(r, "channel"))
	if !ok {
		h.Error(w, http.StatusNotFound, "unknown channel")
		return
	}

	rc := http.NewResponseController(w)
	// The server's write timeout would cut every stream; unsupported writers are fine
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := realtime.NewStream(h.opts.StreamBuffer)

	// Registered before hello so nothing sent after the client sees hello is lost;
	// queued frames are written only once Serve starts.
	h.registry.Register(channel, p.ID, stream)
	defer h.registry.Unregister(channel, p.ID, stream)
	defer stream.Close()

	hello, _ := json.Marshal(helloEvent{Channel: channel, UserID: p.ID})
	if _, err := w.Write(realtime.EncodeFrame("hello", "", hello)); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Warn().Err(err).Msg("response writer cannot flush; stream disabled")
		return
	}

	log := h.logger.With().
		Str("channel", string(channel)).
		Int64("user_id", p.ID).
		Logger()
	log.Debug().Msg("stream opened")

	start := time.Now()
	err := stream.Serve(r.Context(), w, rc.Flush, h.opts.Heartbeat)

	event := log.Debug()
	if err != nil {
		event = log.Info().Err(err)
	}
	event.Dur("duration", time.Since(start)).Msg("stream closed")
}
