package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/greenhub/internal/attachments"
	"github.com/eldtechnologies/greenhub/internal/realtime"
	"github.com/eldtechnologies/greenhub/internal/store"
)

// Broadcaster pushes payloads to the open streams of principals.
type Broadcaster interface {
	Broadcast(c realtime.Channel, principalID int64, payload any) int
	BroadcastMany(c realtime.Channel, principalIDs []int64, payload any) int
}

// Options tune stream and upload behaviour.
type Options struct {
	Heartbeat      time.Duration
	StreamBuffer   int
	MaxUploadBytes int64
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db          store.DataStore
	redis       *store.RedisStore // optional; nil disables telemetry history
	registry    *realtime.Registry
	broadcaster Broadcaster
	files       attachments.Storage
	logger      zerolog.Logger
	opts        Options
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(
	db store.DataStore,
	redis *store.RedisStore,
	registry *realtime.Registry,
	broadcaster Broadcaster,
	files attachments.Storage,
	logger zerolog.Logger,
	opts Options,
) *Handler {
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = realtime.DefaultStreamBuffer
	}
	return &Handler{
		db:          db,
		redis:       redis,
		registry:    registry,
		broadcaster: broadcaster,
		files:       files,
		logger:      logger.With().Str("component", "handlers").Logger(),
		opts:        opts,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// internalError logs err and answers with a generic 500.
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	h.logger.Error().
		Err(err).
		Str("path", r.URL.Path).
		Msg(message)
	h.Error(w, http.StatusInternalServerError, message)
}

// idParam parses a positive int64 URL parameter.
func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt parses an optional non-negative query parameter.
func queryInt(r *http.Request, name string, defaultValue int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// sanitizeText trims and limits text to max characters, removing control characters.
func sanitizeText(s string, max int) string {
	s = strings.TrimSpace(s)

	// Remove control characters except newlines and tabs
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)

	if runes := []rune(s); len(runes) > max {
		s = string(runes[:max])
	}

	return s
}
