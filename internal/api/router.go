package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/greenhub/internal/api/middleware"
	"github.com/eldtechnologies/greenhub/internal/attachments"
	"github.com/eldtechnologies/greenhub/internal/auth"
	"github.com/eldtechnologies/greenhub/internal/config"
	"github.com/eldtechnologies/greenhub/internal/handlers"
	"github.com/eldtechnologies/greenhub/internal/realtime"
	"github.com/eldtechnologies/greenhub/internal/store"
)

const (
	maxJSONBody       = 64 * 1024 // signaling payloads carry full SDP blobs
	multipartOverhead = 1 << 20
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Store       store.DataStore
	Redis       *store.RedisStore // optional
	Registry    *realtime.Registry
	Broadcaster handlers.Broadcaster
	Files       *attachments.LocalStorage
	Verifier    auth.Verifier
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (disabled without redis)
	limiter := middleware.NewRateLimiter(deps.Redis.Client(), logger, middleware.RateLimiterConfig{
		Verifier:         deps.Verifier,
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(
		deps.Store,
		deps.Redis,
		deps.Registry,
		deps.Broadcaster,
		deps.Files,
		logger,
		handlers.Options{
			Heartbeat:      cfg.StreamHeartbeat,
			StreamBuffer:   cfg.StreamBuffer,
			MaxUploadBytes: cfg.MaxUploadBytes,
		},
	)
	authMW := middleware.NewAuthMiddleware(deps.Verifier, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// Attachments are served by unguessable name
	prefix := strings.TrimSuffix(cfg.UploadURLPrefix, "/") + "/"
	r.Handle(prefix+"*", http.StripPrefix(prefix, noDirListing(http.FileServer(http.Dir(deps.Files.Dir())))))

	// Event streams (EventSource cannot send headers)
	r.With(authMW.RequireStreamToken).Get("/channel/{channel}", h.Stream)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(authMW.RequireAuth)

		r.With(middleware.MaxBodySize(cfg.MaxUploadBytes+multipartOverhead)).
			Post("/chats/{chatID}/messages", h.PostMessage)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(maxJSONBody))

			r.Post("/chats", h.CreateChat)
			r.Get("/chats", h.ListChats)
			r.Get("/chats/{chatID}/messages", h.GetMessages)
			r.Post("/chats/{chatID}/signal", h.Signal)

			r.Get("/notifications", h.ListNotifications)
			r.Post("/notifications/{id}/read", h.MarkNotificationRead)
			r.With(middleware.RequireAdmin).Post("/notifications", h.CreateNotification)

			r.Post("/iot/telemetry", h.PostTelemetry)
			r.Get("/iot/telemetry", h.GetTelemetry)
		})
	})

	return r
}

// noDirListing hides directory indexes from the file server.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
