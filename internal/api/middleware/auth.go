package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/greenhub/internal/auth"
	"github.com/eldtechnologies/greenhub/internal/models"
)

type contextKey string

const PrincipalContextKey contextKey = "principal"

// AuthMiddleware resolves the caller's principal from a bearer token.
type AuthMiddleware struct {
	verifier auth.Verifier
	logger   zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(verifier auth.Verifier, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger.With().Str("component", "auth").Logger(),
	}
}

// RequireAuth verifies the Authorization: Bearer header.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		m.authenticate(w, r, next, token)
	})
}

// bearerToken extracts the credential from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// RequireStreamToken verifies the token query parameter. EventSource cannot
// set headers, so stream endpoints are the only place this form is accepted.
func (m *AuthMiddleware) RequireStreamToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing token")
			return
		}
		m.authenticate(w, r, next, token)
	})
}

func (m *AuthMiddleware) authenticate(w http.ResponseWriter, r *http.Request, next http.Handler, token string) {
	principal, err := m.verifier.Verify(token)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, auth.ErrExpiredToken) {
			msg = "token expired"
		}
		m.logger.Debug().
			Str("type", "security").
			Str("path", r.URL.Path).
			Err(err).
			Msg("token rejected")
		jsonError(w, http.StatusUnauthorized, msg)
		return
	}

	ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// RequireAdmin rejects principals without the admin role. Must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipalFromContext(r.Context())
		if p == nil || !p.IsAdmin() {
			jsonError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetPrincipalFromContext retrieves the authenticated principal from the request context.
func GetPrincipalFromContext(ctx context.Context) *models.Principal {
	p, ok := ctx.Value(PrincipalContextKey).(*models.Principal)
	if !ok {
		return nil
	}
	return p
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}
