package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/greenhub/internal/auth"
	"github.com/eldtechnologies/greenhub/internal/models"
)

func principalEcho(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipalFromContext(r.Context())
	if p == nil {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(p.Role))
}

func TestRequireAuth(t *testing.T) {
	v := auth.NewJWTVerifier("secret", "")
	m := NewAuthMiddleware(v, zerolog.Nop())
	h := m.RequireAuth(http.HandlerFunc(principalEcho))

	valid, err := v.Issue(5, models.RoleAdmin, "", time.Minute)
	require.NoError(t, err)
	expired, err := v.Issue(5, models.RoleUser, "", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, "missing bearer token"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "missing bearer token"},
		{"garbage", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
		{"valid", "Bearer " + valid, http.StatusOK, models.RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/chats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestRequireStreamToken(t *testing.T) {
	v := auth.NewJWTVerifier("secret", "")
	m := NewAuthMiddleware(v, zerolog.Nop())
	h := m.RequireStreamToken(http.HandlerFunc(principalEcho))

	token, err := v.Issue(9, "", "", time.Minute)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channel/chat", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Header tokens are not accepted on streams
	req := httptest.NewRequest(http.MethodGet, "/channel/chat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channel/chat?token="+token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleUser, rec.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(principalEcho))

	req := httptest.NewRequest(http.MethodPost, "/notifications", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &models.Principal{ID: 1, Role: models.RoleUser}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = req.WithContext(WithPrincipal(req.Context(), &models.Principal{ID: 1, Role: models.RoleAdmin}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/chats":                "/chats",
		"/chats/12/messages":    "/chats/:id/messages",
		"/chats/7/signal":       "/chats/:id/signal",
		"/notifications/3/read": "/notifications/:id/read",
		"/channel/chat":         "/channel/chat",
		"/channel/bogus":        "/channel/:name",
		"/uploads/abc.png":      "/uploads/:file",
		"/health":               "/health",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		target string
		ct     string
		status int
	}{
		{"json", "/chats", "application/json", http.StatusNoContent},
		{"multipart", "/chats/1/messages", "multipart/form-data; boundary=x", http.StatusNoContent},
		{"form", "/chats", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"traversal", "/uploads/..%2f..%2fetc", "application/json", http.StatusBadRequest},
		{"script in query", "/chats?x=<script>", "application/json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader("{}"))
			req.Header.Set("Content-Type", tt.ct)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	v := auth.NewJWTVerifier("secret", "")
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{
		Verifier:  v,
		Limits:    []RateLimit{{"POST /chats", 2, time.Minute, ScopePrincipal}},
		Whitelist: []string{"10.1.0.0/16"},
	})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(token, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/chats", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	alice, err := v.Issue(1, models.RoleUser, "", time.Minute)
	require.NoError(t, err)
	aliceAgain, err := v.Issue(1, models.RoleUser, "", 2*time.Minute)
	require.NoError(t, err)
	bob, err := v.Issue(2, models.RoleUser, "", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, send(alice, "1.2.3.4").Code)
	// A second token for the same user shares the bucket
	assert.Equal(t, http.StatusCreated, send(aliceAgain, "1.2.3.5").Code)
	limited := send(alice, "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, limited.Body.String())

	// Separate principal, separate bucket
	assert.Equal(t, http.StatusCreated, send(bob, "1.2.3.4").Code)

	// Whitelisted range is never limited
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusCreated, send(alice, "10.1.4.4").Code)
	}

	rl.blocker.Block(context.Background(), "5.5.5.5", time.Hour, "test")
	assert.Equal(t, http.StatusForbidden, send(bob, "5.5.5.5").Code)
}

func TestRateLimiterUnverifiedTokensShareAddressBucket(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{
		Verifier: auth.NewJWTVerifier("secret", ""),
		Limits:   []RateLimit{{"POST /chats", 3, time.Minute, ScopePrincipal}},
	})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	forged, err := auth.NewJWTVerifier("other-secret", "").Issue(9, models.RoleUser, "", time.Minute)
	require.NoError(t, err)

	codes := make([]int, 0, 5)
	for _, header := range []string{"Bearer junk-1", "Bearer junk-2", "Bearer " + forged, "", "Basic abc"} {
		req := httptest.NewRequest(http.MethodPost, "/chats", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		req.Header.Set("X-Real-IP", "7.7.7.7")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{
		http.StatusCreated,
		http.StatusCreated,
		http.StatusCreated,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes)
}

func TestRateLimiterAutoBlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{
		Limits:           []RateLimit{{"GET /channel/", 1, time.Minute, ScopeIP}},
		AutoBlockEnabled: true,
	})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/channel/chat", nil)
		req.Header.Set("X-Real-IP", "8.8.4.4")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send())
	for i := 0; i < violationThreshold; i++ {
		require.Equal(t, http.StatusTooManyRequests, send())
	}
	assert.Equal(t, http.StatusForbidden, send())
	assert.True(t, mr.Exists(blockKey("8.8.4.4")))
}

func TestRateLimiterWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chats", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
