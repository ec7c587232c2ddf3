package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/greenhub/internal/attachments"
	"github.com/eldtechnologies/greenhub/internal/auth"
	"github.com/eldtechnologies/greenhub/internal/config"
	"github.com/eldtechnologies/greenhub/internal/models"
	"github.com/eldtechnologies/greenhub/internal/realtime"
	"github.com/eldtechnologies/greenhub/internal/store"
)

type routerEnv struct {
	router   http.Handler
	verifier *auth.JWTVerifier
	registry *realtime.Registry
	uploads  string
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	uploads := t.TempDir()
	files, err := attachments.NewLocalStorage(uploads, "/uploads", 1<<20)
	require.NoError(t, err)

	cfg := &config.Config{
		Env:                "test",
		UploadURLPrefix:    "/uploads",
		MaxUploadBytes:     1 << 20,
		StreamHeartbeat:    time.Hour,
		StreamBuffer:       8,
		CORSAllowedOrigins: []string{"*"},
	}
	verifier := auth.NewJWTVerifier("router-secret", "")
	registry := realtime.NewRegistry()

	r := NewRouter(zerolog.Nop(), cfg, Deps{
		Store:       db,
		Registry:    registry,
		Broadcaster: realtime.NewDispatcher(registry, zerolog.Nop()),
		Files:       files,
		Verifier:    verifier,
	})
	return &routerEnv{router: r, verifier: verifier, registry: registry, uploads: uploads}
}

func (e *routerEnv) token(t *testing.T, id int64, role string) string {
	t.Helper()
	tok, err := e.verifier.Issue(id, role, "", time.Minute)
	require.NoError(t, err)
	return tok
}

func TestPublicRoutes(t *testing.T) {
	e := newRouterEnv(t)

	for _, path := range []string{"/api", "/health", "/stats", "/metrics"} {
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	e := newRouterEnv(t)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.Header.Set("Authorization", "Bearer "+e.token(t, 1, models.RoleUser))
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Query tokens only work on streams
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats?token="+e.token(t, 1, models.RoleUser), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamRejectsBadTokenWithoutRegistering(t *testing.T) {
	e := newRouterEnv(t)

	for _, target := range []string{"/channel/chat", "/channel/chat?token=garbage"} {
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	}
	assert.Zero(t, e.registry.Connections(realtime.ChannelChat))
}

func TestStreamWithQueryToken(t *testing.T) {
	e := newRouterEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/channel/iot?token="+e.token(t, 7, models.RoleUser), nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Eventually(t, func() bool {
		return e.registry.Has(realtime.ChannelIoT, 7)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdminOnlyNotifications(t *testing.T) {
	e := newRouterEnv(t)
	body := `{"user_id":2,"title":"hi"}`

	for role, want := range map[string]int{models.RoleUser: http.StatusForbidden, models.RoleAdmin: http.StatusCreated} {
		req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.token(t, 1, role))
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}
}

func TestJSONBodyLimit(t *testing.T) {
	e := newRouterEnv(t)
	big := `{"title":"` + strings.Repeat("a", maxJSONBody) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token(t, 1, models.RoleUser))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadsServed(t *testing.T) {
	e := newRouterEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.uploads, "leaf.txt"), []byte("green"), 0644))

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/leaf.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "green", rec.Body.String())

	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
