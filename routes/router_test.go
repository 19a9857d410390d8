package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/ascend/clock"
	"github.com/cppla/ascend/config"
	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/reconcile"
	"github.com/cppla/ascend/store"
	"github.com/cppla/ascend/tracker"
	"github.com/cppla/ascend/utils"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	t     *testing.T
	r     *gin.Engine
	token string
}

func (c *apiClient) request(method, path string, body interface{}) *http.Request {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req
}

func (c *apiClient) decode(w *httptest.ResponseRecorder) envelope {
	c.t.Helper()
	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return env
}

func (c *apiClient) do(method, path string, body interface{}) (int, envelope) {
	c.t.Helper()
	w := httptest.NewRecorder()
	c.r.ServeHTTP(w, c.request(method, path, body))
	return w.Code, c.decode(w)
}

// within is do with a deadline, for calls that must not hang.
func (c *apiClient) within(d time.Duration, method, path string, body interface{}) (int, envelope) {
	c.t.Helper()
	req := c.request(method, path, body)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.r.ServeHTTP(w, req)
	}()
	select {
	case <-done:
	case <-time.After(d):
		c.t.Fatalf("%s %s did not answer within %s", method, path, d)
	}
	return w.Code, c.decode(w)
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.MemoryRemote) {
	db, err := config.OpenLocal(filepath.Join(t.TempDir(), "ascend.db"), "silent", store.LocalModels()...)
	require.NoError(t, err)
	users := store.NewUsers(db)
	local := store.NewGormLocal(db)
	remote := store.NewMemoryRemote()

	clk := clock.NewSystem(users.Location)
	locks := ledger.NewUserLocks()
	l := ledger.New(clk, nil)
	engine := reconcile.New(local, remote, l, clk, locks, reconcile.DefaultOptions(), nil)
	tr := tracker.New(local, l, engine, locks, clk, utils.NewProjectionCache(nil), tracker.Options{Sanitize: utils.SanitizeText}, nil)

	cfg := config.AppConfig{GinMode: "test", RateLimitPerMinute: 10000, AllowedOrigins: []string{"*"}, AdminUsernames: []string{"ops"}}
	r := SetupRouter(cfg, Deps{
		Users:     users,
		Tracker:   tr,
		Issuer:    utils.NewTokenIssuer("test-secret", time.Hour),
		Blacklist: utils.NewTokenBlacklist(nil),
		Activity:  reconcile.NewScheduler(engine, time.Minute, time.Hour, nil),
		Registry:  prometheus.NewRegistry(),
	})
	return r, remote
}

func TestProgressFlow(t *testing.T) {
	r, remote := newTestRouter(t)
	c := &apiClient{t: t, r: r}

	status, env := c.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": "ada", "password": "longenough", "training_path": "clarity", "timezone": "UTC",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var session struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &session))
	require.NotEmpty(t, session.Token)

	status, env = c.do(http.MethodPost, "/api/v1/auth/register", map[string]string{"username": "ADA", "password": "longenough"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, 40901, env.Code)

	status, _ = c.do(http.MethodGet, "/api/v1/progress", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	c.token = session.Token
	status, env = c.do(http.MethodPost, "/api/v1/progress/complete", map[string]interface{}{"effort_level": 3, "notes": "<b>done</b>"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var written struct {
		Entry struct {
			Notes string `json:"notes"`
		} `json:"entry"`
		Progress struct {
			CurrentStreak int `json:"current_streak"`
		} `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &written))
	assert.Equal(t, "done", written.Entry.Notes)
	assert.Equal(t, 1, written.Progress.CurrentStreak)

	// an identical retry is a no-op
	status, env = c.do(http.MethodPost, "/api/v1/progress/complete", map[string]interface{}{"effort_level": 3, "notes": "done"})
	assert.Equal(t, http.StatusCreated, status)
	assert.Contains(t, string(env.Data), `"current_streak":1`)

	status, env = c.do(http.MethodPost, "/api/v1/progress/skip", map[string]string{"day": "2999-01-01"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40011, env.Code)

	status, env = c.do(http.MethodPost, "/api/v1/bank/use", map[string]string{"day": "2020-01-01"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40020, env.Code)

	status, env = c.do(http.MethodGet, "/api/v1/projections/level", nil)
	assert.Equal(t, http.StatusOK, status)
	status, env = c.do(http.MethodGet, "/api/v1/projections/horoscope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 40420, env.Code)

	status, env = c.do(http.MethodPost, "/api/v1/checkins", map[string]int{"mood": 12})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40014, env.Code)

	status, env = c.do(http.MethodGet, "/api/v1/content/today", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"path":"clarity"`)

	status, env = c.do(http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"state":"synced"`)
	_, ok := remote.Entry(session.User.ID, clock.NewSystem(nil).Today(session.User.ID))
	assert.True(t, ok)

	status, _ = c.do(http.MethodPost, "/api/v1/auth/logout", nil)
	assert.Equal(t, http.StatusOK, status)
	status, env = c.do(http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 40104, env.Code)
}

func TestProfileAndPublicRoutes(t *testing.T) {
	r, _ := newTestRouter(t)
	c := &apiClient{t: t, r: r}

	status, env := c.do(http.MethodPost, "/api/v1/auth/register", map[string]string{"username": "x", "password": "longenough"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40002, env.Code)

	status, env = c.do(http.MethodPost, "/api/v1/auth/register", map[string]string{"username": "bob", "password": "longenough"})
	require.Equal(t, http.StatusCreated, status)
	status, env = c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "bob", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 40106, env.Code)

	status, env = c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "bob", "password": "longenough"})
	require.Equal(t, http.StatusOK, status)
	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &session))
	c.token = session.Token

	status, env = c.do(http.MethodPatch, "/api/v1/auth/profile", map[string]string{"timezone": "Mars/Olympus"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40032, env.Code)
	status, env = c.do(http.MethodPatch, "/api/v1/auth/profile", map[string]string{"training_path": "purpose", "timezone": "Asia/Tokyo"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"timezone":"Asia/Tokyo"`)

	status, env = c.do(http.MethodGet, "/api/v1/content/books?path=purpose&limit=1", nil)
	assert.Equal(t, http.StatusOK, status)
	var books struct {
		Items []map[string]string `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &books))
	assert.Len(t, books.Items, 1)

	status, _ = c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	status, env = c.do(http.MethodGet, "/api/v1/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 40400, env.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ascend_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID uint `json:"id"`
	} `json:"user"`
}

func register(t *testing.T, c *apiClient, username, timezone string) session {
	t.Helper()
	status, env := c.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": username, "password": "longenough", "timezone": timezone,
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var s session
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func TestWritesWithColdZoneCache(t *testing.T) {
	r, _ := newTestRouter(t)
	c := &apiClient{t: t, r: r}
	c.token = register(t, c, "lin", "UTC").Token

	// nothing has resolved the new user's zone yet
	status, env := c.within(5*time.Second, http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Contains(t, string(env.Data), `"state":"synced"`)

	// saving the profile evicts the cached zone
	status, env = c.do(http.MethodPatch, "/api/v1/auth/profile", map[string]string{"timezone": "Europe/Berlin"})
	require.Equal(t, http.StatusOK, status, env.Message)
	status, env = c.within(5*time.Second, http.MethodPost, "/api/v1/progress/complete", map[string]string{"day": "2024-01-01"})
	assert.Equal(t, http.StatusCreated, status, env.Message)

	status, env = c.do(http.MethodPatch, "/api/v1/auth/profile", map[string]string{"timezone": "Asia/Tokyo"})
	require.Equal(t, http.StatusOK, status, env.Message)
	status, env = c.within(5*time.Second, http.MethodPost, "/api/v1/bank/use", map[string]string{"day": "2024-01-02"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40020, env.Code)
}

func TestBankGrantIsAdminOnly(t *testing.T) {
	r, _ := newTestRouter(t)
	c := &apiClient{t: t, r: r}
	user := register(t, c, "kim", "UTC")
	ops := register(t, c, "ops", "UTC")

	c.token = user.Token
	status, _ := c.do(http.MethodPost, "/api/v1/bank/grant", map[string]int{"amount": 5})
	assert.Equal(t, http.StatusNotFound, status)
	status, env := c.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/bank/grant", user.User.ID), map[string]int{"amount": 5})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 40301, env.Code)

	c.token = ops.Token
	status, env = c.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/bank/grant", user.User.ID), map[string]interface{}{"amount": 2, "reason": "program finished"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	assert.Contains(t, string(env.Data), `"streak_bank_days":2`)

	status, env = c.do(http.MethodPost, "/api/v1/admin/users/999/bank/grant", map[string]int{"amount": 1})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 40402, env.Code)
	status, env = c.do(http.MethodPost, "/api/v1/admin/users/abc/bank/grant", map[string]int{"amount": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40005, env.Code)

	c.token = user.Token
	status, env = c.do(http.MethodGet, "/api/v1/progress", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"streak_bank_days":2`)
}
