package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/netsync/internal/auth"
	"github.com/annel0/netsync/internal/replication"
)

type fixedSnapshots struct{ snap *replication.Snapshot }

func (f fixedSnapshots) Snapshot() *replication.Snapshot { return f.snap }

func testSnapshot() *replication.Snapshot {
	return &replication.Snapshot{
		Time:          time.Now(),
		Strategy:      "spatial_hash",
		InterestCells: 2,
		Stats:         replication.ServerStats{Ticks: 42, MessagesSent: 7},
		Entities:      []replication.EntityInfo{
			{NetID: 1, HasOwner: false, Sync: "broadcast"},
			{NetID: 2, Owner: 5, HasOwner: true, Sync: "broadcast"},
			{NetID: 3, Owner: 5, HasOwner: true, Sync: "observers"},
		},
		Connections: []replication.ConnectionInfo{
			{ID: 5, Username: "alice", Authenticated: true, Ready: true, Player: 2},
			{ID: 6, Username: "bob", Authenticated: true},
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

func TestServer_OpenModeServesSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, err := NewServer(Config{Snapshots: fixedSnapshots{testSnapshot()}, Registry: reg})
	require.NoError(t, err)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = do(t, h, http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	decode(t, rec, &stats)
	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 2, stats.Connections)
	assert.Equal(t, 1, stats.Ready)
	assert.Equal(t, uint64(42), stats.Server.Ticks)
	assert.Equal(t, "spatial_hash", stats.Strategy)
	assert.Equal(t, 2, stats.Cells)
	assert.Positive(t, stats.Process.Goroutines)

	rec = do(t, h, http.MethodGet, "/api/entities?owner=5&limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ents struct {
		Total    int                      `json:"total"`
		Entities []replication.EntityInfo `json:"entities"`
	}
	decode(t, rec, &ents)
	assert.Equal(t, 2, ents.Total)
	require.Len(t, ents.Entities, 1)
	assert.Equal(t, uint32(2), ents.Entities[0].NetID)

	rec = do(t, h, http.MethodGet, "/api/entities?owner=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/connections", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice")

	// логин без JWT не зарегистрирован
	rec = do(t, h, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "a", Password: "b"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "netsync_admin_http_request_duration_seconds"))
	assert.Contains(t, rec.Body.String(), `netsync_admin_http_request_errors_total{class="4xx",method="GET",route="/api/entities"} 1`)
	assert.NotContains(t, rec.Body.String(), `route="/metrics"`)
}

func TestServer_JWTProtectsRoutes(t *testing.T) {
	users := auth.NewMemoryUserRepo()
	_, err := users.AddUser("root", "secret-pass", true)
	require.NoError(t, err)
	_, err = users.AddUser("viewer", "viewer-pass", false)
	require.NoError(t, err)
	tokens, err := auth.NewJWTAuthenticator([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	srv, err := NewServer(Config{Snapshots: fixedSnapshots{testSnapshot()}, Users: users, Tokens: tokens})
	require.NoError(t, err)
	h := srv.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/stats", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/stats", "garbage", nil).Code)
	// /health открыт всегда
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", nil).Code)

	rec := do(t, h, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "root", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := func(name, pass string) LoginResponse {
		rec := do(t, h, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: name, Password: pass})
		require.Equal(t, http.StatusOK, rec.Code)
		var lr LoginResponse
		decode(t, rec, &lr)
		require.NotEmpty(t, lr.Token)
		return lr
	}
	admin := login("root", "secret-pass")
	assert.True(t, admin.IsAdmin)
	viewer := login("viewer", "viewer-pass")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/connections", viewer.Token, nil).Code)

	newUser := RegisterRequest{Username: "carol", Password: "carol-pass"}
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/admin/users", viewer.Token, newUser).Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/admin/users", admin.Token, newUser).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/admin/users", admin.Token, newUser).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodPost, "/api/admin/users", admin.Token, RegisterRequest{Username: "dd", Password: "long-enough"}).Code)

	login("carol", "carol-pass")
}

func TestServer_RequiresSnapshots(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}
