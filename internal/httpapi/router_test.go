package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/qbittorrent-mcp/internal/health"
	"github.com/jmerrifield20/qbittorrent-mcp/internal/httpapi"
	"github.com/jmerrifield20/qbittorrent-mcp/internal/mcpbridge"
	"github.com/jmerrifield20/qbittorrent-mcp/pkg/client"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubBackend answers every operation and counts calls.
type stubBackend struct {
	calls atomic.Int32
	err   error
}

func (s *stubBackend) ListTorrents(context.Context, string, string) ([]client.TorrentSummary, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []client.TorrentSummary{{Hash: strings.Repeat("a", 40), Name: "x", State: client.StateSeeding}}, nil
}

func (s *stubBackend) GetTorrentInfo(context.Context, string) (*client.TorrentDetail, error) {
	s.calls.Add(1)
	return &client.TorrentDetail{}, s.err
}

func (s *stubBackend) AddTorrent(context.Context, client.AddRequest) (*client.ActionOutcome, error) {
	s.calls.Add(1)
	return &client.ActionOutcome{Success: true, Message: "ok"}, s.err
}

func (s *stubBackend) ControlTorrent(context.Context, []string, client.Action, bool) (*client.ActionOutcome, error) {
	s.calls.Add(1)
	return &client.ActionOutcome{Success: true, Message: "ok"}, s.err
}

func (s *stubBackend) SearchTorrents(context.Context, client.SearchRequest) (*client.SearchResults, error) {
	s.calls.Add(1)
	return &client.SearchResults{Status: "Stopped"}, s.err
}

func (s *stubBackend) GetPreferences(context.Context, ...string) (client.Preferences, error) {
	s.calls.Add(1)
	return client.Preferences{}, s.err
}

type fixedStatus health.Status

func (f fixedStatus) Status() health.Status { return health.Status(f) }

func newRouter(t *testing.T, b mcpbridge.Backend, st httpapi.StatusSource, rps int) *gin.Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return httpapi.NewRouter(ctx, httpapi.Options{
		Tools:        mcpbridge.NewToolRegistry(b),
		Health:       st,
		CORSOrigins:  []string{"*"},
		RateLimitRPS: rps,
	})
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) mcpbridge.Result {
	t.Helper()
	var res mcpbridge.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return res
}

func TestHealthz(t *testing.T) {
	r := newRouter(t, &stubBackend{}, fixedStatus{State: health.StateHealthy, BackendVersion: "v5.0.0"}, 0)
	w := do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"healthy"`)

	r = newRouter(t, &stubBackend{}, fixedStatus{State: health.StateDegraded}, 0)
	w = do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	r = newRouter(t, &stubBackend{}, nil, 0)
	w = do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListTools(t *testing.T) {
	r := newRouter(t, &stubBackend{}, nil, 0)
	w := do(r, http.MethodGet, "/api/v1/tools", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Tools []mcpbridge.ToolDefinition `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Tools, 6)
}

func TestCallTool_success(t *testing.T) {
	b := &stubBackend{}
	r := newRouter(t, b, nil, 0)

	w := do(r, http.MethodPost, "/api/v1/tools/qb_list_torrents", `{"filter":"seeding"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult(t, w)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), b.calls.Load())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCallTool_emptyBody(t *testing.T) {
	b := &stubBackend{}
	r := newRouter(t, b, nil, 0)

	w := do(r, http.MethodPost, "/api/v1/tools/qb_get_preferences", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResult(t, w).Success)
}

func TestCallTool_invalidInput(t *testing.T) {
	b := &stubBackend{}
	r := newRouter(t, b, nil, 0)

	w := do(r, http.MethodPost, "/api/v1/tools/qb_torrent_info", `{"hash":"zzz"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	res := decodeResult(t, w)
	assert.Equal(t, mcpbridge.ReasonInvalidInput, res.Reason)
	assert.Zero(t, b.calls.Load())
}

func TestCallTool_unknownTool(t *testing.T) {
	r := newRouter(t, &stubBackend{}, nil, 0)

	w := do(r, http.MethodPost, "/api/v1/tools/qb_nope", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, mcpbridge.ReasonUnknownTool, decodeResult(t, w).Reason)
}

func TestCallTool_backendFailureIsStructured(t *testing.T) {
	b := &stubBackend{err: &client.AuthenticationError{StatusCode: 403, Message: "invalid username or password"}}
	r := newRouter(t, b, nil, 0)

	w := do(r, http.MethodPost, "/api/v1/tools/qb_list_torrents", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	res := decodeResult(t, w)
	assert.False(t, res.Success)
	assert.Equal(t, mcpbridge.ReasonAuthentication, res.Reason)
}

func TestRequestID_propagated(t *testing.T) {
	r := newRouter(t, &stubBackend{}, nil, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestRateLimiter_limitsToolCallsOnly(t *testing.T) {
	b := &stubBackend{}
	r := newRouter(t, b, nil, 1)

	var limited *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		w := do(r, http.MethodPost, "/api/v1/tools/qb_list_torrents", `{}`)
		if w.Code == http.StatusTooManyRequests {
			limited = w
			break
		}
	}
	require.NotNil(t, limited, "expected 429 after exceeding burst")
	res := decodeResult(t, limited)
	assert.False(t, res.Success)
	assert.Equal(t, mcpbridge.ReasonRateLimited, res.Reason)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Equal(t, int32(2), b.calls.Load(), "burst of 2 reaches the backend")

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(t, &stubBackend{}, nil, 0)
	do(r, http.MethodGet, "/healthz", "")

	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "qbmcp_http_requests_total")
}
