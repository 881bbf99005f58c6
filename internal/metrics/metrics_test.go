package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/qbittorrent-mcp/internal/metrics"
	"github.com/jmerrifield20/qbittorrent-mcp/pkg/client"
)

var _ client.Observer = metrics.BackendObserver{}

func scrape(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMetrics_exposesRecordedSeries(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(metrics.PrometheusMiddleware())
	r.GET("/metrics", metrics.Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	obs := metrics.BackendObserver{}
	obs.ObserveRequest(http.MethodGet, "/api/v2/torrents/info", 200, 15*time.Millisecond)
	obs.ObserveLogin(true)
	obs.ObserveLogin(false)
	metrics.RecordToolCall("qb_list_torrents", "success", 20*time.Millisecond)
	metrics.RecordHealthCheck(false)
	metrics.SetBackendUp(true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	body := scrape(t, r)
	for _, want := range []string{
		`qbmcp_backend_requests_total{method="GET",path="/api/v2/torrents/info",status="200"}`,
		`qbmcp_logins_total{result="success"}`,
		`qbmcp_logins_total{result="failure"}`,
		`qbmcp_tool_calls_total{outcome="success",tool="qb_list_torrents"}`,
		`qbmcp_health_checks_total{result="failure"}`,
		`qbmcp_backend_up 1`,
		`qbmcp_http_requests_total{method="GET",path="/ping",status="204"}`,
	} {
		assert.Contains(t, body, want)
	}
}
