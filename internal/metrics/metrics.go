// Package metrics holds the Prometheus collectors for the bridge and the
// adapters that feed them from the client, the tool registry, the health
// checker and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	backendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbmcp_backend_requests_total",
		Help: "Total qBittorrent API requests by method, path, and response status (0 = no response).",
	}, []string{"method", "path", "status"})

	backendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qbmcp_backend_request_duration_seconds",
		Help:    "qBittorrent API request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbmcp_logins_total",
		Help: "Total qBittorrent login attempts by result.",
	}, []string{"result"})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbmcp_tool_calls_total",
		Help: "Total tool calls by tool and outcome.",
	}, []string{"tool", "outcome"})

	toolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qbmcp_tool_call_duration_seconds",
		Help:    "Tool call duration in seconds.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"tool"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbmcp_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qbmcp_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbmcp_health_checks_total",
		Help: "Total backend health probes by result.",
	}, []string{"result"})

	backendUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qbmcp_backend_up",
		Help: "1 when the backend is healthy, 0 when degraded.",
	})
)

// BackendObserver feeds client request and login callbacks into the
// collectors. It satisfies client.Observer.
type BackendObserver struct{}

// ObserveRequest records one backend round trip.
func (BackendObserver) ObserveRequest(method, path string, status int, d time.Duration) {
	backendRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	backendRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveLogin records one login attempt.
func (BackendObserver) ObserveLogin(success bool) {
	loginsTotal.WithLabelValues(result(success)).Inc()
}

// RecordToolCall records a finished tool call. Its signature matches
// mcpbridge.Recorder.
func RecordToolCall(tool, outcome string, d time.Duration) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordHealthCheck records a health check probe result.
func RecordHealthCheck(success bool) {
	healthChecksTotal.WithLabelValues(result(success)).Inc()
}

// SetBackendUp sets the backend availability gauge.
func SetBackendUp(up bool) {
	if up {
		backendUp.Set(1)
	} else {
		backendUp.Set(0)
	}
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
