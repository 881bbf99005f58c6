// Package httpapi exposes the tool registry over plain HTTP next to the
// stdio MCP transport, together with health and metrics endpoints.
package httpapi

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/qbittorrent-mcp/internal/health"
	"github.com/jmerrifield20/qbittorrent-mcp/internal/mcpbridge"
	"github.com/jmerrifield20/qbittorrent-mcp/internal/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

// StatusSource reports backend health. *health.HealthChecker satisfies it.
type StatusSource interface {
	Status() health.Status
}

// Options configures the router.
type Options struct {
	Tools        *mcpbridge.ToolRegistry
	Health       StatusSource // optional
	Logger       *zap.Logger
	CORSOrigins  []string
	RateLimitRPS int // per caller IP, tool calls only; 0 disables
}

// NewRouter builds the gin engine. ctx bounds the rate limiter's sweeper.
func NewRouter(ctx context.Context, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", headerRequestID},
		ExposeHeaders:    []string{"Content-Length", headerRequestID},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(requestID())
	router.Use(metrics.PrometheusMiddleware())

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	})

	router.Use(requestLogger(logger))

	router.GET("/healthz", healthz(opts.Health))
	router.GET("/metrics", metrics.Handler())

	h := &toolHandler{tools: opts.Tools, logger: logger}
	if opts.RateLimitRPS > 0 {
		h.limiter = newCallerLimiter(opts.RateLimitRPS, opts.RateLimitRPS*2)
		go h.limiter.run(ctx)
	}
	v1 := router.Group("/api/v1")
	v1.GET("/tools", h.list)
	v1.POST("/tools/:name", h.call)

	return router
}

// Run serves handler on addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
		return err
	}
	return nil
}

func healthz(src StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		st := src.Status()
		code := http.StatusOK
		if st.State == health.StateDegraded {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, st)
	}
}

type toolHandler struct {
	tools   *mcpbridge.ToolRegistry
	limiter *callerLimiter // nil when disabled
	logger  *zap.Logger
}

func (h *toolHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.tools.Definitions()})
}

func (h *toolHandler) call(c *gin.Context) {
	name := c.Param("name")
	if !h.tools.Has(name) {
		c.JSON(http.StatusNotFound, mcpbridge.Result{
			Error:  "unknown tool: " + name,
			Reason: mcpbridge.ReasonUnknownTool,
		})
		return
	}

	if h.limiter != nil {
		if ok, retry := h.limiter.allow(c.ClientIP()); !ok {
			metrics.RecordToolCall(name, string(mcpbridge.ReasonRateLimited), 0)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			c.JSON(http.StatusTooManyRequests, mcpbridge.Result{
				Error:  "rate limit exceeded",
				Reason: mcpbridge.ReasonRateLimited,
			})
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, mcpbridge.Result{
				Error:  "request body too large",
				Reason: mcpbridge.ReasonInvalidInput,
			})
			return
		}
		c.JSON(http.StatusBadRequest, mcpbridge.Result{Error: "cannot read request body", Reason: mcpbridge.ReasonInvalidInput})
		return
	}

	res := h.tools.Call(c.Request.Context(), name, body)
	code := http.StatusOK
	if res.Reason == mcpbridge.ReasonInvalidInput {
		code = http.StatusBadRequest
	}
	c.JSON(code, res)
}

// requestID propagates the caller's X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
