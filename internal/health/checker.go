package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// States reported by Status.
const (
	StateUnknown  = "unknown"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Prober is the backend call used as a liveness probe. *client.Client
// satisfies it.
type Prober interface {
	Version(ctx context.Context) (string, error)
}

// MetricsRecordFunc is an optional callback for recording health check results.
type MetricsRecordFunc func(success bool)

// StateChangeFunc is an optional callback invoked when the backend moves
// between healthy and degraded.
type StateChangeFunc func(healthy bool)

// Status is a snapshot of the checker's view of the backend.
type Status struct {
	State            string    `json:"state"`
	BackendVersion   string    `json:"backend_version,omitempty"`
	LastCheck        time.Time `json:"last_check,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	ConsecutiveFails int       `json:"consecutive_failures"`
}

// HealthChecker periodically probes the backend. The backend is reported
// degraded after FailThreshold consecutive failed probes and healthy again
// after the first success.
type HealthChecker struct {
	prober        Prober
	cfg           Config
	onMetrics     MetricsRecordFunc
	onStateChange StateChangeFunc
	logger        *zap.Logger

	mu     sync.Mutex
	status Status
}

// New creates a new HealthChecker.
func New(prober Prober, cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthChecker{
		prober: prober,
		cfg:    cfg,
		logger: logger,
		status: Status{State: StateUnknown},
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// SetStateChange configures the state transition callback.
func (h *HealthChecker) SetStateChange(fn StateChangeFunc) {
	h.onStateChange = fn
}

// Start probes once immediately, then every CheckInterval until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ticker.C:
			h.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs a single probe, updates the status and reports success.
func (h *HealthChecker) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	defer cancel()

	version, err := h.prober.Version(pctx)
	success := err == nil

	if h.onMetrics != nil {
		h.onMetrics(success)
	}

	h.mu.Lock()
	prev := h.status
	next := prev
	next.LastCheck = time.Now().UTC()
	if success {
		next.State = StateHealthy
		next.BackendVersion = version
		next.LastError = ""
		next.ConsecutiveFails = 0
	} else {
		next.LastError = err.Error()
		next.ConsecutiveFails++
		if next.ConsecutiveFails >= h.cfg.FailThreshold {
			next.State = StateDegraded
		}
	}
	h.status = next
	h.mu.Unlock()

	switch {
	case success && prev.State == StateDegraded:
		h.logger.Info("health: recovered", zap.String("backend_version", version))
		h.notify(true)
	case success && prev.State == StateUnknown:
		h.logger.Info("health: backend reachable", zap.String("backend_version", version))
		h.notify(true)
	case !success && next.State == StateDegraded && prev.State != StateDegraded:
		// Transition: healthy → degraded (exactly at threshold)
		h.logger.Warn("health: degraded",
			zap.Int("fail_count", next.ConsecutiveFails),
			zap.Error(err),
		)
		h.notify(false)
	case !success:
		h.logger.Debug("health: probe failed", zap.Int("fail_count", next.ConsecutiveFails), zap.Error(err))
	}
	return success
}

// Status returns the latest snapshot.
func (h *HealthChecker) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *HealthChecker) notify(healthy bool) {
	if h.onStateChange != nil {
		h.onStateChange(healthy)
	}
}
