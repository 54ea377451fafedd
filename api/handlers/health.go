package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 Health handler
// =============================================================================

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"

	readinessTimeout = 5 * time.Second
)

// HealthCheck is one readiness probe.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthHandler serves liveness, readiness and version endpoints.
//
// Required checks decide readiness. Optional checks (the shared search cache,
// whose failures only cost latency) report "warn" and degrade the status
// without taking the instance out of rotation.
type HealthHandler struct {
	logger  *zap.Logger
	version string

	mu       sync.RWMutex
	required []HealthCheck
	optional []HealthCheck
}

// ServiceHealthResponse is the body of the health endpoints.
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // healthy, degraded or unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one HealthCheck.
type CheckResult struct {
	Status  string `json:"status"` // pass, warn or fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler creates a handler without checks.
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger.With(zap.String("handler", "health"))}
}

// WithVersion sets the version reported by the liveness endpoints.
func (h *HealthHandler) WithVersion(version string) *HealthHandler {
	h.version = version
	return h
}

// RegisterCheck adds a required readiness probe.
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.required = append(h.required, check)
}

// RegisterOptionalCheck adds a probe whose failure only degrades readiness.
func (h *HealthHandler) RegisterOptionalCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.optional = append(h.optional, check)
}

// =============================================================================
// 🎯 HTTP handlers
// =============================================================================

// HandleLive serves GET /health and /healthz. It never runs checks.
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// HandleReady serves GET /ready and /readyz. Checks run concurrently and
// share one timeout.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := h.Evaluate(ctx)
	code := http.StatusOK
	if resp.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, resp)
}

// Evaluate runs every registered check.
func (h *HealthHandler) Evaluate(ctx context.Context) ServiceHealthResponse {
	h.mu.RLock()
	required := append([]HealthCheck(nil), h.required...)
	optional := append([]HealthCheck(nil), h.optional...)
	h.mu.RUnlock()

	resp := ServiceHealthResponse{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(required)+len(optional)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	run := func(check HealthCheck, failStatus string) {
		defer wg.Done()
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = failStatus
			result.Message = err.Error()
			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Bool("required", failStatus == "fail"),
				zap.Duration("latency", latency),
				zap.Error(err),
			)
		}

		mu.Lock()
		defer mu.Unlock()
		resp.Checks[check.Name()] = result
		switch {
		case err == nil:
		case failStatus == "fail":
			resp.Status = statusUnhealthy
		case resp.Status == statusHealthy:
			resp.Status = statusDegraded
		}
	}

	wg.Add(len(required) + len(optional))
	for _, c := range required {
		go run(c, "fail")
	}
	for _, c := range optional {
		go run(c, "warn")
	}
	wg.Wait()
	return resp
}

// HandleVersion serves GET /version.
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 Built-in checks
// =============================================================================

// PingCheck adapts a backend Ping method (database pool, Redis cache).
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck creates a named check around ping.
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// CorpusHealthCheck fails while the corpus holds no items.
type CorpusHealthCheck struct {
	size func() int
}

// NewCorpusHealthCheck creates a check over a corpus size function.
func NewCorpusHealthCheck(size func() int) *CorpusHealthCheck {
	return &CorpusHealthCheck{size: size}
}

func (c *CorpusHealthCheck) Name() string { return "corpus" }

func (c *CorpusHealthCheck) Check(context.Context) error {
	if c.size() == 0 {
		return errCorpusEmpty
	}
	return nil
}
