package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc tests one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker serves /healthz (liveness) and /readyz (readiness).
// Readiness requires SetReady(true) and every registered dependency check to pass.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time
	timeout   time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc

	sequence func() int64
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		timeout:   2 * time.Second,
		checks:    make(map[string]CheckFunc),
	}
}

// SetReady is flipped once recovery and marketplace initialisation are done
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// AddCheck registers a dependency check run on every readiness request
func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

// ReportSequence adds the engine's next sequence to both health bodies
func (h *HealthChecker) ReportSequence(fn func() int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sequence = fn
}

// Check runs all dependency checks and returns the failures by name
func (h *HealthChecker) Check(ctx context.Context) map[string]string {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := h.checks
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	failed := make(map[string]string)
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

func (h *HealthChecker) body(status string) map[string]interface{} {
	b := map[string]interface{}{
		"status": status,
		"uptime": time.Since(h.startTime).String(),
	}
	h.mu.RLock()
	seq := h.sequence
	h.mu.RUnlock()
	if seq != nil {
		b["sequence"] = seq()
	}
	return b
}

// LivenessHandler is OK while the process runs
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, h.body("alive"))
}

// ReadinessHandler returns 503 until ready, or while any dependency check fails
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeHealth(w, http.StatusServiceUnavailable, h.body("not_ready"))
		return
	}
	if failed := h.Check(r.Context()); len(failed) > 0 {
		b := h.body("degraded")
		b["failed"] = failed
		writeHealth(w, http.StatusServiceUnavailable, b)
		return
	}
	writeHealth(w, http.StatusOK, h.body("ready"))
}

func writeHealth(w http.ResponseWriter, code int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
