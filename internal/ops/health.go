package ops

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onchain-casino-settlement/internal/platform/metrics"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// DependencyStatus is the last observed state of a dependency
type DependencyStatus struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthChecker runs dependency probes on a schedule and caches the results
// for /health, so probes never hit the dependencies directly
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	status  map[string]DependencyStatus
	timeout time.Duration
	metrics *metrics.SettlementMetrics
	logger  *slog.Logger
	Now     func() time.Time
}

func NewHealthChecker(timeout time.Duration, m *metrics.SettlementMetrics, logger *slog.Logger) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		status:  make(map[string]DependencyStatus),
		timeout: timeout,
		metrics: m,
		logger:  logger.With("component", "health"),
		Now:     time.Now,
	}
}

// Register adds a probe. Until its first run the dependency reports down.
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
	h.status[name] = DependencyStatus{Name: name}
}

// RunChecks probes every dependency concurrently. It never returns an error so
// a single unhealthy dependency does not mark the task itself as failed.
func (h *HealthChecker) RunChecks(ctx context.Context) error {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(chan DependencyStatus, len(checks))
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			st := DependencyStatus{Name: name, Up: true}
			if err := fn(checkCtx); err != nil {
				st.Up = false
				st.Error = err.Error()
			}
			st.CheckedAt = h.Now()
			results <- st
		}(name, fn)
	}
	wg.Wait()
	close(results)

	h.mu.Lock()
	defer h.mu.Unlock()
	for st := range results {
		prev := h.status[st.Name]
		h.status[st.Name] = st
		h.metrics.SetDependencyUp(st.Name, st.Up)
		if !st.Up {
			h.logger.Warn("Dependency unhealthy", "dependency", st.Name, "error", st.Error)
		} else if !prev.Up && !prev.CheckedAt.IsZero() {
			h.logger.Info("Dependency recovered", "dependency", st.Name)
		}
	}
	return nil
}

// Snapshot returns the cached statuses sorted by name and whether all are up
func (h *HealthChecker) Snapshot() ([]DependencyStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]DependencyStatus, 0, len(h.status))
	healthy := true
	for _, st := range h.status {
		out = append(out, st)
		healthy = healthy && st.Up
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, healthy
}
