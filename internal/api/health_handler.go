package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/httputil"
)

// Component states. The overall verdict is the worst component state.
const (
	checkUp            = "up"
	checkDegraded      = "degraded"
	checkDown          = "down"
	checkNotConfigured = "not_configured"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the state of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type probe func(ctx context.Context) ComponentCheck

// HealthChecker runs named probes concurrently. Postgres and Redis are
// optional; the limiter and quota probes are added once a dispatcher is
// attached.
type HealthChecker struct {
	mu      sync.RWMutex
	probes  map[string]probe
	started time.Time
}

// NewHealthChecker creates a checker for the optional store connections.
// Either may be nil and then reports not_configured.
func NewHealthChecker(db *sql.DB, rdb *redis.Client) *HealthChecker {
	hc := &HealthChecker{probes: make(map[string]probe), started: time.Now()}

	hc.probes["database"] = func(ctx context.Context) ComponentCheck {
		if db == nil {
			return ComponentCheck{Status: checkNotConfigured}
		}
		return timedPing(ctx, 3*time.Second, time.Second, db.PingContext)
	}
	hc.probes["redis"] = func(ctx context.Context) ComponentCheck {
		if rdb == nil {
			return ComponentCheck{Status: checkNotConfigured}
		}
		return timedPing(ctx, 2*time.Second, 500*time.Millisecond, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return hc
}

// attach adds the dispatch probes. A limiter store that cannot answer is
// down; an exhausted quota only degrades the service since stats and
// limiter endpoints keep working.
func (hc *HealthChecker) attach(svc Dispatcher) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.probes["limiter"] = func(ctx context.Context) ComponentCheck {
		st, err := svc.LimiterStatus(ctx)
		if err != nil {
			return ComponentCheck{Status: checkDown, Message: fmt.Sprintf("limiter status: %v", err)}
		}
		if !st.Enabled {
			return ComponentCheck{Status: checkUp, Message: "disabled"}
		}
		return ComponentCheck{
			Status:  checkUp,
			Message: fmt.Sprintf("%s %d/%d per minute", st.Strategy, st.MinuteCount, st.MaxPerMinute),
		}
	}
	hc.probes["quota"] = func(context.Context) ComponentCheck {
		q := svc.QuotaStatus()
		if q.Limit <= 0 {
			return ComponentCheck{Status: checkUp, Message: "unlimited"}
		}
		msg := fmt.Sprintf("%d/%d sent today", q.Count, q.Limit)
		if q.Exhausted {
			return ComponentCheck{Status: checkDegraded, Message: msg}
		}
		return ComponentCheck{Status: checkUp, Message: msg}
	}
}

func (hc *HealthChecker) uptime() string {
	return time.Since(hc.started).Round(time.Second).String()
}

// HandleHealth always answers 200; the status field carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.run(r.Context())
	httputil.OK(w, HealthStatus{
		Status: overallStatus(checks),
		Uptime: hc.uptime(),
		Checks: checks,
	})
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{"status": "alive", "uptime": hc.uptime()})
}

// HandleReadiness returns 503 when any component is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.run(r.Context())
	overall := overallStatus(checks)

	ready := overall != "unhealthy"
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{"ready": ready, "status": overall, "checks": checks})
}

func (hc *HealthChecker) run(ctx context.Context) map[string]ComponentCheck {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.probes))
	for name := range hc.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	probes := make([]probe, len(names))
	for i, name := range names {
		probes[i] = hc.probes[name]
	}
	hc.mu.RUnlock()

	out := make([]ComponentCheck, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			out[i] = p(ctx)
		}(i, p)
	}
	wg.Wait()

	checks := make(map[string]ComponentCheck, len(names))
	for i, name := range names {
		checks[name] = out[i]
	}
	return checks
}

func timedPing(ctx context.Context, timeout, slow time.Duration, fn func(context.Context) error) ComponentCheck {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(pingCtx)
	latency := time.Since(start)

	switch {
	case err != nil:
		return ComponentCheck{Status: checkDown, Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	case latency > slow:
		return ComponentCheck{Status: checkDegraded, Latency: latency.String(), Message: "slow response"}
	default:
		return ComponentCheck{Status: checkUp, Latency: latency.String()}
	}
}

func overallStatus(checks map[string]ComponentCheck) string {
	overall := "healthy"
	for _, c := range checks {
		switch c.Status {
		case checkDown:
			return "unhealthy"
		case checkDegraded:
			overall = "degraded"
		}
	}
	return overall
}
