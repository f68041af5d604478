package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts clients whose ping has another shape, such as redis or
// mongo.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type dependency struct {
	name   string
	pinger Pinger
}

// Checker verifies that all dependencies are reachable.
type Checker struct {
	deps   []dependency
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
func NewChecker(logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "email_login",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

// Add registers a dependency checked by Readiness. Call it during wiring,
// before the checker is served.
func (c *Checker) Add(name string, p Pinger) {
	c.deps = append(c.deps, dependency{name: name, pinger: p})
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness pings every dependency concurrently and reports per-check status.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult, len(c.deps)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, d := range c.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.pinger.Ping(checkCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("health check failed", "dependency", d.name, "error", err)
				result.Status = "down"
				result.Checks[d.name] = CheckResult{Status: "down", Error: err.Error()}
				c.gauge.WithLabelValues(d.name).Set(0)
				return
			}
			result.Checks[d.name] = CheckResult{Status: "up"}
			c.gauge.WithLabelValues(d.name).Set(1)
		}()
	}
	wg.Wait()

	return result
}
