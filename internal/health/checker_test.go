package health_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ErlanBelekov/email-login/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

func newTestChecker() (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	logger := slog.Default()
	return health.NewChecker(logger, reg), reg
}

func TestLiveness_AlwaysUp(t *testing.T) {
	c, _ := newTestChecker()
	c.Add("postgres", &mockPinger{err: errors.New("db down")})

	result := c.Liveness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	if result.Checks != nil {
		t.Fatalf("expected no checks, got %v", result.Checks)
	}
}

func TestReadiness_AllUp(t *testing.T) {
	c, reg := newTestChecker()
	c.Add("postgres", &mockPinger{})
	c.Add("redis", health.PingerFunc(func(context.Context) error { return nil }))

	result := c.Readiness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	for _, dep := range []string{"postgres", "redis"} {
		if result.Checks[dep].Status != "up" {
			t.Fatalf("expected %s up, got %+v", dep, result.Checks[dep])
		}
		if gauge := testGauge(t, reg, "email_login_health_check_up", dep); gauge != 1 {
			t.Fatalf("expected %s gauge 1, got %f", dep, gauge)
		}
	}
}

func TestReadiness_OneDependencyDown(t *testing.T) {
	c, reg := newTestChecker()
	c.Add("postgres", &mockPinger{})
	c.Add("mongo", health.PingerFunc(func(context.Context) error { return errors.New("connection refused") }))

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
	mongo := result.Checks["mongo"]
	if mongo.Status != "down" || mongo.Error == "" {
		t.Fatalf("expected mongo down with error, got %+v", mongo)
	}
	if result.Checks["postgres"].Status != "up" {
		t.Fatalf("postgres should stay up, got %+v", result.Checks["postgres"])
	}

	if gauge := testGauge(t, reg, "email_login_health_check_up", "mongo"); gauge != 0 {
		t.Fatalf("expected gauge 0, got %f", gauge)
	}
}

func TestReadiness_NoDependencies(t *testing.T) {
	c, reg := newTestChecker()
	if result := c.Readiness(context.Background()); result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no gauge series, got %d", n)
	}
}

func testGauge(t *testing.T, reg *prometheus.Registry, name, depLabel string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "dependency" && lp.GetValue() == depLabel {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{dependency=%q} not found", name, depLabel)
	return 0
}
