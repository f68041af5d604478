package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/email-login/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Issuance

	LinksRequestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "email_login",
		Name:      "links_requested_total",
		Help:      "Login link requests, by outcome (sent, unknown, throttled, rate_limited, error).",
	}, []string{"outcome"})

	ThrottleStoreErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "email_login",
		Name:      "throttle_store_errors_total",
		Help:      "Throttle store failures that made the guard fail open.",
	}, []string{"op"})

	// Redemption

	RedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "email_login",
		Name:      "redemptions_total",
		Help:      "Login link redemptions, by action (preview, login) and outcome.",
	}, []string{"action", "outcome"})

	// Pruner

	PrunedTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "email_login",
		Name:      "pruned_tokens_total",
		Help:      "Expired login intents removed by the pruner, by store.",
	}, []string{"store"})

	PruneCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "email_login",
		Name:      "prune_cycle_duration_seconds",
		Help:      "Time taken for one prune cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "email_login",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "email_login",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "email_login",
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})
)

func Register() {
	prometheus.MustRegister(
		LinksRequestedTotal,
		ThrottleStoreErrorsTotal,
		RedemptionsTotal,
		PrunedTokensTotal,
		PruneCycleDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPRequestsInFlight,
	)
}

// NewServer serves /metrics and the health endpoints on a separate port.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, res health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if res.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(res)
}
