// Package metrics provides Prometheus instrumentation for the tracker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsTotal counts bets committed to a ledger, partitioned by result.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakeledger_bets_total",
		Help: "Total number of bets recorded",
	}, []string{"result"})

	// BetLatency tracks how long recording a bet takes end to end.
	BetLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stakeledger_bet_latency_seconds",
		Help:    "Bet recording latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ChallengesStarted counts challenges created.
	ChallengesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakeledger_challenges_started_total",
		Help: "Total number of challenges started",
	})

	// ChallengesFinished counts challenges reaching a terminal state.
	ChallengesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakeledger_challenges_finished_total",
		Help: "Challenges that reached a terminal state",
	}, []string{"result"})

	// StakeRejections counts bets rejected by the stake cap.
	StakeRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakeledger_stake_rejections_total",
		Help: "Bets rejected because the stake exceeded the running balance",
	})

	// EventPublishFailures counts lifecycle events that could not be delivered.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakeledger_event_publish_failures_total",
		Help: "Lifecycle events that failed to publish",
	}, []string{"type"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakeledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stakeledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
