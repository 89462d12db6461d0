// Package metrics provides Prometheus instrumentation for the league engine.
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
	// InstructionsTotal counts submitted instructions by layer, name and result.
	InstructionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_instructions_total",
		Help: "Total number of instructions submitted",
	}, []string{"layer", "instruction", "result"})

	// InstructionLatency tracks instruction execution latency.
	InstructionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "league_instruction_latency_seconds",
		Help:    "Instruction execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"layer", "instruction"})

	// DelegationTransitions counts authority flips.
	DelegationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_delegation_transitions_total",
		Help: "Authority transitions by kind",
	}, []string{"transition"})

	// Commits counts commits by outcome (applied or noop).
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_commits_total",
		Help: "Rollup to base ledger commits",
	}, []string{"outcome"})

	// LeaderboardUpdates counts leaderboard refreshes by outcome.
	LeaderboardUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_leaderboard_updates_total",
		Help: "Leaderboard updates by outcome",
	}, []string{"outcome"})

	// OpenPositions tracks currently open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "league_open_positions",
		Help: "Number of currently open positions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "league_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "league_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveInstruction records one instruction outcome.
func ObserveInstruction(layer, name string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	InstructionsTotal.WithLabelValues(layer, name, result).Inc()
	InstructionLatency.WithLabelValues(layer, name).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the label cardinality bounded.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
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
