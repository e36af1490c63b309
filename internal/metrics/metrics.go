// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerMutationsTotal counts committed ledger mutations by operation and
	// outcome ("ok" or "error").
	LedgerMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_mutations_total",
		Help: "Total number of ledger mutations",
	}, []string{"op", "outcome"})

	// ReplayDuration tracks full-replay latency.
	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_replay_duration_seconds",
		Help:    "Ledger replay duration in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// ReplayEntries tracks how many events each replay walked.
	ReplayEntries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_replay_entries",
		Help:    "Number of bets and withdrawals walked per replay",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// StoreConflicts counts optimistic commit conflicts (each one triggers a
	// retry).
	StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_store_conflicts_total",
		Help: "Commits rejected because the snapshot version moved",
	})

	// LimitCrossings counts new stop-limit crossings by kind.
	LimitCrossings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_limit_crossings_total",
		Help: "Stop-loss and stop-win crossings",
	}, []string{"kind"})

	// GoalsCompleted counts first-time goal completions by goal type.
	GoalsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_goals_completed_total",
		Help: "Goals reaching their target for the first time",
	}, []string{"type"})

	// NotificationsEmitted counts notifications by kind.
	NotificationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_notifications_emitted_total",
		Help: "Notifications appended to user inboxes",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// SweepRuns counts scheduled reconciliation sweeps by outcome.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_sweep_runs_total",
		Help: "Scheduled reconciliation sweeps",
	}, []string{"outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
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

		// Route pattern keeps user and entity ids out of the label set.
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
