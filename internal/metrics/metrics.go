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
	// TransitionsTotal counts ledger transitions by operation and outcome
	// ("ok" or the error code).
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transitions_total",
		Help: "Total number of ledger transitions attempted",
	}, []string{"op", "outcome"})

	// TransitionLatency tracks transition latency, store round trips included.
	TransitionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_transition_latency_seconds",
		Help:    "Ledger transition latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// SettlementsTotal counts settled wagers and vault bets by result.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_settlements_total",
		Help: "Settled bets by kind and result",
	}, []string{"kind", "result"})

	// VolumeTotal tracks cumulative token units moved, by operation.
	VolumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_volume_units_total",
		Help: "Cumulative token units moved by operation",
	}, []string{"op"})

	// FeesCollected tracks cumulative vault fees.
	FeesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_vault_fees_units_total",
		Help: "Cumulative vault fees collected in token units",
	})

	// EventPublishFailures counts audit events that could not be delivered.
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_event_publish_failures_total",
		Help: "Audit events that failed to publish after commit",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

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

// ObserveTransition records one transition attempt.
func ObserveTransition(op, outcome string, start time.Time) {
	TransitionsTotal.WithLabelValues(op, outcome).Inc()
	TransitionLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern (/users/{identity}) rather than
// raw path, keeping label cardinality bounded.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
