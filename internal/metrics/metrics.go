// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SyncsTotal counts portfolio syncs, partitioned by outcome.
	SyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinledger_syncs_total",
		Help: "Total number of portfolio syncs",
	}, []string{"outcome"})

	// SyncDuration tracks full sync duration in seconds.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coinledger_sync_duration_seconds",
		Help:    "Portfolio sync duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// TradesImported counts imported trades, partitioned by disposition.
	TradesImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinledger_trades_imported_total",
		Help: "Trades processed by the importer",
	}, []string{"disposition"})

	// PnLComputeDuration tracks comprehensive P&L computation latency.
	PnLComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coinledger_pnl_compute_duration_seconds",
		Help:    "Comprehensive P&L computation duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PriceFetchesTotal counts price oracle fetches by outcome.
	PriceFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinledger_price_fetches_total",
		Help: "Price oracle fetches",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coinledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coinledger_http_request_duration_seconds",
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

		// Use the raw path for the label; user IDs make it mildly cardinal
		// but the API surface is small.
		path := r.URL.Path
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
