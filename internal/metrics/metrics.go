// Package metrics provides Prometheus instrumentation for the valuation engine.
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
	// PriceCacheLookups counts cache lookups by result: hit, miss or stale.
	PriceCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inheritx_price_cache_lookups_total",
		Help: "Price cache lookups partitioned by result",
	}, []string{"result"})

	// PriceCacheEntries tracks the number of assets held in the price cache.
	PriceCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inheritx_price_cache_entries",
		Help: "Number of assets currently held in the price cache",
	})

	// StoreReads counts read-through loads from the price store.
	StoreReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inheritx_price_store_reads_total",
		Help: "Latest-price reads that fell through to the durable store",
	}, []string{"outcome"})

	// PriceUpdates counts accepted price observations per asset.
	PriceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inheritx_price_updates_total",
		Help: "Accepted price updates",
	}, []string{"asset"})

	// Valuations counts collateral valuations by outcome.
	Valuations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inheritx_valuations_total",
		Help: "Collateral valuations computed",
	}, []string{"outcome"})

	// LedgerRejections counts on-ledger guard rejections by reason.
	LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inheritx_ledger_guard_rejections_total",
		Help: "Ledger guard checks that rejected the enclosing operation",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inheritx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inheritx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inheritx_http_request_duration_seconds",
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

		// Asset codes and plan IDs live in the path; label by route pattern.
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
