package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics holds the server's prometheus instruments on a private
// registry, so multiple servers (as in tests) never collide.
type promMetrics struct {
	registry *prometheus.Registry

	backtestsTotal     prometheus.Counter
	optimizationsTotal prometheus.Counter
	signalsTotal       prometheus.Counter
	backtestDuration   prometheus.Histogram
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

func newPromMetrics() *promMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &promMetrics{
		registry: registry,
		backtestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtests_total",
			Help: "Number of backtest runs executed.",
		}),
		optimizationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "optimizations_total",
			Help: "Number of grid-search and walk-forward runs executed.",
		}),
		signalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_recorded_total",
			Help: "Number of directional signals recorded.",
		}),
		backtestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_duration_seconds",
			Help:    "Wall-clock duration of single backtest runs.",
			Buckets: prometheus.DefBuckets,
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// statusRecorder captures the response code for request instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the underlying writer so websocket upgrades still
// work on instrumented routes.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// instrument is a mux middleware recording request counts and latency
// under the route template, not the raw path.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		s.prom.requestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		s.prom.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
