package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs9_http_requests_total",
		Help: "HTTP requests processed",
	}, []string{"method", "path", "status", "namespace"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fs9_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	tokenCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs9_token_cache_hits_total",
		Help: "Token cache hits",
	})

	tokenCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs9_token_cache_misses_total",
		Help: "Token cache misses",
	})

	openHandles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fs9_open_handles",
		Help: "Open handles per namespace",
	}, []string{"namespace"})
)

// metricsHandler serves the Prometheus registry.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware records a counter and latency sample per request.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		ns := "unknown"
		if ctx, ok := contextFrom(r); ok {
			ns = ctx.Namespace
		}
		httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(recorder.status), ns).Inc()
		httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
