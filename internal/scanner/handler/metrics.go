package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/hashverdict/internal/threat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	hvRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashverdict_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	hvRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hashverdict_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	hvSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashverdict_submissions_total",
		Help: "Total classified scan submissions by kind.",
	}, []string{"kind"})

	hvLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashverdict_lookups_total",
		Help: "Total provider lookups by outcome and severity.",
	}, []string{"outcome", "severity"})

	hvLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hashverdict_lookup_duration_seconds",
		Help:    "Provider lookup latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		hvRequestsTotal.WithLabelValues(method, path, status).Inc()
		hvRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordSubmission counts a classified submission.
func RecordSubmission(kind string) {
	hvSubmissionsTotal.WithLabelValues(kind).Inc()
}

// ObserveLookup is a threat.ObserveFunc that records provider lookups.
func ObserveLookup(res *threat.Result, err error, elapsed time.Duration) {
	hvLookupDuration.Observe(elapsed.Seconds())
	hvLookupsTotal.WithLabelValues(lookupOutcome(res, err), threat.Severity(res)).Inc()
}

func lookupOutcome(res *threat.Result, err error) string {
	switch {
	case errors.Is(err, threat.ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, threat.ErrRateLimited):
		return "rate_limited"
	case err != nil:
		return "transport_error"
	case res == nil:
		return "invalid"
	default:
		return res.Outcome.String()
	}
}
