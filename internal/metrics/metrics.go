// Package metrics provides Prometheus instrumentation for the
// doorcode gatekeeper.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorcode",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "doorcode",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts pipeline outcomes by kind and reason.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorcode",
			Name:      "decisions_total",
			Help:      "Total inbound message decisions by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	// PermanentBlocksTotal counts abuse-guard escalations to permanent block.
	PermanentBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorcode",
			Name:      "permanent_blocks_total",
			Help:      "Total senders permanently blocked, by triggering guard stage.",
		},
		[]string{"stage"},
	)

	// DefensiveModeActivations counts global flood-guard trips.
	DefensiveModeActivations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "doorcode",
			Name:      "defensive_mode_activations_total",
			Help:      "Times the global flood guard activated defensive mode.",
		},
	)

	// OptOutsTotal counts STOP-class opt-outs recorded.
	OptOutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "doorcode",
			Name:      "opt_outs_total",
			Help:      "Total opt-outs recorded.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		PermanentBlocksTotal,
		DefensiveModeActivations,
		OptOutsTotal,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Route pattern, not the raw path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
