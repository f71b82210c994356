// Package metrics holds the Prometheus collectors for the capture pipeline,
// the relay queue and the HTTP servers. Collectors are registered on the
// default registry at init and are safe for concurrent use.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for CapturesProcessed
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

var (
	// CapturesProcessed counts pipeline outcomes by result
	CapturesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieve_captures_processed_total",
			Help: "Total number of captures run through the pipeline.",
		},
		[]string{"result"},
	)

	// DeadLetters counts files moved to the failed folder
	DeadLetters = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sieve_dead_letters_total",
			Help: "Total number of inbox files moved to the dead-letter folder.",
		},
	)

	// ProcessingDuration records end-to-end processing time, LLM call included
	ProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sieve_processing_duration_seconds",
			Help:    "Duration of capture processing in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// RelaySubmitted counts captures accepted by the relay
	RelaySubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sieve_relay_captures_submitted_total",
			Help: "Total number of captures accepted into the relay queue.",
		},
	)

	// RelayAuthFailures counts rejected relay requests by reason
	RelayAuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieve_relay_auth_failures_total",
			Help: "Total number of rejected relay authentications.",
		},
		[]string{"reason"},
	)

	// RelayPending gauges the relay queue depth as of the last submit or list
	RelayPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sieve_relay_pending_captures",
			Help: "Number of captures waiting to be pulled.",
		},
	)

	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieve_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"server", "method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sieve_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		CapturesProcessed,
		DeadLetters,
		ProcessingDuration,
		RelaySubmitted,
		RelayAuthFailures,
		RelayPending,
		httpReqs,
		httpLat,
	)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Gin returns middleware recording request count and latency. The path label
// is the registered route so raw URLs do not blow up cardinality.
func Gin(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(server, method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(server, method, path).Observe(time.Since(start).Seconds())
	}
}
