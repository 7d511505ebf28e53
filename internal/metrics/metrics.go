// Package metrics registers the Prometheus collectors of the link service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_http_requests_total",
			Help: "HTTP requests served, by route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "link_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var (
	// FilesUploaded counts files by upload outcome: accepted, rejected, failed.
	FilesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_files_uploaded_total",
			Help: "Files offered for upload, by outcome",
		},
		[]string{"outcome"},
	)

	UploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_uploaded_bytes_total",
		Help: "Bytes durably stored by accepted uploads",
	})

	// Downloads counts retrieval attempts by outcome: served, not_found,
	// expired, unauthorized, error.
	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_downloads_total",
			Help: "Download attempts, by outcome",
		},
		[]string{"outcome"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_sweep_runs_total",
			Help: "Reaper sweeps started, by kind and whether they were skipped",
		},
		[]string{"kind", "skipped"},
	)

	SweepDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_sweep_deleted_total",
			Help: "Items removed by reaper sweeps",
		},
		[]string{"kind"},
	)

	SweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_sweep_errors_total",
			Help: "Items a reaper sweep failed to remove",
		},
		[]string{"kind"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "link_sweep_duration_seconds",
			Help:    "Reaper sweep duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"kind"},
	)
)

// Middleware records request count and latency. Routes are labelled by their
// registered pattern so file ids do not explode cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
