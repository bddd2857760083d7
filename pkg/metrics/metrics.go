// Package metrics provides performance tracking and observability for mailtap
// using Prometheus metrics. Counters and gauges here are fire-and-forget:
// recording a metric never affects extraction control flow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsExtracted tracks total records emitted per stream
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtap_records_extracted_total",
			Help: "Total number of records extracted and emitted",
		},
		[]string{"stream"},
	)

	// RecordsSkipped tracks records dropped before emission (duplicates)
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtap_records_skipped_total",
			Help: "Total number of records skipped before emission",
		},
		[]string{"stream", "reason"},
	)

	// PageFetches tracks paginated API page fetches per endpoint
	PageFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtap_page_fetches_total",
			Help: "Total number of API pages fetched",
		},
		[]string{"endpoint"},
	)

	// ExportLines tracks bulk export lines consumed per stream
	ExportLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtap_export_lines_total",
			Help: "Total number of bulk export lines consumed",
		},
		[]string{"stream"},
	)

	// ExtractionProgress reports pagination progress (current offset vs total)
	ExtractionProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailtap_extraction_progress",
			Help: "Current pagination offset as a fraction of total items",
		},
		[]string{"endpoint"},
	)

	// HTTPRequestDuration tracks remote API request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailtap_http_request_duration_seconds",
			Help:    "Remote API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// StreamRunDuration tracks how long each stream run takes
	StreamRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailtap_stream_run_duration_seconds",
			Help:    "Duration of a single stream run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"stream"},
	)

	// StreamFailures tracks per-stream failures caught by the orchestrator
	StreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtap_stream_failures_total",
			Help: "Total number of stream runs that ended in error",
		},
		[]string{"stream"},
	)
)

// ReportProgress records pagination progress for an endpoint. Total of zero or
// less reports full progress so dashboards do not show stuck gauges for empty
// collections.
func ReportProgress(endpoint string, offset, total int) {
	if total <= 0 {
		ExtractionProgress.WithLabelValues(endpoint).Set(1)
		return
	}
	ExtractionProgress.WithLabelValues(endpoint).Set(float64(offset) / float64(total))
}

// Timer measures the duration of an operation
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewRequestTimer starts a timer for a remote API request
func NewRequestTimer(endpoint string) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: HTTPRequestDuration.WithLabelValues(endpoint),
	}
}

// NewStreamTimer starts a timer for a stream run
func NewStreamTimer(stream string) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: StreamRunDuration.WithLabelValues(stream),
	}
}

// Stop records the elapsed time and returns it
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.observer.Observe(elapsed.Seconds())
	return elapsed
}
