package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestCount counts HTTP requests
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration measures HTTP request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	// AnalysisCount counts per-problem analyses by outcome
	AnalysisCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_total",
			Help: "Total number of similarity analyses",
		},
		[]string{"status"},
	)

	// AnalysisDuration measures a whole per-problem analysis
	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "Similarity analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// ToolDuration measures the comparison tool process alone
	ToolDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tool_duration_seconds",
			Help:    "Comparison tool run time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// IngestedSubmissions counts stream messages by outcome
	IngestedSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingested_submissions_total",
			Help: "Total number of submissions read from the stream",
		},
		[]string{"status"},
	)

	registerOnce sync.Once
)

// InitPrometheus registers every collector with the default registry. Safe to call more than once.
func InitPrometheus() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCount)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(AnalysisCount)
		prometheus.MustRegister(AnalysisDuration)
		prometheus.MustRegister(ToolDuration)
		prometheus.MustRegister(IngestedSubmissions)
	})
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
