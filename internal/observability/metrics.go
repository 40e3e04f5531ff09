package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	essaysEvaluatedTotal  *prometheus.CounterVec
	plagiarismOverrides   *prometheus.CounterVec
	batchDurationSeconds  prometheus.Histogram
	feedbackCacheLookups  *prometheus.CounterVec
	reportsGeneratedTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 180},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		essaysEvaluatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "essays_evaluated_total",
			Help: "Essays processed by the evaluation pipeline, by outcome.",
		}, []string{"status"})

		plagiarismOverrides = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plagiarism_overrides_total",
			Help: "Plagiarism verdicts applied to integrity scores, by override level.",
		}, []string{"level"})

		batchDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evaluation_batch_duration_seconds",
			Help:    "Wall time of one evaluation batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		})

		feedbackCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedback_cache_lookups_total",
			Help: "Structured feedback cache lookups, by result.",
		}, []string{"result"})

		reportsGeneratedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reports_generated_total",
			Help: "Reports rendered, by kind.",
		}, []string{"kind"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			essaysEvaluatedTotal, plagiarismOverrides, batchDurationSeconds,
			feedbackCacheLookups, reportsGeneratedTotal,
		)
	})
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.Handler())
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// EssaysEvaluated counts pipeline outcomes ("evaluated", "failed").
func EssaysEvaluated() *prometheus.CounterVec {
	RegisterMetrics()
	return essaysEvaluatedTotal
}

// PlagiarismOverrides counts override levels applied to integrity scores.
func PlagiarismOverrides() *prometheus.CounterVec {
	RegisterMetrics()
	return plagiarismOverrides
}

// BatchDuration observes evaluation batch wall time.
func BatchDuration() prometheus.Histogram {
	RegisterMetrics()
	return batchDurationSeconds
}

// FeedbackCacheLookups counts cache hits and misses for structured feedback.
func FeedbackCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return feedbackCacheLookups
}

// ReportsGenerated counts rendered reports by kind.
func ReportsGenerated() *prometheus.CounterVec {
	RegisterMetrics()
	return reportsGeneratedTotal
}
