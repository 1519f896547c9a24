package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	gradingRunsTotal        *prometheus.CounterVec
	gradingStageSeconds     *prometheus.HistogramVec
	gradingCacheLookups     *prometheus.CounterVec
	gradingQuestionFailures *prometheus.CounterVec
	gradingLocationFallback *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors for the API and the
// grading pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "grading_api_requests_total",
			Help:      "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gema",
			Name:      "grading_api_latency_seconds",
			Help:      "Latency distribution for grading API requests.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "grading_api_errors_total",
			Help:      "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "runs_total",
			Help:      "Grading runs by terminal status and mode.",
		}, []string{"status", "mode"})

		gradingStageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each grading pipeline stage.",
			Buckets:   []float64{0.005, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"})

		gradingCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "cache_lookups_total",
			Help:      "Fingerprint cache lookups by result.",
		}, []string{"result"})

		gradingQuestionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "question_failures_total",
			Help:      "Questions that could not be graded, by error kind.",
		}, []string{"kind"})

		gradingLocationFallback = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "grading",
			Name:      "location_fallbacks_total",
			Help:      "Error localizations replaced by the fallback box, by reason.",
		}, []string{"reason"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			gradingRunsTotal, gradingStageSeconds, gradingCacheLookups,
			gradingQuestionFailures, gradingLocationFallback,
		)
	})
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

// GradingRuns counts finished runs.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// GradingStageDuration observes per-stage latency.
func GradingStageDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingStageSeconds
}

// GradingCacheLookups counts hits, misses and backend errors.
func GradingCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingCacheLookups
}

// GradingQuestionFailures counts per-question failures.
func GradingQuestionFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingQuestionFailures
}

// GradingLocationFallbacks counts fallback substitutions in error localization.
func GradingLocationFallbacks() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingLocationFallback
}
