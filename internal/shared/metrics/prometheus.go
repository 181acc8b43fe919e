package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Pipeline metrics
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_runs_total",
			Help: "Total number of analysis pipeline runs",
		},
		[]string{"outcome"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"stage"},
	)

	citationsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citations_issued_total",
			Help: "Total number of citation IDs issued across runs",
		},
	)

	retrievalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_retrieval_failures_total",
			Help: "Total number of failed knowledge retrieval calls",
		},
		[]string{"source"},
	)

	narrativeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "narrative_generation_failures_total",
			Help: "Total number of failed narrative generation calls",
		},
	)

	integrityWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_warnings_total",
			Help: "Total number of non-fatal integrity warnings",
		},
		[]string{"kind"},
	)

	auditAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_appends_total",
			Help: "Total number of audit sink appends",
		},
		[]string{"status"},
	)
)

// RecordRun records a finished pipeline run with its outcome ("completed" or "failed")
func RecordRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

// RecordStage records the duration of one pipeline stage
func RecordStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCitations records newly issued citation IDs
func RecordCitations(n int) {
	citationsIssued.Add(float64(n))
}

// RecordRetrievalFailure records a failed retrieval call ("web" or "local")
func RecordRetrievalFailure(source string) {
	retrievalFailures.WithLabelValues(source).Inc()
}

// RecordNarrativeFailure records a failed narrative generation call
func RecordNarrativeFailure() {
	narrativeFailures.Inc()
}

// RecordIntegrityWarning records a verification or citation warning
func RecordIntegrityWarning(kind string) {
	integrityWarnings.WithLabelValues(kind).Inc()
}

// RecordAuditAppend records an audit sink append ("ok" or "failed")
func RecordAuditAppend(status string) {
	auditAppends.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records HTTP request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
