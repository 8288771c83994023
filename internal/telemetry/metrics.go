package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsRequested    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_requested_total", Help: "Jobs created and dispatched"})
	JobsRedriven     = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_redriven_total", Help: "Manual redrives dispatched"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_succeeded_total", Help: "Jobs reconciled to SUCCEEDED"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_failed_total", Help: "Jobs reconciled to FAILED"})
	JobsDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_dead_lettered_total", Help: "Jobs failed via the DLQ topic"})

	// DuplicateResults counts absorbed duplicate deliveries by the layer
	// that caught them: succeeded, failed, result_exists.
	DuplicateResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "analysis_duplicate_results_total", Help: "Duplicate result events absorbed"},
		[]string{"status"},
	)

	MalformedEvents = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_malformed_events_total", Help: "Events rejected to the DLQ as unparseable"})
	RedriveRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "redrive_rate_limited_total", Help: "Redrive calls rejected by the actor rate limit"})
	ConsumerRetries = prometheus.NewCounter(prometheus.CounterOpts{Name: "consumer_retries_total", Help: "Message deliveries retried after handler errors"})
	ResultLatency   = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "analysis_result_latency_seconds", Help: "Worker-reported analysis latency", Buckets: prometheus.DefBuckets})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsRequested,
			JobsRedriven,
			JobsSucceeded,
			JobsFailed,
			JobsDeadLettered,
			DuplicateResults,
			MalformedEvents,
			RedriveRejected,
			ConsumerRetries,
			ResultLatency,
		)
	})
	return promhttp.Handler()
}
