package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idverify_claims_total",
			Help: "Total number of claim attempts by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	SettlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idverify_settles_total",
			Help: "Total number of settles by from-state and to-state",
		},
		[]string{"from", "to"},
	)

	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "idverify_records_total",
			Help: "Current number of records by state, across all tenants",
		},
		[]string{"state"},
	)

	WorkerPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "idverify_worker_pool_size",
			Help: "Current number of live workers across all tenants",
		},
	)

	WorkerPoolCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "idverify_worker_pool_capacity",
			Help: "Configured global worker budget (MAX_GLOBAL_WORKERS)",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "idverify_active_sessions",
			Help: "Current number of tenant sessions tracked by the session manager",
		},
	)

	SessionsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idverify_sessions_evicted_total",
			Help: "Total number of idle sessions evicted",
		},
	)

	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idverify_recoveries_total",
			Help: "Total number of records demoted by the recovery service, by what triggered the recovery",
		},
		[]string{"trigger"},
	)

	RetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idverify_retries_total",
			Help: "Total number of records re-queued to Pending by the retry service",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idverify_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idverify_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	IngestAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idverify_ingest_accepted_total",
			Help: "Total number of keys accepted by ingestion across all batches",
		},
	)

	IngestRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idverify_ingest_rejected_total",
			Help: "Total number of raw entries rejected by ingestion validation",
		},
	)

	StageProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idverify_stage_process_duration_seconds",
			Help:    "Time taken by a StageProcessor invocation (by stage name) or a recovery sweep (recovery_sweep) in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageBreakerOpenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idverify_stage_breaker_open_total",
			Help: "Total number of times a stage's circuit breaker tripped open",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(SettlesTotal)
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(WorkerPoolSize)
	prometheus.MustRegister(WorkerPoolCapacity)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(SessionsEvictedTotal)
	prometheus.MustRegister(RecoveriesTotal)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(IngestAcceptedTotal)
	prometheus.MustRegister(IngestRejectedTotal)
	prometheus.MustRegister(StageProcessDuration)
	prometheus.MustRegister(StageBreakerOpenTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
