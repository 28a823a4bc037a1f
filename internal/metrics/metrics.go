// Package metrics exposes the supervisor's Prometheus instrumentation:
// job counts by state, restart/throttle counters, reap latency and IPC
// request volume.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overseerd_jobs_by_state",
			Help: "Number of loaded jobs currently in each lifecycle state",
		},
		[]string{"state"},
	)

	JobsLoadedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "overseerd_jobs_loaded_total",
			Help: "Total number of jobs currently loaded",
		},
	)

	FailedExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseerd_failed_exits_total",
			Help: "Total number of bad exits counted toward a job's throttle streak",
		},
		[]string{"label"},
	)

	ThrottledJobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overseerd_throttled_jobs",
			Help: "Whether a job is currently throttled (1) or not (0)",
		},
		[]string{"label"},
	)

	JobsRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseerd_jobs_removed_total",
			Help: "Total number of jobs removed, by reason",
		},
		[]string{"reason"},
	)

	ReapLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "overseerd_reap_latency_seconds",
			Help:    "Time from process-exit event to completed reap handling",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overseerd_job_run_duration_seconds",
			Help:    "How long a job's child ran before exiting",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"label"},
	)

	IPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseerd_ipc_requests_total",
			Help: "Total number of IPC requests handled, by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	IPCConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "overseerd_ipc_connections_active",
			Help: "Number of currently open control-socket connections",
		},
	)

	ActivationFiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseerd_activation_fires_total",
			Help: "Total number of activation source fires, by source kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(JobsByState)
	prometheus.MustRegister(JobsLoadedTotal)
	prometheus.MustRegister(FailedExitsTotal)
	prometheus.MustRegister(ThrottledJobsTotal)
	prometheus.MustRegister(JobsRemovedTotal)
	prometheus.MustRegister(ReapLatency)
	prometheus.MustRegister(JobRunDuration)
	prometheus.MustRegister(IPCRequestsTotal)
	prometheus.MustRegister(IPCConnectionsActive)
	prometheus.MustRegister(ActivationFiresTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's wall-clock duration against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time against histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time against a vector histogram
// with the given label values.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
