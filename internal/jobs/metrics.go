package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes recorded in the status label of odyssey_jobs_total.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	// StatusDropped marks tasks rejected with asynq.SkipRetry; they never retry
	// and are not counted as failures.
	StatusDropped = "dropped"
)

// Metrics exposes Prometheus collectors for the audit worker.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	records  *prometheus.CounterVec
	pruned   prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against registerer, or once against
// the default Prometheus registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker instruments a single task run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts a tracker for job. A nil Metrics yields a no-op tracker.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and duration and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := Status(err)
	if status == StatusFailure {
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Status classifies a task handler result.
func Status(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, asynq.SkipRetry):
		return StatusDropped
	default:
		return StatusFailure
	}
}

// AddRecords counts audit records persisted for the given event name.
func (m *Metrics) AddRecords(event string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.records.WithLabelValues(event).Add(float64(count))
}

// AddPruned counts audit records removed by the retention job.
func (m *Metrics) AddPruned(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.pruned.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Audit worker task runs partitioned by job and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Audit worker task runs that failed and will be retried.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of audit worker task runs.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 30, 120},
	}, []string{"job"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_audit_records_total",
		Help: "Audit records written by the worker, by event name.",
	}, []string{"event"})
	pruned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_audit_pruned_total",
		Help: "Audit records removed by the retention job.",
	})
	registerer.MustRegister(runs, failures, duration, records, pruned)
	return &Metrics{runs: runs, failures: failures, duration: duration, records: records, pruned: pruned}
}
