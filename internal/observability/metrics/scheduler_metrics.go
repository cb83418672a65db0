package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics captures background job health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
}

var (
	schedulerOnce    sync.Once
	schedulerMetrics *SchedulerMetrics
)

// Scheduler returns the process-wide scheduler metrics, registering them on
// first use.
func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return schedulerMetrics
}

func newSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commerce_scheduler_job_runs_total",
			Help: "Count of scheduler job invocations.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "commerce_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall-clock duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commerce_scheduler_job_timeouts_total",
			Help: "Count of scheduler jobs ended by deadline.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commerce_scheduler_job_errors_total",
			Help: "Count of scheduler job errors.",
		}, []string{"job"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commerce_scheduler_batch_processed_total",
			Help: "Entities processed per scheduler job.",
		}, []string{"job"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors, m.batchProcessed)
	}
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(n))
}
