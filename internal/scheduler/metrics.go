package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobRunsTotal counts job executions by job and outcome.
	jobRunsTotal *prometheus.CounterVec

	// jobDuration observes job run durations.
	jobDuration *prometheus.HistogramVec

	// metricsOnce ensures metrics are only registered once.
	metricsOnce sync.Once

	// metricsRegistered indicates if metrics have been registered.
	metricsRegistered bool
)

// InitMetrics initializes the Prometheus metrics for the scheduler.
// This should be called once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credops_scheduler_job_runs_total",
			Help: "Total scheduled job executions by job and outcome",
		}, []string{"job", "outcome"})
		jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credops_scheduler_job_duration_seconds",
			Help:    "Duration of scheduled job executions",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"})
		metricsRegistered = true
	})
}

// recordJobRun records one job execution.
// Safe to call when metrics are not initialized.
func recordJobRun(job string, success bool, seconds float64) {
	if !metricsRegistered {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	if jobRunsTotal != nil {
		jobRunsTotal.WithLabelValues(job, outcome).Inc()
	}
	if jobDuration != nil {
		jobDuration.WithLabelValues(job).Observe(seconds)
	}
}
