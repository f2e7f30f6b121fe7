// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed counts worker jobs by type and outcome.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onair_jobs_processed_total",
		Help: "Total number of worker jobs processed by type and outcome",
	}, []string{"job_type", "outcome"})

	// JobWaitDuration tracks how long jobs sat in the queue before execution.
	JobWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "onair_job_wait_duration_seconds",
		Help:    "Time jobs spent queued before the worker picked them up",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
	}, []string{"job_type"})

	// JobExecDuration tracks job handler execution time.
	JobExecDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "onair_job_execution_duration_seconds",
		Help:    "Worker job handler execution time",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"job_type"})

	// JobQueueDepth tracks the number of jobs waiting for the worker.
	JobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onair_job_queue_depth",
		Help: "Number of jobs currently waiting in the worker queue",
	})
)

// ObserveJob records the outcome and timings of one processed job.
func ObserveJob(jobType, outcome string, wait, exec time.Duration) {
	JobsProcessed.WithLabelValues(jobType, outcome).Inc()
	JobWaitDuration.WithLabelValues(jobType).Observe(wait.Seconds())
	JobExecDuration.WithLabelValues(jobType).Observe(exec.Seconds())
}
