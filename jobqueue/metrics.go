package jobqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsAdded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_jobqueue_jobs_added_total",
	Help: "Total number of jobs handed to the worker pool",
})

var jobsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_jobqueue_jobs_processed_total",
	Help: "Total number of jobs a worker finished handling",
})

var jobsActive = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_jobqueue_jobs_active_total",
	Help: "Total number of jobs passed into a worker",
})

var jobsRetried = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_jobqueue_jobs_retried_total",
	Help: "Total number of jobs requeued after a transient failure",
})

var jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_jobqueue_jobs_failed_total",
	Help: "Total number of jobs that failed terminally",
})

var jobsRecovered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_jobqueue_jobs_recovered_total",
	Help: "Total number of stale in-flight jobs re-armed for processing",
})

var workersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "swoopin_jobqueue_workers_active",
	Help: "Number of dispatcher workers currently running",
})
