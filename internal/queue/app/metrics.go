package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_worker_jobs_claimed_total",
			Help: "Total number of jobs claimed, partitioned by job type.",
		},
		[]string{"job_type"},
	)
	jobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_worker_jobs_completed_total",
			Help: "Total number of jobs completed successfully, partitioned by job type.",
		},
		[]string{"job_type"},
	)
	jobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_worker_jobs_failed_total",
			Help: "Total number of job failures, partitioned by job type and outcome (retry, dead).",
		},
		[]string{"job_type", "outcome"},
	)
	jobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailroom_worker_job_duration_seconds",
			Help:    "Duration of job handler execution in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)
	leasesReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailroom_worker_leases_reclaimed_total",
			Help: "Total number of expired job leases returned to the queue.",
		},
	)
)
