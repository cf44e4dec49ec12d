package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "conveyor_jobs_enqueued_total",
	Help: "Number of sync jobs enqueued",
})

var jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "conveyor_jobs_finished_total",
	Help: "Number of sync jobs finished, by terminal status",
}, []string{"status"})

var claimRaces = promauto.NewCounter(prometheus.CounterOpts{
	Name: "conveyor_jobs_claim_races_total",
	Help: "Number of job claims lost to another runner",
})

var submissionsRejected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "conveyor_jobs_submissions_rejected_total",
	Help: "Number of job submissions rejected because the worker pool was saturated",
})
