package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_dispatch_jobs_enqueued_total",
		Help: "Generation jobs accepted by the dispatcher queue.",
	}, []string{"provider"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_dispatch_jobs_completed_total",
		Help: "Generation jobs driven to a terminal state, by outcome.",
	}, []string{"provider", "outcome"})
)
