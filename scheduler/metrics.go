package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_scheduler_sweeps_total",
	Help: "Number of scheduled post sweeps run.",
})

var postsPublished = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_scheduler_posts_published_total",
	Help: "Number of scheduled posts published successfully.",
})

var postsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_scheduler_posts_failed_total",
	Help: "Number of scheduled posts that failed to publish.",
})

var claimsLost = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_scheduler_claims_lost_total",
	Help: "Number of due posts already claimed by a concurrent sweep.",
})
