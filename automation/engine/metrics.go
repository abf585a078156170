package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsMatched = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_engine_events_matched_total",
	Help: "Events that matched an active automation",
})

var eventsUnmatched = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_engine_events_unmatched_total",
	Help: "Events processed with no matching automation (normal outcome)",
})

var automationsSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_engine_automations_skipped_total",
	Help: "Automations whose trigger matched but lost the most-recently-edited tie-break",
})

var conditionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "swoopin_engine_conditions_failed_total",
	Help: "Condition node evaluations that halted a branch",
}, []string{"kind"})

var actionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "swoopin_engine_actions_dispatched_total",
	Help: "Action node dispatch outcomes",
}, []string{"kind", "status"})

var quotaDenied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "swoopin_engine_quota_denied_total",
	Help: "Quota guard denials by usage key",
}, []string{"usage_key"})

var walksSuspended = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_engine_walks_suspended_total",
	Help: "Graph walks suspended at a DELAY node and continued via the queue",
})
