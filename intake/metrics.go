package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveriesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "swoopin_intake_deliveries_received_total",
	Help: "Number of webhook deliveries received, per platform.",
}, []string{"platform"})

var invalidSignatures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_intake_invalid_signatures_total",
	Help: "Number of webhook deliveries rejected for a bad signature.",
})

var eventsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "swoopin_intake_events_enqueued_total",
	Help: "Number of fresh events enqueued, per trigger kind.",
}, []string{"kind"})

var eventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_intake_events_duplicate_total",
	Help: "Number of redelivered events skipped by dedup.",
})

var eventsUnknownPage = promauto.NewCounter(prometheus.CounterOpts{
	Name: "swoopin_intake_events_unknown_page_total",
	Help: "Number of events dropped because the page is not connected.",
})
