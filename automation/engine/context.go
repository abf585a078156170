package engine

import (
	"log/slog"

	"github.com/atharva20-coder/swoopin-engine/automation"
	"github.com/atharva20-coder/swoopin-engine/automation/quotastore"
	"github.com/atharva20-coder/swoopin-engine/jobqueue"
	"github.com/atharva20-coder/swoopin-engine/store"
)

// walkContext carries everything one graph walk needs: the event, the
// resolved tenant, the contact, and the plan limits fetched once for the
// job's lifetime.
type walkContext struct {
	Log   *slog.Logger
	Job   *jobqueue.Job
	Event *automation.Event
	User  *store.User
	Page  *store.Page
	// nil when contact state could not be loaded; conditions that need it
	// fail closed
	Contact *store.Contact
	// plan limits snapshot; not re-fetched per node
	Limits quotastore.PlanLimits

	Automation *store.LoadedAutomation
	Effects    *Effects
}

// matchText returns the event text the keyword machinery should look at:
// button clicks carry their payload, everything else carries message or
// comment text.
func matchText(ev *automation.Event) string {
	if ev.Kind == automation.TriggerPostback {
		return ev.Payload
	}
	return ev.Text
}
