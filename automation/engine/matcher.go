package engine

import (
	"slices"

	"github.com/atharva20-coder/swoopin-engine/automation"
	"github.com/atharva20-coder/swoopin-engine/automation/keyword"
	"github.com/atharva20-coder/swoopin-engine/store"
)

// MatchAutomation picks the automation a new event should run, from the
// user's active automations sorted most-recently-edited first. When more
// than one trigger matches, the most recently edited automation wins and
// the rest are returned as skipped; running them all would double-fire
// replies nondeterministically.
func MatchAutomation(autos []store.LoadedAutomation, ev *automation.Event) (winner *store.LoadedAutomation, skipped []string) {
	for i := range autos {
		a := &autos[i]
		trig := a.Graph.TriggerNode()
		if trig == nil || !triggerMatches(trig, ev) {
			continue
		}
		if winner == nil {
			winner = a
		} else {
			skipped = append(skipped, a.Record.ID)
		}
	}
	return winner, skipped
}

func triggerMatches(trig *automation.Node, ev *automation.Event) bool {
	if trig.Trigger != ev.Kind {
		return false
	}

	f := trig.TriggerFilters
	if len(f.PostIDs) > 0 && !slices.Contains(f.PostIDs, ev.MediaID) {
		return false
	}
	if len(f.Keywords) > 0 && !keyword.MatchesAny(matchText(ev), f.Keywords, f.WholeWord) {
		return false
	}
	return true
}
