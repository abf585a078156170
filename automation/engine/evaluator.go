package engine

import (
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation"
	"github.com/atharva20-coder/swoopin-engine/automation/keyword"
)

type ConditionOutcome int

const (
	ConditionPass ConditionOutcome = iota
	ConditionFail
	ConditionSuspend
)

type ConditionResult struct {
	Outcome ConditionOutcome
	// set for ConditionSuspend: how long the walk pauses
	Duration time.Duration
}

// ConditionInput is the slice of state a condition node is allowed to see.
// Keeping it a plain value keeps evaluation pure and trivially testable.
type ConditionInput struct {
	Text      string
	MediaTags []string
	// contact follower state, with a flag for whether we actually know it
	// (platform permission may not be granted)
	IsFollower    bool
	FollowerKnown bool
	// whole-word keyword matching, configured per automation trigger
	WholeWord bool
}

// EvaluateCondition evaluates one condition node against the input. Pure:
// no I/O, no clock reads. Conditions whose required data is unavailable
// fail closed, never assume true.
func EvaluateCondition(node *automation.Node, in ConditionInput) ConditionResult {
	switch node.Condition {
	case automation.ConditionKeywords:
		if keyword.MatchesAny(in.Text, node.ConditionParams.Keywords, in.WholeWord) {
			return ConditionResult{Outcome: ConditionPass}
		}
		return ConditionResult{Outcome: ConditionFail}

	case automation.ConditionDelay:
		return ConditionResult{
			Outcome:  ConditionSuspend,
			Duration: time.Duration(node.ConditionParams.DelaySeconds) * time.Second,
		}

	case automation.ConditionIsFollower:
		if in.FollowerKnown && in.IsFollower {
			return ConditionResult{Outcome: ConditionPass}
		}
		return ConditionResult{Outcome: ConditionFail}

	case automation.ConditionHasTag:
		for _, tag := range in.MediaTags {
			if tag == node.ConditionParams.Tag {
				return ConditionResult{Outcome: ConditionPass}
			}
		}
		return ConditionResult{Outcome: ConditionFail}

	case automation.ConditionYes:
		return ConditionResult{Outcome: ConditionPass}

	case automation.ConditionNo:
		// NO gates pass only on the inverted path; see walkCondition
		return ConditionResult{Outcome: ConditionFail}

	default:
		// unknown kinds are rejected at graph load; reaching here is a bug,
		// and failing closed beats firing actions we can not reason about
		return ConditionResult{Outcome: ConditionFail}
	}
}
