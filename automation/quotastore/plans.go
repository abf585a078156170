package quotastore

import "github.com/atharva20-coder/swoopin-engine/automation"

// Usage keys consumed by action nodes and the scheduler.
const (
	UsageDMs            = "dms"
	UsageCommentReplies = "comment_replies"
	UsageAIReplies      = "ai_replies"
	UsagePublishes      = "publishes"
)

// Limit is one row of the static plan table: how many uses of a key a plan
// allows per period. A negative limit means unlimited.
type Limit struct {
	Period string
	Limit  int
}

// PlanLimits holds every usage limit for one plan tier. Fetched once per
// job and carried for the job's lifetime, so a mid-walk plan change can not
// produce inconsistent decisions.
type PlanLimits map[string]Limit

var planTable = map[automation.PlanTier]PlanLimits{
	automation.TierFree: {
		UsageDMs:            {Period: PeriodDay, Limit: 50},
		UsageCommentReplies: {Period: PeriodDay, Limit: 100},
		UsageAIReplies:      {Period: PeriodDay, Limit: 0},
		UsagePublishes:      {Period: PeriodMonth, Limit: 10},
	},
	automation.TierPro: {
		UsageDMs:            {Period: PeriodDay, Limit: 1000},
		UsageCommentReplies: {Period: PeriodDay, Limit: 2000},
		UsageAIReplies:      {Period: PeriodDay, Limit: 200},
		UsagePublishes:      {Period: PeriodMonth, Limit: 100},
	},
	automation.TierEnterprise: {
		UsageDMs:            {Period: PeriodDay, Limit: -1},
		UsageCommentReplies: {Period: PeriodDay, Limit: -1},
		UsageAIReplies:      {Period: PeriodDay, Limit: 2000},
		UsagePublishes:      {Period: PeriodMonth, Limit: -1},
	},
}

// Limits returns the limit table for a plan. Unknown plans get free-tier
// limits (fail closed on billing data we can not interpret).
func Limits(plan automation.PlanTier) PlanLimits {
	if l, ok := planTable[plan]; ok {
		return l
	}
	return planTable[automation.TierFree]
}

// Limit returns the limit row for one usage key. Unknown keys are
// unlimited: an action with a usage key we have no plan row for should not
// be silently blocked.
func (pl PlanLimits) Limit(usageKey string) Limit {
	if l, ok := pl[usageKey]; ok {
		return l
	}
	return Limit{Period: PeriodDay, Limit: -1}
}
