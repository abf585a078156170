package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/atharva20-coder/swoopin-engine/automation"
	"github.com/atharva20-coder/swoopin-engine/platform"
	"github.com/atharva20-coder/swoopin-engine/store"
)

var (
	ErrQuotaExceeded = errors.New("plan quota exhausted for usage key")
	ErrTierGated     = errors.New("action requires a higher plan tier")
)

var tierRank = map[automation.PlanTier]int{
	automation.TierFree:       0,
	automation.TierPro:        1,
	automation.TierEnterprise: 2,
}

func tierAllows(plan, required automation.PlanTier) bool {
	if required == "" {
		return true
	}
	return tierRank[plan] >= tierRank[required]
}

// executeAction dispatches exactly one outbound call for an action node.
// The quota guard runs first: a denied check means no external call and an
// unchanged counter. The idempotency token is derived from the job's dedup
// key plus the node ID, so a retried job attempt can not double-send and
// two actions in one walk do not collide.
func (eng *Engine) executeAction(ctx context.Context, wctx *walkContext, node *automation.Node) error {
	if !tierAllows(wctx.User.Plan, node.Tier) {
		return ErrTierGated
	}

	if node.UsageKey != "" {
		lim := wctx.Limits.Limit(node.UsageKey)
		allowed, err := eng.Quotas.CheckAndIncrement(ctx, wctx.User.ID, node.UsageKey, lim.Period, lim.Limit)
		if err != nil {
			return fmt.Errorf("quota check for %s: %w", node.UsageKey, err)
		}
		if !allowed {
			quotaDenied.WithLabelValues(node.UsageKey).Inc()
			return ErrQuotaExceeded
		}
	}

	idemKey := wctx.Job.DedupKey + "/" + node.ID
	token := wctx.Page.AccessToken
	ev := wctx.Event

	var listenerField store.ListenerField
	var err error
	switch node.Action {
	case automation.ActionSendDM:
		_, err = eng.Messenger.SendDM(ctx, token, ev.SenderID, node.ActionParams.Message, idemKey)
		listenerField = store.ListenerDMCount

	case automation.ActionReplyComment:
		_, err = eng.Messenger.ReplyComment(ctx, token, ev.CommentID, node.ActionParams.Message, idemKey)
		listenerField = store.ListenerCommentReply

	case automation.ActionSendCarousel:
		_, err = eng.Messenger.SendCarousel(ctx, token, ev.SenderID, node.ActionParams.Elements, idemKey)
		listenerField = store.ListenerDMCount

	case automation.ActionSmartAI:
		if eng.AI == nil {
			return &platform.PermanentError{Op: "smart_ai", Err: errors.New("no AI responder configured")}
		}
		var reply string
		reply, err = eng.AI.Reply(ctx, node.ActionParams.Prompt, ev.Text, node.ActionParams.Model)
		if err == nil {
			_, err = eng.Messenger.SendDM(ctx, token, ev.SenderID, reply, idemKey)
		}
		listenerField = store.ListenerDMCount

	case automation.ActionLogExternal:
		err = eng.Messenger.LogExternal(ctx, node.ActionParams.LogName, map[string]any{
			"event":      ev.DedupKey(),
			"automation": wctx.Automation.Record.ID,
			"node":       node.ID,
			"sender":     ev.SenderID,
		})

	default:
		// unreachable after load-time validation
		return fmt.Errorf("unknown action kind: %s", node.Action)
	}
	if err != nil {
		actionsDispatched.WithLabelValues(string(node.Action), "error").Inc()
		return err
	}
	actionsDispatched.WithLabelValues(string(node.Action), "ok").Inc()

	// the send succeeded; listener counters track confirmed dispatches and
	// are updated here, not deferred with the rest of the effects
	if listenerField != "" {
		if lerr := eng.Store.IncrementListener(ctx, wctx.Automation.Record.ID, listenerField); lerr != nil {
			wctx.Log.Error("incrementing listener counter", "err", lerr, "automation", wctx.Automation.Record.ID)
		}
	}
	wctx.Effects.RecordAnalytics("action_dispatched", string(node.Action))

	return nil
}
