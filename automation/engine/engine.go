// Package engine walks user-authored automation flow graphs in response to
// inbound platform events: it matches the event to an automation, evaluates
// condition nodes, and dispatches action nodes through the platform client,
// under plan quota enforcement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation"
	"github.com/atharva20-coder/swoopin-engine/automation/quotastore"
	"github.com/atharva20-coder/swoopin-engine/jobqueue"
	"github.com/atharva20-coder/swoopin-engine/platform"
	"github.com/atharva20-coder/swoopin-engine/store"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Engine struct {
	Logger    *slog.Logger
	Store     *store.Store
	Quotas    quotastore.QuotaStore
	Messenger platform.Messenger
	AI        platform.AIResponder
	Queue     jobqueue.Store

	// page rows change rarely; a short-TTL cache keeps the hot path off
	// the database
	pageCache *expirable.LRU[string, *store.Page]
}

func New(logger *slog.Logger, st *store.Store, quotas quotastore.QuotaStore, messenger platform.Messenger, ai platform.AIResponder, queue jobqueue.Store) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Logger:    logger.With("system", "engine"),
		Store:     st,
		Quotas:    quotas,
		Messenger: messenger,
		AI:        ai,
		Queue:     queue,
		pageCache: expirable.NewLRU[string, *store.Page](10_000, nil, 2*time.Minute),
	}
}

// ProcessJob handles one queue job end to end: either a fresh inbound
// event (match + walk from the trigger) or a DELAY continuation (walk from
// the recorded resume node). The returned error's classification drives
// requeue-vs-fail in the dispatcher.
func (eng *Engine) ProcessJob(ctx context.Context, job *jobqueue.Job) (err error) {
	// like an HTTP server, recover panics from graph execution so one bad
	// automation can not take down the worker
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("automation execution panic", "err", r, "job", job.ID, "user", job.UserID)
			err = fmt.Errorf("automation execution panic: %v", r)
		}
	}()

	ev, err := automation.ParseEvent(job.RawEvent)
	if err != nil {
		// a job whose payload does not parse will never parse; terminal
		return fmt.Errorf("unprocessable job payload: %w", err)
	}

	wctx, err := eng.buildContext(ctx, job, ev)
	if err != nil {
		return err
	}
	if wctx == nil {
		// page no longer connected; normal terminal outcome
		return nil
	}

	if job.ResumeNodeID != "" {
		err = eng.resumeWalk(ctx, wctx)
	} else {
		err = eng.startWalk(ctx, wctx)
	}

	eng.persistEffects(ctx, wctx)
	return err
}

func (eng *Engine) buildContext(ctx context.Context, job *jobqueue.Job, ev *automation.Event) (*walkContext, error) {
	page, err := eng.resolvePage(ctx, ev.PageID)
	if errors.Is(err, store.ErrNotFound) {
		eng.Logger.Info("event for unconnected page, dropping", "page", ev.PageID)
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	user, err := eng.Store.GetUser(ctx, page.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving page owner: %w", err)
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	contact, err := eng.Store.UpsertContact(ctx, user.ID, ev.PageID, ev.SenderID, ts)
	if err != nil {
		// conditions needing contact state fail closed; the walk itself
		// can proceed
		eng.Logger.Error("upserting contact", "err", err, "page", ev.PageID, "sender", ev.SenderID)
		contact = nil
	}

	return &walkContext{
		Log:     eng.Logger.With("job", job.ID, "user", user.ID, "page", ev.PageID),
		Job:     job,
		Event:   ev,
		User:    user,
		Page:    page,
		Contact: contact,
		Limits:  quotastore.Limits(user.Plan),
		Effects: &Effects{},
	}, nil
}

func (eng *Engine) resolvePage(ctx context.Context, pageID string) (*store.Page, error) {
	if p, ok := eng.pageCache.Get(pageID); ok {
		return p, nil
	}
	p, err := eng.Store.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	eng.pageCache.Add(pageID, p)
	return p, nil
}

func (eng *Engine) startWalk(ctx context.Context, wctx *walkContext) error {
	autos, err := eng.Store.ActiveAutomations(ctx, wctx.User.ID)
	if err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}

	winner, skipped := MatchAutomation(autos, wctx.Event)
	for _, id := range skipped {
		wctx.Log.Info("trigger matched but lost tie-break, skipping", "automation", id)
		automationsSkipped.Inc()
	}
	if winner == nil {
		eventsUnmatched.Inc()
		return nil
	}
	wctx.Automation = winner
	wctx.Log = wctx.Log.With("automation", winner.Record.ID)
	eventsMatched.Inc()

	trig := winner.Graph.TriggerNode()
	return eng.walkChildren(ctx, wctx, trig.ID)
}

// resumeWalk continues a suspended walk from the node a DELAY continuation
// recorded. Activation is re-checked here, not at enqueue time: an
// automation deactivated while suspended aborts cleanly.
func (eng *Engine) resumeWalk(ctx context.Context, wctx *walkContext) error {
	auto, err := eng.Store.GetAutomation(ctx, wctx.User.ID, wctx.Job.AutomationID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrOwnership) {
		wctx.Log.Info("automation gone before resume, dropping continuation", "automation", wctx.Job.AutomationID)
		return nil
	} else if err != nil {
		return err
	}
	if !auto.Record.Active {
		wctx.Log.Info("automation deactivated before resume, dropping continuation", "automation", auto.Record.ID)
		return nil
	}
	wctx.Automation = auto
	wctx.Log = wctx.Log.With("automation", auto.Record.ID, "resume", wctx.Job.ResumeNodeID)

	node := auto.Graph.Node(wctx.Job.ResumeNodeID)
	if node == nil {
		// graph edited while suspended; nothing sane to resume
		wctx.Log.Warn("resume node no longer in graph, dropping continuation")
		return nil
	}
	return eng.walkNode(ctx, wctx, node)
}

func (eng *Engine) walkChildren(ctx context.Context, wctx *walkContext, nodeID string) error {
	var firstErr error
	for _, childID := range wctx.Automation.Graph.Children(nodeID) {
		child := wctx.Automation.Graph.Node(childID)
		if child == nil {
			continue
		}
		if err := eng.walkNode(ctx, wctx, child); err != nil {
			// sibling branches still run; the first hard failure wins the
			// job outcome
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (eng *Engine) walkNode(ctx context.Context, wctx *walkContext, node *automation.Node) error {
	switch node.Category {
	case automation.CategoryCondition:
		return eng.walkCondition(ctx, wctx, node)
	case automation.CategoryAction:
		return eng.walkAction(ctx, wctx, node)
	default:
		return fmt.Errorf("%w: walk reached node %s of category %s", automation.ErrInvalidGraph, node.ID, node.Category)
	}
}

func (eng *Engine) walkCondition(ctx context.Context, wctx *walkContext, node *automation.Node) error {
	in := ConditionInput{
		Text:      matchText(wctx.Event),
		MediaTags: wctx.Event.MediaTags,
	}
	if wctx.Contact != nil {
		in.IsFollower = wctx.Contact.IsFollower
		in.FollowerKnown = wctx.Contact.FollowerKnown
	}
	if trig := wctx.Automation.Graph.TriggerNode(); trig != nil {
		in.WholeWord = trig.TriggerFilters.WholeWord
	}

	res := EvaluateCondition(node, in)
	switch res.Outcome {
	case ConditionPass:
		return eng.walkChildren(ctx, wctx, node.ID)

	case ConditionFail:
		// the failed branch halts, but NO gates hanging off this node are
		// the inverted path and continue
		conditionsFailed.WithLabelValues(string(node.Condition)).Inc()
		var firstErr error
		for _, childID := range wctx.Automation.Graph.Children(node.ID) {
			child := wctx.Automation.Graph.Node(childID)
			if child == nil || child.Category != automation.CategoryCondition || child.Condition != automation.ConditionNo {
				continue
			}
			if err := eng.walkChildren(ctx, wctx, child.ID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr

	case ConditionSuspend:
		return eng.suspend(ctx, wctx, node, res.Duration)
	}
	return nil
}

// suspend stops the walk at a DELAY node and enqueues one continuation job
// per child, eligible after the delay. The remainder of the walk is durable
// queue state from here on, not worker memory.
func (eng *Engine) suspend(ctx context.Context, wctx *walkContext, node *automation.Node, d time.Duration) error {
	eligible := time.Now().Add(d)
	for _, childID := range wctx.Automation.Graph.Children(node.ID) {
		cont := &jobqueue.Job{
			ID:              uuid.NewString(),
			DedupKey:        wctx.Job.DedupKey + "/resume/" + childID,
			UserID:          wctx.User.ID,
			ConversationKey: wctx.Event.ConversationKey(),
			RawEvent:        wctx.Job.RawEvent,
			AutomationID:    wctx.Automation.Record.ID,
			ResumeNodeID:    childID,
			EligibleAt:      eligible,
		}
		err := eng.Queue.Enqueue(ctx, cont)
		if errors.Is(err, jobqueue.ErrDuplicateJob) {
			// a retried job attempt re-reaching the DELAY; continuation is
			// already queued, which is exactly what we want
			continue
		} else if err != nil {
			return fmt.Errorf("enqueueing delay continuation: %w", err)
		}
		walksSuspended.Inc()
		wctx.Log.Info("walk suspended", "node", node.ID, "resume", childID, "delay", d)
	}
	return nil
}

func (eng *Engine) walkAction(ctx context.Context, wctx *walkContext, node *automation.Node) error {
	err := eng.executeAction(ctx, wctx, node)
	switch {
	case err == nil:
		return eng.walkChildren(ctx, wctx, node.ID)

	case errors.Is(err, ErrQuotaExceeded):
		// skip, notify, halt this branch; not a job failure
		wctx.Log.Info("action skipped, quota exhausted", "node", node.ID, "usage_key", node.UsageKey)
		wctx.Effects.Notify("quota_exceeded",
			fmt.Sprintf("Your plan's %s limit is used up; an automated reply was skipped.", node.UsageKey))
		return nil

	case errors.Is(err, ErrTierGated):
		wctx.Log.Info("action skipped, tier gated", "node", node.ID, "tier", node.Tier)
		wctx.Effects.Notify("upgrade_required",
			fmt.Sprintf("The %s step needs the %s plan.", node.Action, node.Tier))
		return nil

	case platform.IsPermanent(err):
		wctx.Log.Error("permanent action failure", "node", node.ID, "err", err)
		wctx.Effects.Notify("action_failed",
			fmt.Sprintf("An automated %s could not be delivered: %v", node.Action, err))
		return err

	default:
		// retryable (or unclassified) failures propagate so the dispatcher
		// can requeue the job with backoff
		return err
	}
}

// persistEffects writes out the deferred walk effects. Best-effort by
// contract: a notification or analytics write failure never undoes a sent
// message, it only gets logged.
func (eng *Engine) persistEffects(ctx context.Context, wctx *walkContext) {
	if wctx.Automation == nil {
		return
	}
	autoID := wctx.Automation.Record.ID

	for _, n := range wctx.Effects.Notices {
		if err := eng.Store.CreateNotification(ctx, wctx.User.ID, n.Kind, n.Message); err != nil {
			wctx.Log.Error("writing notification", "err", err, "kind", n.Kind)
		}
	}
	for _, a := range wctx.Effects.Analytics {
		if err := eng.Store.RecordAnalytics(ctx, wctx.User.ID, autoID, a.Kind, a.Meta); err != nil {
			wctx.Log.Error("writing analytics event", "err", err, "kind", a.Kind)
		}
	}
}
