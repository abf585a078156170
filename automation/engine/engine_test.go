package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation"
	"github.com/atharva20-coder/swoopin-engine/automation/quotastore"
	"github.com/atharva20-coder/swoopin-engine/jobqueue"
	"github.com/atharva20-coder/swoopin-engine/platform"
	"github.com/atharva20-coder/swoopin-engine/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type sentMessage struct {
	Kind      string
	Recipient string
	Text      string
	IdemKey   string
}

type fakeMessenger struct {
	lk   sync.Mutex
	sent []sentMessage
	// when set, every call fails with this error
	fail error
}

func (f *fakeMessenger) record(m sentMessage) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.sent = append(f.sent, m)
}

func (f *fakeMessenger) calls() []sentMessage {
	f.lk.Lock()
	defer f.lk.Unlock()
	return append([]sentMessage{}, f.sent...)
}

func (f *fakeMessenger) SendDM(ctx context.Context, token, recipientID, text, idemKey string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.record(sentMessage{Kind: "dm", Recipient: recipientID, Text: text, IdemKey: idemKey})
	return "mid.1", nil
}

func (f *fakeMessenger) ReplyComment(ctx context.Context, token, commentID, text, idemKey string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.record(sentMessage{Kind: "comment_reply", Recipient: commentID, Text: text, IdemKey: idemKey})
	return "c.1", nil
}

func (f *fakeMessenger) SendCarousel(ctx context.Context, token, recipientID string, elements []automation.CarouselElement, idemKey string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.record(sentMessage{Kind: "carousel", Recipient: recipientID, IdemKey: idemKey})
	return "mid.c", nil
}

func (f *fakeMessenger) PublishPost(ctx context.Context, token, pageID, caption, mediaURL string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.record(sentMessage{Kind: "publish", Recipient: pageID, Text: caption})
	return "post.1", nil
}

func (f *fakeMessenger) LogExternal(ctx context.Context, name string, payload any) error {
	if f.fail != nil {
		return f.fail
	}
	f.record(sentMessage{Kind: "log", Recipient: name})
	return nil
}

type fakeAI struct{}

func (fakeAI) Reply(ctx context.Context, prompt, userText, model string) (string, error) {
	return "ai: " + userText, nil
}

type fixture struct {
	engine    *Engine
	store     *store.Store
	messenger *fakeMessenger
	queue     *jobqueue.Memstore
	quotas    *quotastore.MemQuotaStore
}

func newFixture(t *testing.T, plan automation.PlanTier) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	st := store.NewStore(db, nil)
	require.NoError(t, db.Create(&store.User{ID: "u1", Plan: plan}).Error)
	require.NoError(t, db.Create(&store.Page{PageID: "page1", UserID: "u1", Platform: "instagram", AccessToken: "tok"}).Error)

	f := &fixture{
		store:     st,
		messenger: &fakeMessenger{},
		queue:     jobqueue.NewMemstore(),
		quotas:    quotastore.NewMemQuotaStore(),
	}
	f.engine = New(nil, st, f.quotas, f.messenger, fakeAI{}, f.queue)
	return f
}

func (f *fixture) addAutomation(t *testing.T, id string, g *automation.Graph, active bool, updatedAt time.Time) {
	t.Helper()
	raw, err := json.Marshal(g)
	require.NoError(t, err)
	rec := store.AutomationRecord{ID: id, UserID: "u1", Active: active, Graph: raw, UpdatedAt: updatedAt}
	require.NoError(t, f.store.DB().Create(&rec).Error)
}

func commentEvent(text string) *automation.Event {
	return &automation.Event{
		EventID:   uuid.NewString(),
		Kind:      automation.TriggerComment,
		PageID:    "page1",
		SenderID:  "ext1",
		Text:      text,
		MediaID:   "media1",
		CommentID: "comment1",
		Timestamp: time.Now(),
	}
}

func jobFor(ev *automation.Event) *jobqueue.Job {
	raw, _ := ev.Marshal()
	return &jobqueue.Job{
		ID:              uuid.NewString(),
		DedupKey:        ev.DedupKey(),
		UserID:          "u1",
		ConversationKey: ev.ConversationKey(),
		RawEvent:        raw,
	}
}

func keywordDMGraph(keywords ...string) *automation.Graph {
	return &automation.Graph{
		Nodes: []automation.Node{
			{ID: "t", Category: automation.CategoryTrigger, Trigger: automation.TriggerComment,
				TriggerFilters: automation.TriggerFilters{PostIDs: []string{"media1"}}},
			{ID: "c", Category: automation.CategoryCondition, Condition: automation.ConditionKeywords,
				ConditionParams: automation.ConditionParams{Keywords: keywords}},
			{ID: "a", Category: automation.CategoryAction, Action: automation.ActionSendDM,
				ActionParams: automation.ActionParams{Message: "check your DMs"}, UsageKey: quotastore.UsageDMs},
		},
		Edges: []automation.Edge{{From: "t", To: "c"}, {From: "c", To: "a"}},
	}
}

// Scenario: comment "price?" on a tracked post, keyword automation with
// remaining quota. Exactly one DM, dmCount incremented once.
func TestKeywordCommentSendsOneDM(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)
	f.addAutomation(t, "auto1", keywordDMGraph("price"), true, time.Now())

	ev := commentEvent("price?")
	require.NoError(t, f.engine.ProcessJob(ctx, jobFor(ev)))

	calls := f.messenger.calls()
	require.Len(t, calls, 1)
	assert.Equal("dm", calls[0].Kind)
	assert.Equal("ext1", calls[0].Recipient)
	assert.Equal(ev.DedupKey()+"/a", calls[0].IdemKey)

	l, err := f.store.GetListener(ctx, "auto1")
	assert.NoError(err)
	assert.Equal(int64(1), l.DMCount)

	u, err := f.quotas.GetUsage(ctx, "u1", quotastore.UsageDMs, quotastore.PeriodDay)
	assert.NoError(err)
	assert.Equal(1, u)
}

func TestNoMatchIsNormal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)
	f.addAutomation(t, "auto1", keywordDMGraph("price"), true, time.Now())

	// keyword filter not satisfied at the condition: no effects, no error
	assert.NoError(f.engine.ProcessJob(ctx, jobFor(commentEvent("nice photo"))))
	assert.Empty(f.messenger.calls())

	// wrong media: trigger filter rejects
	ev := commentEvent("price?")
	ev.MediaID = "other-media"
	assert.NoError(f.engine.ProcessJob(ctx, jobFor(ev)))
	assert.Empty(f.messenger.calls())

	// no automations active at all
	require.NoError(t, f.store.DB().Model(&store.AutomationRecord{}).Where("id = ?", "auto1").Update("active", false).Error)
	assert.NoError(f.engine.ProcessJob(ctx, jobFor(commentEvent("price?"))))
	assert.Empty(f.messenger.calls())
}

// Scenario: user already at the dms limit. No external call, counter
// unchanged, user notified.
func TestQuotaExceededSkipsAction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierFree)
	f.addAutomation(t, "auto1", keywordDMGraph("price"), true, time.Now())

	free := quotastore.Limits(automation.TierFree).Limit(quotastore.UsageDMs)
	for i := 0; i < free.Limit; i++ {
		ok, err := f.quotas.CheckAndIncrement(ctx, "u1", quotastore.UsageDMs, free.Period, free.Limit)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// not a job failure
	assert.NoError(f.engine.ProcessJob(ctx, jobFor(commentEvent("price?"))))
	assert.Empty(f.messenger.calls())

	u, err := f.quotas.GetUsage(ctx, "u1", quotastore.UsageDMs, free.Period)
	assert.NoError(err)
	assert.Equal(free.Limit, u)

	var notices []store.Notification
	require.NoError(t, f.store.DB().Find(&notices).Error)
	require.Len(t, notices, 1)
	assert.Equal("quota_exceeded", notices[0].Kind)

	// listener untouched: no confirmed dispatch happened
	_, err = f.store.GetListener(ctx, "auto1")
	assert.ErrorIs(err, store.ErrNotFound)
}

func TestTieBreakMostRecentlyEdited(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)

	older := keywordDMGraph("price")
	older.Nodes[2].ActionParams.Message = "older wins?"
	newer := keywordDMGraph("price")
	newer.Nodes[2].ActionParams.Message = "newer wins"

	f.addAutomation(t, "auto-old", older, true, time.Now().Add(-time.Hour))
	f.addAutomation(t, "auto-new", newer, true, time.Now())

	require.NoError(t, f.engine.ProcessJob(ctx, jobFor(commentEvent("price?"))))

	calls := f.messenger.calls()
	require.Len(t, calls, 1)
	assert.Equal("newer wins", calls[0].Text)
}

func TestDelaySuspendsAndResumes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)

	g := &automation.Graph{
		Nodes: []automation.Node{
			{ID: "t", Category: automation.CategoryTrigger, Trigger: automation.TriggerDM},
			{ID: "d", Category: automation.CategoryCondition, Condition: automation.ConditionDelay,
				ConditionParams: automation.ConditionParams{DelaySeconds: 60}},
			{ID: "a", Category: automation.CategoryAction, Action: automation.ActionSendDM,
				ActionParams: automation.ActionParams{Message: "still there?"}},
		},
		Edges: []automation.Edge{{From: "t", To: "d"}, {From: "d", To: "a"}},
	}
	f.addAutomation(t, "auto1", g, true, time.Now())

	ev := &automation.Event{
		EventID: "evt-dm-1", Kind: automation.TriggerDM,
		PageID: "page1", SenderID: "ext1", Text: "hello", Timestamp: time.Now(),
	}
	require.NoError(t, f.engine.ProcessJob(ctx, jobFor(ev)))

	// nothing sent yet; the remainder of the walk is queue state
	assert.Empty(f.messenger.calls())

	// not eligible before the delay elapses
	early, err := f.queue.ClaimNext(ctx, time.Now())
	assert.NoError(err)
	assert.Nil(early)

	cont, err := f.queue.ClaimNext(ctx, time.Now().Add(2*time.Minute))
	assert.NoError(err)
	require.NotNil(t, cont)
	assert.Equal("auto1", cont.AutomationID)
	assert.Equal("a", cont.ResumeNodeID)
	assert.Equal("evt-dm-1/resume/a", cont.DedupKey)

	// resuming continues from the action node, not the trigger
	require.NoError(t, f.engine.ProcessJob(ctx, cont))
	calls := f.messenger.calls()
	require.Len(t, calls, 1)
	assert.Equal("still there?", calls[0].Text)
}

func TestResumeAbortsWhenDeactivated(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)
	f.addAutomation(t, "auto1", keywordDMGraph("price"), true, time.Now())

	ev := commentEvent("price?")
	raw, _ := ev.Marshal()
	cont := &jobqueue.Job{
		ID: uuid.NewString(), DedupKey: "evt/resume/a", UserID: "u1",
		ConversationKey: ev.ConversationKey(), RawEvent: raw,
		AutomationID: "auto1", ResumeNodeID: "a",
	}

	require.NoError(t, f.store.DB().Model(&store.AutomationRecord{}).Where("id = ?", "auto1").Update("active", false).Error)

	// clean abort, no send, no error
	assert.NoError(f.engine.ProcessJob(ctx, cont))
	assert.Empty(f.messenger.calls())
}

func TestFollowerConditionFailsClosed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)

	g := &automation.Graph{
		Nodes: []automation.Node{
			{ID: "t", Category: automation.CategoryTrigger, Trigger: automation.TriggerComment},
			{ID: "c", Category: automation.CategoryCondition, Condition: automation.ConditionIsFollower},
			{ID: "yes", Category: automation.CategoryCondition, Condition: automation.ConditionYes},
			{ID: "no", Category: automation.CategoryCondition, Condition: automation.ConditionNo},
			{ID: "a-follow", Category: automation.CategoryAction, Action: automation.ActionSendDM,
				ActionParams: automation.ActionParams{Message: "thanks for following"}},
			{ID: "a-nofollow", Category: automation.CategoryAction, Action: automation.ActionSendDM,
				ActionParams: automation.ActionParams{Message: "follow us!"}},
		},
		Edges: []automation.Edge{
			{From: "t", To: "c"},
			{From: "c", To: "yes"}, {From: "c", To: "no"},
			{From: "yes", To: "a-follow"}, {From: "no", To: "a-nofollow"},
		},
	}
	f.addAutomation(t, "auto1", g, true, time.Now())

	// follower state unknown: IS_FOLLOWER fails closed, NO branch runs
	require.NoError(t, f.engine.ProcessJob(ctx, jobFor(commentEvent("hey"))))
	calls := f.messenger.calls()
	require.Len(t, calls, 1)
	assert.Equal("follow us!", calls[0].Text)

	// follower state known true: YES branch runs
	require.NoError(t, f.store.SetContactFollower(ctx, "u1", "page1", "ext1", true))
	require.NoError(t, f.engine.ProcessJob(ctx, jobFor(commentEvent("hey again"))))
	calls = f.messenger.calls()
	require.Len(t, calls, 2)
	assert.Equal("thanks for following", calls[1].Text)
}

func TestTierGatedAction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierFree)

	g := keywordDMGraph("price")
	g.Nodes[2].Action = automation.ActionSmartAI
	g.Nodes[2].Tier = automation.TierPro
	g.Nodes[2].UsageKey = ""
	f.addAutomation(t, "auto1", g, true, time.Now())

	assert.NoError(f.engine.ProcessJob(ctx, jobFor(commentEvent("price?"))))
	assert.Empty(f.messenger.calls())

	var notices []store.Notification
	require.NoError(t, f.store.DB().Find(&notices).Error)
	require.Len(t, notices, 1)
	assert.Equal("upgrade_required", notices[0].Kind)
}

func TestRetryableFailurePropagates(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)
	f.addAutomation(t, "auto1", keywordDMGraph("price"), true, time.Now())

	f.messenger.fail = &platform.RetryableError{Op: "send_dm", Err: errors.New("502")}
	err := f.engine.ProcessJob(ctx, jobFor(commentEvent("price?")))
	assert.True(platform.IsRetryable(err))

	// no confirmed dispatch, so no listener increment
	_, lerr := f.store.GetListener(ctx, "auto1")
	assert.ErrorIs(lerr, store.ErrNotFound)
}

func TestPermanentFailureNotifies(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)
	f.addAutomation(t, "auto1", keywordDMGraph("price"), true, time.Now())

	f.messenger.fail = &platform.PermanentError{Op: "send_dm", Status: 401, Err: errors.New("token revoked")}
	err := f.engine.ProcessJob(ctx, jobFor(commentEvent("price?")))
	assert.True(platform.IsPermanent(err))

	var notices []store.Notification
	require.NoError(t, f.store.DB().Find(&notices).Error)
	require.Len(t, notices, 1)
	assert.Equal("action_failed", notices[0].Kind)
}

func TestSmartAIRepliesWithCompletion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)

	g := keywordDMGraph("help")
	g.Nodes[2].Action = automation.ActionSmartAI
	g.Nodes[2].UsageKey = quotastore.UsageAIReplies
	f.addAutomation(t, "auto1", g, true, time.Now())

	require.NoError(t, f.engine.ProcessJob(ctx, jobFor(commentEvent("help me choose"))))
	calls := f.messenger.calls()
	require.Len(t, calls, 1)
	assert.Equal("ai: help me choose", calls[0].Text)
}

func TestUnparseablePayloadIsTerminal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)

	job := &jobqueue.Job{ID: uuid.NewString(), DedupKey: "junk", UserID: "u1", RawEvent: []byte("not json")}
	err := f.engine.ProcessJob(ctx, job)
	assert.Error(err)
	assert.False(platform.IsRetryable(err))
}

func TestUnknownPageDropsCleanly(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, automation.TierPro)

	ev := commentEvent("price?")
	ev.PageID = "not-connected"
	assert.NoError(f.engine.ProcessJob(ctx, jobFor(ev)))
	assert.Empty(f.messenger.calls())
}
