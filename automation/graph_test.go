package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commentDMGraph() *Graph {
	return &Graph{
		Nodes: []Node{
			{ID: "t1", Category: CategoryTrigger, Trigger: TriggerComment},
			{ID: "c1", Category: CategoryCondition, Condition: ConditionKeywords, ConditionParams: ConditionParams{Keywords: []string{"price"}}},
			{ID: "a1", Category: CategoryAction, Action: ActionSendDM, ActionParams: ActionParams{Message: "check your DMs!"}, UsageKey: "dms"},
		},
		Edges: []Edge{
			{From: "t1", To: "c1"},
			{From: "c1", To: "a1"},
		},
	}
}

func TestGraphValidate(t *testing.T) {
	assert := assert.New(t)

	g := commentDMGraph()
	assert.NoError(g.Validate())
	require.NotNil(t, g.TriggerNode())
	assert.Equal("t1", g.TriggerNode().ID)
	assert.Equal([]string{"c1"}, g.Children("t1"))
	assert.Nil(g.Node("nope"))
}

func TestGraphValidateRejects(t *testing.T) {
	assert := assert.New(t)

	empty := &Graph{}
	assert.ErrorIs(empty.Validate(), ErrInvalidGraph)

	dup := commentDMGraph()
	dup.Nodes = append(dup.Nodes, Node{ID: "t1", Category: CategoryAction, Action: ActionSendDM})
	assert.ErrorIs(dup.Validate(), ErrInvalidGraph)

	twoTriggers := commentDMGraph()
	twoTriggers.Nodes = append(twoTriggers.Nodes, Node{ID: "t2", Category: CategoryTrigger, Trigger: TriggerDM})
	assert.ErrorIs(twoTriggers.Validate(), ErrInvalidGraph)

	unknownKind := commentDMGraph()
	unknownKind.Nodes[2].Action = ActionKind("TELEPORT")
	assert.ErrorIs(unknownKind.Validate(), ErrInvalidGraph)

	danglingEdge := commentDMGraph()
	danglingEdge.Edges = append(danglingEdge.Edges, Edge{From: "a1", To: "ghost"})
	assert.ErrorIs(danglingEdge.Validate(), ErrInvalidGraph)

	intoTrigger := commentDMGraph()
	intoTrigger.Edges = append(intoTrigger.Edges, Edge{From: "a1", To: "t1"})
	assert.ErrorIs(intoTrigger.Validate(), ErrInvalidGraph)

	badDelay := commentDMGraph()
	badDelay.Nodes[1] = Node{ID: "c1", Category: CategoryCondition, Condition: ConditionDelay}
	assert.ErrorIs(badDelay.Validate(), ErrInvalidGraph)
}

func TestGraphValidateCycle(t *testing.T) {
	assert := assert.New(t)

	g := commentDMGraph()
	g.Edges = append(g.Edges, Edge{From: "a1", To: "c1"})
	assert.ErrorIs(g.Validate(), ErrCyclicGraph)
}

func TestParseGraph(t *testing.T) {
	assert := assert.New(t)

	raw := []byte(`{
		"nodes": [
			{"id": "t1", "category": "trigger", "trigger": "DM", "triggerFilters": {"keywords": ["help"]}},
			{"id": "a1", "category": "action", "action": "SEND_DM", "actionParams": {"message": "hi"}}
		],
		"edges": [{"from": "t1", "to": "a1"}]
	}`)
	g, err := ParseGraph(raw)
	assert.NoError(err)
	assert.Equal(TriggerDM, g.TriggerNode().Trigger)

	_, err = ParseGraph([]byte(`{"nodes": [{"id": "x", "category": "wat"}]}`))
	assert.ErrorIs(err, ErrInvalidGraph)

	_, err = ParseGraph([]byte(`not json`))
	assert.Error(err)
}

func TestEventDedupKey(t *testing.T) {
	assert := assert.New(t)

	ev := &Event{EventID: "ig-123", Kind: TriggerComment, PageID: "p1", SenderID: "s1"}
	assert.Equal("ig-123", ev.DedupKey())

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	anon := &Event{Kind: TriggerDM, PageID: "p1", SenderID: "s1", Text: "hello", Timestamp: ts}
	again := &Event{Kind: TriggerDM, PageID: "p1", SenderID: "s1", Text: "hello", Timestamp: ts}
	assert.Equal(anon.DedupKey(), again.DedupKey())
	assert.NotEqual(anon.DedupKey(), ev.DedupKey())

	assert.Equal("p1/s1", ev.ConversationKey())
}
