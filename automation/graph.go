package automation

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidGraph = errors.New("invalid automation graph")
	ErrCyclicGraph  = errors.New("automation graph contains a cycle")
)

type NodeCategory string

const (
	CategoryTrigger   NodeCategory = "trigger"
	CategoryCondition NodeCategory = "condition"
	CategoryAction    NodeCategory = "action"
)

// Trigger kinds correspond to inbound platform event kinds.
type TriggerKind string

const (
	TriggerComment    TriggerKind = "COMMENT"
	TriggerDM         TriggerKind = "DM"
	TriggerStoryReply TriggerKind = "STORY_REPLY"
	TriggerPostback   TriggerKind = "POSTBACK"
	TriggerMention    TriggerKind = "MENTION"
)

type ConditionKind string

const (
	ConditionKeywords   ConditionKind = "KEYWORDS"
	ConditionDelay      ConditionKind = "DELAY"
	ConditionIsFollower ConditionKind = "IS_FOLLOWER"
	ConditionHasTag     ConditionKind = "HAS_TAG"
	// YES/NO are pass-through branch gates after a boolean-producing node
	ConditionYes ConditionKind = "YES"
	ConditionNo  ConditionKind = "NO"
)

type ActionKind string

const (
	ActionSendDM       ActionKind = "SEND_DM"
	ActionReplyComment ActionKind = "REPLY_COMMENT"
	ActionSendCarousel ActionKind = "SEND_CAROUSEL"
	ActionSmartAI      ActionKind = "SMART_AI"
	ActionLogExternal  ActionKind = "LOG_EXTERNAL"
)

type PlanTier string

const (
	TierFree       PlanTier = "FREE"
	TierPro        PlanTier = "PRO"
	TierEnterprise PlanTier = "ENTERPRISE"
)

// TriggerFilters narrow which events a trigger node fires on. Zero value
// matches any event of the trigger's kind.
type TriggerFilters struct {
	// restrict to specific media/post IDs (SELECT_POSTS in the editor)
	PostIDs []string `json:"postIds,omitempty"`
	// keyword filter on comment/DM text
	Keywords []string `json:"keywords,omitempty"`
	// whole-word token match instead of substring match
	WholeWord bool `json:"wholeWord,omitempty"`
}

type ConditionParams struct {
	Keywords     []string `json:"keywords,omitempty"`
	DelaySeconds int64    `json:"delaySeconds,omitempty"`
	Tag          string   `json:"tag,omitempty"`
}

type CarouselElement struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	// postback payload for the element button
	Payload string `json:"payload,omitempty"`
}

type ActionParams struct {
	Message  string            `json:"message,omitempty"`
	Elements []CarouselElement `json:"elements,omitempty"`
	Prompt   string            `json:"prompt,omitempty"`
	Model    string            `json:"model,omitempty"`
	LogName  string            `json:"logName,omitempty"`
}

// Node is a closed tagged variant: exactly one of the kind fields is set,
// according to Category. Loosely-typed editor output is rejected at load
// time by Graph.Validate, never deep in a walk.
type Node struct {
	ID       string       `json:"id"`
	Category NodeCategory `json:"category"`

	Trigger        TriggerKind    `json:"trigger,omitempty"`
	TriggerFilters TriggerFilters `json:"triggerFilters,omitempty"`

	Condition       ConditionKind   `json:"condition,omitempty"`
	ConditionParams ConditionParams `json:"conditionParams,omitempty"`

	Action       ActionKind   `json:"action,omitempty"`
	ActionParams ActionParams `json:"actionParams,omitempty"`
	// minimum plan tier required to run this action
	Tier PlanTier `json:"tier,omitempty"`
	// quota bucket consumed by this action ("" means not quota-bearing)
	UsageKey string `json:"usageKey,omitempty"`
}

type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the directed acyclic flow of one automation: a single trigger
// entry, then condition and action nodes.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func ParseGraph(raw []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decoding automation graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks structural invariants: unique node IDs, known kinds,
// exactly one trigger, edges referencing real nodes, and acyclicity.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidGraph)
	}

	byID := make(map[string]*Node, len(g.Nodes))
	triggers := 0
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty ID", ErrInvalidGraph)
		}
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node ID %q", ErrInvalidGraph, n.ID)
		}
		byID[n.ID] = n

		switch n.Category {
		case CategoryTrigger:
			triggers++
			switch n.Trigger {
			case TriggerComment, TriggerDM, TriggerStoryReply, TriggerPostback, TriggerMention:
			default:
				return fmt.Errorf("%w: unknown trigger kind %q (node %s)", ErrInvalidGraph, n.Trigger, n.ID)
			}
		case CategoryCondition:
			switch n.Condition {
			case ConditionKeywords, ConditionDelay, ConditionIsFollower, ConditionHasTag, ConditionYes, ConditionNo:
			default:
				return fmt.Errorf("%w: unknown condition kind %q (node %s)", ErrInvalidGraph, n.Condition, n.ID)
			}
			if n.Condition == ConditionDelay && n.ConditionParams.DelaySeconds <= 0 {
				return fmt.Errorf("%w: DELAY node %s requires positive delaySeconds", ErrInvalidGraph, n.ID)
			}
		case CategoryAction:
			switch n.Action {
			case ActionSendDM, ActionReplyComment, ActionSendCarousel, ActionSmartAI, ActionLogExternal:
			default:
				return fmt.Errorf("%w: unknown action kind %q (node %s)", ErrInvalidGraph, n.Action, n.ID)
			}
		default:
			return fmt.Errorf("%w: unknown node category %q (node %s)", ErrInvalidGraph, n.Category, n.ID)
		}
	}
	if triggers != 1 {
		return fmt.Errorf("%w: expected exactly one trigger node, found %d", ErrInvalidGraph, triggers)
	}

	for _, e := range g.Edges {
		if _, ok := byID[e.From]; !ok {
			return fmt.Errorf("%w: edge from unknown node %q", ErrInvalidGraph, e.From)
		}
		if _, ok := byID[e.To]; !ok {
			return fmt.Errorf("%w: edge to unknown node %q", ErrInvalidGraph, e.To)
		}
		if to := byID[e.To]; to.Category == CategoryTrigger {
			return fmt.Errorf("%w: edge into trigger node %q", ErrInvalidGraph, e.To)
		}
	}

	return g.checkAcyclic()
}

// three-color DFS over the edge list
func (g *Graph) checkAcyclic() error {
	next := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		next[e.From] = append(next[e.From], e.To)
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		for _, out := range next[id] {
			switch color[out] {
			case grey:
				return fmt.Errorf("%w: cycle through node %q", ErrCyclicGraph, out)
			case white:
				if err := visit(out); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, n := range g.Nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// TriggerNode returns the single entry node. Callers should only use this
// after Validate.
func (g *Graph) TriggerNode() *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Category == CategoryTrigger {
			return &g.Nodes[i]
		}
	}
	return nil
}

func (g *Graph) Node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Children returns the IDs of nodes directly downstream of the given node,
// in edge-list order.
func (g *Graph) Children(id string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e.To)
		}
	}
	return out
}
