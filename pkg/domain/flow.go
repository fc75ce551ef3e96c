package domain

import (
	"sort"
	"strconv"
	"strings"
)

// NodeType defines the control flow behavior of a node.
type NodeType string

const (
	// NodeStart is an entry formality that advances unconditionally.
	NodeStart NodeType = "START"
	// NodeMessage renders its text and emits a SEND_MESSAGE action.
	NodeMessage NodeType = "MESSAGE"
	// NodeSetVar writes its assignments into the session vars.
	NodeSetVar NodeType = "SET_VAR"
	// NodeBranch picks the next node by evaluating its edges in order.
	NodeBranch NodeType = "BRANCH"
	// NodeMenu renders a prompt with options and waits for a selection.
	NodeMenu NodeType = "MENU"
	// NodeEnd terminates the conversation.
	NodeEnd NodeType = "END"
)

// DefaultCondition is the edge condition that matches when nothing else does.
const DefaultCondition = "default"

// Valid reports whether t is one of the supported node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeStart, NodeMessage, NodeSetVar, NodeBranch, NodeMenu, NodeEnd:
		return true
	}
	return false
}

// Flow is an immutable, versioned conversation graph owned by one tenant.
// Flows are shared read-only across concurrent ticks.
type Flow struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	// Category is an optional grouping (e.g. industry) used to select a default flow.
	Category string `json:"category,omitempty"`
	Version  int    `json:"version"`
	Active   bool   `json:"active"`
	Default  bool   `json:"default"`

	StartNodeID string `json:"start_node_id"`
	// RootMenuID is the menu that "main" / "menu" / "restart" return to.
	RootMenuID string `json:"root_menu,omitempty"`

	Nodes map[string]*Node `json:"nodes"`
}

// Node looks up a node by ID.
func (f *Flow) Node(id string) (*Node, bool) {
	if f == nil || f.Nodes == nil {
		return nil, false
	}
	n, ok := f.Nodes[id]
	return n, ok
}

// NodeIDs returns every node ID in deterministic order.
func (f *Flow) NodeIDs() []string {
	ids := make([]string, 0, len(f.Nodes))
	for id := range f.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Node is a logical unit in the flow graph. Which fields are meaningful
// depends on Type.
type Node struct {
	ID   string   `json:"id,omitempty"`
	Type NodeType `json:"type"`

	// Next is the successor for START, MESSAGE, SET_VAR (and BRANCH without edges).
	Next string `json:"next,omitempty"`

	// Text is the MESSAGE template.
	Text string `json:"text,omitempty"`

	// Assign holds SET_VAR literals or templates keyed by variable name.
	Assign map[string]any `json:"assign,omitempty"`

	// Edges are the ordered BRANCH candidates.
	Edges []Edge `json:"edges,omitempty"`

	// Prompt and Options describe a MENU.
	Prompt  string                `json:"prompt,omitempty"`
	Options map[string]MenuOption `json:"options,omitempty"`
}

// Edge is a conditional BRANCH transition.
type Edge struct {
	// When is an expression, or the literal "default".
	When string `json:"when"`
	Next string `json:"next"`
}

// IsDefault reports whether the edge is the fallback edge.
func (e Edge) IsDefault() bool {
	return strings.EqualFold(strings.TrimSpace(e.When), DefaultCondition)
}

// MenuOption is a selectable entry of a MENU node.
// Exactly one of Next or Action is expected to be set.
type MenuOption struct {
	Label  string `json:"label"`
	Next   string `json:"next,omitempty"`
	Action string `json:"action,omitempty"`
}

// OptionKeys returns the menu option keys in display order: numeric ascending
// when every key is an integer, lexicographic otherwise.
func (n *Node) OptionKeys() []string {
	keys := make([]string, 0, len(n.Options))
	for k := range n.Options {
		keys = append(keys, k)
	}

	numeric := true
	nums := make(map[string]int, len(keys))
	for _, k := range keys {
		v, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			numeric = false
			break
		}
		nums[k] = v
	}

	if numeric {
		sort.SliceStable(keys, func(i, j int) bool {
			if nums[keys[i]] == nums[keys[j]] {
				return keys[i] < keys[j]
			}
			return nums[keys[i]] < nums[keys[j]]
		})
		return keys
	}
	sort.Strings(keys)
	return keys
}

// ResolveOption matches a user selection by option key first, then by
// case-insensitive label.
func (n *Node) ResolveOption(selection string) (string, MenuOption, bool) {
	sel := strings.TrimSpace(selection)
	if opt, ok := n.Options[sel]; ok {
		return sel, opt, true
	}
	for _, k := range n.OptionKeys() {
		opt := n.Options[k]
		if strings.EqualFold(opt.Label, sel) {
			return k, opt, true
		}
	}
	return "", MenuOption{}, false
}

// FlowFilter narrows the active flow lookup.
type FlowFilter struct {
	// Category restricts the lookup to flows with this category. Empty means any.
	Category string
}

// Clone returns a deep copy of the flow so stores can hand out values that
// callers cannot mutate.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	c := *f
	c.Nodes = make(map[string]*Node, len(f.Nodes))
	for id, n := range f.Nodes {
		if n == nil {
			continue
		}
		nc := *n
		if n.Assign != nil {
			nc.Assign = CloneVars(n.Assign)
		}
		if n.Edges != nil {
			nc.Edges = append([]Edge(nil), n.Edges...)
		}
		if n.Options != nil {
			nc.Options = make(map[string]MenuOption, len(n.Options))
			for k, o := range n.Options {
				nc.Options[k] = o
			}
		}
		c.Nodes[id] = &nc
	}
	return &c
}
