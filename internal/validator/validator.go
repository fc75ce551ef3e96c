package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/expr"
	"github.com/aretw0/tendril/pkg/template"
)

// Issue is a single finding about a flow.
type Issue struct {
	NodeID  string
	Message string
}

func (i Issue) String() string {
	if i.NodeID == "" {
		return i.Message
	}
	return fmt.Sprintf("node '%s': %s", i.NodeID, i.Message)
}

// Report collects blocking errors and non-blocking warnings.
type Report struct {
	Errors   []Issue
	Warnings []Issue
}

// OK reports whether the flow has no blocking errors.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

func (r *Report) errorf(nodeID, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warnf(nodeID, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

// ValidateFlow runs Check and folds the errors into a FlowDefinitionError.
func ValidateFlow(flow *domain.Flow) error {
	report := Check(flow)
	if report.OK() {
		return nil
	}
	lines := make([]string, len(report.Errors))
	for i, issue := range report.Errors {
		lines[i] = issue.String()
	}
	return &domain.FlowDefinitionError{
		FlowID: flow.ID,
		Reason: fmt.Sprintf("found %d errors:\n- %s", len(lines), strings.Join(lines, "\n- ")),
	}
}

// Check inspects links, expressions, menus and reachability starting from the start node.
func Check(flow *domain.Flow) *Report {
	r := &Report{}
	if flow == nil {
		r.errorf("", "flow is nil")
		return r
	}

	if flow.StartNodeID == "" {
		r.errorf("", "start node is not set")
	} else if _, ok := flow.Node(flow.StartNodeID); !ok {
		r.errorf("", "start node '%s' not found", flow.StartNodeID)
	}

	if flow.RootMenuID != "" {
		if n, ok := flow.Node(flow.RootMenuID); !ok {
			r.errorf("", "root menu '%s' not found", flow.RootMenuID)
		} else if n.Type != domain.NodeMenu {
			r.errorf("", "root menu '%s' is a %s node", flow.RootMenuID, n.Type)
		}
	}

	for _, id := range flow.NodeIDs() {
		checkNode(r, flow, id, flow.Nodes[id])
	}

	checkReachability(r, flow)
	return r
}

func checkNode(r *Report, flow *domain.Flow, id string, node *domain.Node) {
	if node == nil {
		r.errorf(id, "node is empty")
		return
	}
	if !node.Type.Valid() {
		r.errorf(id, "unsupported node type %q", node.Type)
		return
	}

	link := func(target, what string) {
		if target == "" {
			return
		}
		if _, ok := flow.Node(target); !ok {
			r.errorf(id, "%s points to missing node '%s'", what, target)
		}
	}

	link(node.Next, "next")
	checkTemplate(r, id, node.Text)

	switch node.Type {
	case domain.NodeMessage, domain.NodeSetVar:
		if node.Next == "" {
			r.warnf(id, "%s node has no next; the tick will stall here", node.Type)
		}
		if node.Type == domain.NodeSetVar && len(node.Assign) == 0 {
			r.warnf(id, "SET_VAR node assigns nothing")
		}
		for _, v := range node.Assign {
			if s, ok := v.(string); ok {
				checkTemplate(r, id, s)
			}
		}

	case domain.NodeBranch:
		defaults := 0
		for i, e := range node.Edges {
			if e.Next == "" {
				r.errorf(id, "edge #%d has no next", i)
			}
			link(e.Next, fmt.Sprintf("edge #%d", i))
			if e.IsDefault() {
				defaults++
				continue
			}
			if _, err := expr.Compile(e.When); err != nil {
				r.errorf(id, "edge #%d: %v", i, err)
			}
		}
		if defaults > 1 {
			r.errorf(id, "more than one default edge")
		}
		if len(node.Edges) > 0 && defaults == 0 {
			r.warnf(id, "BRANCH has no default edge; unmatched input stalls the tick")
		}

	case domain.NodeMenu:
		checkTemplate(r, id, node.Prompt)
		if len(node.Options) == 0 {
			r.errorf(id, "MENU has no options")
		}
		for _, key := range node.OptionKeys() {
			opt := node.Options[key]
			switch {
			case opt.Next != "" && opt.Action != "":
				r.errorf(id, "option '%s' sets both next and action", key)
			case opt.Next == "" && opt.Action == "":
				r.errorf(id, "option '%s' sets neither next nor action", key)
			}
			link(opt.Next, fmt.Sprintf("option '%s'", key))
			if opt.Label == "" {
				r.warnf(id, "option '%s' has no label", key)
			}
		}
	}
}

func checkTemplate(r *Report, id, tpl string) {
	for _, path := range template.Placeholders(tpl) {
		root, _, _ := strings.Cut(path, ".")
		switch root {
		case domain.ScopePayload, domain.ScopeVars, domain.ScopeConfig:
		default:
			r.warnf(id, "placeholder '{{%s}}' is outside payload, vars and config and always renders empty", path)
		}
	}
}

// checkReachability crawls the graph from the start node.
func checkReachability(r *Report, flow *domain.Flow) {
	if _, ok := flow.Node(flow.StartNodeID); !ok {
		return
	}

	visited := make(map[string]bool)
	queue := []string{flow.StartNodeID}
	endReachable := false

	for len(queue) > 0 {
		currentID := queue[0]
		queue = queue[1:]

		if visited[currentID] {
			continue
		}
		visited[currentID] = true

		node, ok := flow.Node(currentID)
		if !ok {
			continue // reported as a broken link
		}
		if node.Type == domain.NodeEnd {
			endReachable = true
		}
		for _, next := range compiler.Successors(node) {
			if !visited[next] {
				queue = append(queue, next)
			}
		}
	}

	var unreachable []string
	for id := range flow.Nodes {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	for _, id := range unreachable {
		r.warnf(id, "unreachable from start node '%s'", flow.StartNodeID)
	}

	if !endReachable && flow.RootMenuID == "" {
		r.warnf("", "no END node is reachable from the start node")
	}
}
