package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/expr"
	"github.com/aretw0/tendril/pkg/template"
)

// evaluate runs a single node and reports the produced actions and successor.
func (t *tick) evaluate(ctx context.Context, node *domain.Node) (stepResult, error) {
	res := stepResult{nodeID: node.ID, nodeType: node.Type}
	ectx := t.evalContext()

	switch node.Type {
	case domain.NodeStart:
		res.next = node.Next
		if res.next == "" {
			res.next = t.flow.StartNodeID
		}

	case domain.NodeMessage:
		text := template.Render(node.Text, ectx)
		res.actions = append(res.actions, domain.SendMessage(t.req.Phone, text))
		res.next = node.Next

	case domain.NodeSetVar:
		assigned := t.assign(node, ectx)
		res.actions = append(res.actions, domain.SetVar(assigned))
		res.next = node.Next

	case domain.NodeBranch:
		res.next = resolveBranch(node, ectx)

	case domain.NodeMenu:
		t.menuKey = node.ID
		res.actions = append(res.actions, domain.SendMessage(t.req.Phone, renderPrompt(node, ectx)))
		res.next = node.ID
		res.waiting = true

	case domain.NodeEnd:
		res.actions = append(res.actions, domain.End())
		res.ended = true

	default:
		return res, &domain.FlowDefinitionError{
			FlowID: t.flow.ID,
			NodeID: node.ID,
			Reason: fmt.Sprintf("unsupported node type %q", node.Type),
		}
	}
	return res, nil
}

// assign writes SET_VAR values into the tick vars in key order. String values
// are rendered as templates against the context the node started with.
func (t *tick) assign(node *domain.Node, ectx domain.EvalContext) map[string]any {
	keys := make([]string, 0, len(node.Assign))
	for k := range node.Assign {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snapshot := domain.EvalContext{Payload: ectx.Payload, Vars: domain.CloneVars(ectx.Vars), Config: ectx.Config}
	assigned := make(map[string]any, len(keys))
	for _, k := range keys {
		var v any
		switch raw := node.Assign[k].(type) {
		case string:
			v = template.Render(raw, snapshot)
		case map[string]any:
			v = domain.CloneVars(raw)
		default:
			v = raw
		}
		t.vars[k] = v
		assigned[k] = v
	}
	return assigned
}

// resolveBranch picks the first true non-default edge in declared order, then
// the default edge wherever it sits. An empty result stalls the tick.
func resolveBranch(node *domain.Node, ectx domain.EvalContext) string {
	if len(node.Edges) == 0 {
		return node.Next
	}
	fallback := ""
	for _, edge := range node.Edges {
		if edge.IsDefault() {
			if fallback == "" {
				fallback = edge.Next
			}
			continue
		}
		if expr.Eval(edge.When, ectx) {
			return edge.Next
		}
	}
	return fallback
}

// renderPrompt renders the menu prompt followed by one "key) label" line per option.
func renderPrompt(node *domain.Node, ectx domain.EvalContext) string {
	lines := []string{}
	if p := template.Render(node.Prompt, ectx); p != "" {
		lines = append(lines, p)
	}
	for _, k := range node.OptionKeys() {
		lines = append(lines, fmt.Sprintf("%s) %s", k, template.Render(node.Options[k].Label, ectx)))
	}
	return strings.Join(lines, "\n")
}
