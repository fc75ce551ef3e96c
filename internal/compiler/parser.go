package compiler

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tendril/internal/dto"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Parser is responsible for converting raw definition bytes into a Flow.
type Parser struct{}

// NewParser creates a new parser instance.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a YAML or JSON flow definition. It only checks shape;
// graph level checks live in the validator package.
func (p *Parser) Parse(data []byte) (*domain.Flow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &domain.FlowDefinitionError{Reason: "empty definition"}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &domain.FlowDefinitionError{Reason: "failed to parse flow: " + err.Error()}
	}

	var def dto.FlowDefinition
	if err := decode(normalize(raw), &def); err != nil {
		return nil, &domain.FlowDefinitionError{Reason: "failed to decode flow: " + err.Error()}
	}

	return p.build(def)
}

// ParseString is a convenience wrapper for inline definitions.
func (p *Parser) ParseString(src string) (*domain.Flow, error) {
	return p.Parse([]byte(src))
}

func (p *Parser) build(def dto.FlowDefinition) (*domain.Flow, error) {
	flow := &domain.Flow{
		ID:          def.ID,
		TenantID:    def.TenantID,
		Name:        def.Name,
		Category:    firstNonEmpty(def.Category, def.IndustryType),
		Version:     def.Version,
		Active:      boolOr(def.Active, true),
		Default:     boolOr(def.Default, true),
		StartNodeID: firstNonEmpty(def.StartNodeID, def.Start),
		RootMenuID:  def.RootMenu,
		Nodes:       make(map[string]*domain.Node),
	}

	nodes, err := nodeDefinitions(def.Nodes)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, &domain.FlowDefinitionError{FlowID: flow.ID, Reason: "flow has no nodes"}
	}

	for _, nd := range nodes {
		if nd.ID == "" {
			return nil, &domain.FlowDefinitionError{FlowID: flow.ID, Reason: "node missing id"}
		}
		if _, dup := flow.Nodes[nd.ID]; dup {
			return nil, &domain.FlowDefinitionError{FlowID: flow.ID, NodeID: nd.ID, Reason: "duplicate node id"}
		}
		node, err := buildNode(nd)
		if err != nil {
			return nil, &domain.FlowDefinitionError{FlowID: flow.ID, NodeID: nd.ID, Reason: err.Error()}
		}
		flow.Nodes[node.ID] = node
	}

	if flow.StartNodeID == "" {
		flow.StartNodeID = inferStart(flow)
	}
	if flow.RootMenuID == "" {
		flow.RootMenuID = FirstMenu(flow)
	}
	return flow, nil
}

func buildNode(nd dto.NodeDefinition) (*domain.Node, error) {
	typ := domain.NodeType(strings.ToUpper(strings.TrimSpace(nd.Type)))
	if !typ.Valid() {
		return nil, fmt.Errorf("unsupported node type %q", nd.Type)
	}

	node := &domain.Node{
		ID:     nd.ID,
		Type:   typ,
		Next:   firstNonEmpty(nd.Next, nd.NextNodeID),
		Text:   nd.Text,
		Assign: nd.Assign,
		Prompt: nd.Prompt,
	}

	edges := nd.Edges
	if len(edges) == 0 {
		edges = nd.Branches
	}
	for _, e := range edges {
		node.Edges = append(node.Edges, domain.Edge{
			When: firstNonEmpty(e.When, e.Condition, domain.DefaultCondition),
			Next: firstNonEmpty(e.Next, e.NextNodeID),
		})
	}

	if len(nd.Options) > 0 {
		node.Options = make(map[string]domain.MenuOption, len(nd.Options))
		for key, o := range nd.Options {
			node.Options[strings.TrimSpace(key)] = domain.MenuOption{
				Label:  o.Label,
				Next:   firstNonEmpty(o.Next, o.NextMenu),
				Action: o.Action,
			}
		}
	}
	return node, nil
}

// nodeDefinitions accepts either a map keyed by id or a list.
func nodeDefinitions(raw any) ([]dto.NodeDefinition, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]dto.NodeDefinition, 0, len(keys))
		for _, k := range keys {
			var nd dto.NodeDefinition
			if err := decode(v[k], &nd); err != nil {
				return nil, &domain.FlowDefinitionError{NodeID: k, Reason: err.Error()}
			}
			if nd.ID == "" {
				nd.ID = k
			} else if nd.ID != k {
				return nil, &domain.FlowDefinitionError{NodeID: k, Reason: fmt.Sprintf("id %q does not match key", nd.ID)}
			}
			out = append(out, nd)
		}
		return out, nil
	case []any:
		out := make([]dto.NodeDefinition, 0, len(v))
		for i, item := range v {
			var nd dto.NodeDefinition
			if err := decode(item, &nd); err != nil {
				return nil, &domain.FlowDefinitionError{Reason: fmt.Sprintf("node #%d: %v", i, err)}
			}
			out = append(out, nd)
		}
		return out, nil
	default:
		return nil, &domain.FlowDefinitionError{Reason: fmt.Sprintf("nodes must be a map or a list, got %T", raw)}
	}
}

// inferStart picks the single START node when the definition names none.
func inferStart(flow *domain.Flow) string {
	start := ""
	for _, id := range flow.NodeIDs() {
		if flow.Nodes[id].Type == domain.NodeStart {
			if start != "" {
				return ""
			}
			start = id
		}
	}
	return start
}

// FirstMenu returns the first MENU reachable from the start node in
// breadth-first order, or "" when there is none.
func FirstMenu(flow *domain.Flow) string {
	if _, ok := flow.Node(flow.StartNodeID); !ok {
		return ""
	}
	visited := map[string]bool{}
	queue := []string{flow.StartNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		node, ok := flow.Node(id)
		if !ok {
			continue
		}
		if node.Type == domain.NodeMenu {
			return id
		}
		queue = append(queue, Successors(node)...)
	}
	return ""
}

// Successors lists every node id a node can transition to, in declared order.
func Successors(node *domain.Node) []string {
	var out []string
	if node.Next != "" {
		out = append(out, node.Next)
	}
	for _, e := range node.Edges {
		if e.Next != "" {
			out = append(out, e.Next)
		}
	}
	for _, k := range node.OptionKeys() {
		if next := node.Options[k].Next; next != "" {
			out = append(out, next)
		}
	}
	return out
}

func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// normalize converts YAML maps with non-string keys (e.g. numeric menu keys)
// into map[string]any so they decode and serialize uniformly.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	default:
		return v
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
