package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/pkg/domain"
)

func flowOf(nodes ...*domain.Node) *domain.Flow {
	f := &domain.Flow{Nodes: map[string]*domain.Node{}}
	for _, n := range nodes {
		f.Nodes[n.ID] = n
	}
	return f
}

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		flow     *domain.Flow
		contains []string
	}{
		{
			name: "Node Shapes",
			flow: flowOf(
				&domain.Node{ID: "start", Type: domain.NodeStart, Next: "hi"},
				&domain.Node{ID: "hi", Type: domain.NodeMessage, Next: "end"},
				&domain.Node{ID: "set", Type: domain.NodeSetVar},
				&domain.Node{ID: "check", Type: domain.NodeBranch},
				&domain.Node{ID: "end", Type: domain.NodeEnd},
			),
			contains: []string{
				"start((\"start\"))",
				"hi[\"hi\"]",
				"set[[\"set\"]]",
				"check{\"check\"}",
				"end(((\"end\")))",
				"start --> hi",
			},
		},
		{
			name: "ID Sanitization",
			flow: flowOf(
				&domain.Node{ID: "ask.name", Type: domain.NodeMessage, Next: "hyphen-ated"},
				&domain.Node{ID: "hyphen-ated", Type: domain.NodeEnd},
			),
			contains: []string{
				"ask_name[\"ask.name\"]",
				"ask_name --> hyphen_ated",
			},
		},
		{
			name: "Branch Edges",
			flow: flowOf(&domain.Node{
				ID:   "check",
				Type: domain.NodeBranch,
				Edges: []domain.Edge{
					{When: `vars.answer == "yes"`, Next: "yes"},
					{When: "default", Next: "no"},
				},
			}),
			contains: []string{
				`check -- "vars.answer == 'yes'" --> yes`,
				`check -- "default" --> no`,
			},
		},
		{
			name: "Menu Options",
			flow: flowOf(&domain.Node{
				ID:   "main",
				Type: domain.NodeMenu,
				Options: map[string]domain.MenuOption{
					"1": {Label: "Hours", Action: "SHOW_HOURS"},
					"2": {Label: "Booking", Next: "booking"},
				},
			}),
			contains: []string{
				"main[/\"main\"/]",
				`main -. "1) Hours: SHOW_HOURS" .-> main`,
				`main -- "2) Booking" --> booking`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.flow, nil)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
		})
	}
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	flow := flowOf(
		&domain.Node{ID: "main", Type: domain.NodeMenu, Options: map[string]domain.MenuOption{"1": {Label: "Sub", Next: "sub"}}},
		&domain.Node{ID: "sub", Type: domain.NodeMenu, Options: map[string]domain.MenuOption{"1": {Label: "Back", Next: "main"}}},
	)
	sess := &domain.Session{CurrentNodeID: "sub", MenuStack: []string{"main", "gone"}}

	got := graph.GenerateMermaid(flow, graph.OverlayFor(sess))
	for _, want := range []string{"class main visited;", "class sub current;"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in\n%s", want, got)
		}
	}
	if strings.Contains(got, "gone") {
		t.Error("unknown nodes must not be styled")
	}
	if graph.OverlayFor(nil) != nil {
		t.Error("nil session should give no overlay")
	}
}
