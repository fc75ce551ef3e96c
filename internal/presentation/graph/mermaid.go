package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// GraphOverlay contains dynamic session data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFor highlights the node a session waits on and its menu stack.
func OverlayFor(s *domain.Session) *GraphOverlay {
	if s == nil {
		return nil
	}
	current := s.CurrentNodeID
	if current == "" {
		current = s.CurrentMenuKey
	}
	return &GraphOverlay{
		VisitedNodes: append([]string(nil), s.MenuStack...),
		CurrentNode:  current,
	}
}

// GenerateMermaid produces a Mermaid flowchart for a flow. Nodes are emitted
// in id order so the output is stable. Shapes by type:
// - START: ((Circle))
// - END: (((Double circle)))
// - BRANCH: {Rhombus}
// - MENU: [/Parallelogram/]
// - SET_VAR: [[Subroutine]]
// - MESSAGE: [Rectangle]
func GenerateMermaid(flow *domain.Flow, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	ids := make([]string, 0, len(flow.Nodes))
	for id := range flow.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := flow.Nodes[id]
		safeID := sanitizeMermaidID(id)

		opener, closer := "[", "]"
		switch node.Type {
		case domain.NodeStart:
			opener, closer = "((", "))"
		case domain.NodeEnd:
			opener, closer = "(((", ")))"
		case domain.NodeBranch:
			opener, closer = "{", "}"
		case domain.NodeMenu:
			opener, closer = "[/", "/]"
		case domain.NodeSetVar:
			opener, closer = "[[", "]]"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, id, closer))

		if node.Next != "" {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", safeID, sanitizeMermaidID(node.Next)))
		}

		for _, edge := range node.Edges {
			label := "default"
			if !edge.IsDefault() {
				label = escapeLabel(edge.When)
			}
			sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", safeID, label, sanitizeMermaidID(edge.Next)))
		}

		for _, key := range node.OptionKeys() {
			opt := node.Options[key]
			label := escapeLabel(key + ") " + opt.Label)
			if opt.Next != "" {
				sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", safeID, label, sanitizeMermaidID(opt.Next)))
				continue
			}
			// actions answer and stay on the menu
			sb.WriteString(fmt.Sprintf("    %s -. \"%s: %s\" .-> %s\n", safeID, label, escapeLabel(opt.Action), safeID))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			if _, ok := flow.Nodes[id]; !ok {
				continue
			}
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if _, ok := flow.Nodes[overlay.CurrentNode]; ok {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode)))
		}
	}

	return sb.String()
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
