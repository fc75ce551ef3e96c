package domain

import "strings"

// Scope roots addressable from expressions and templates.
const (
	ScopePayload = "payload"
	ScopeVars    = "vars"
	ScopeConfig  = "config"
)

// EvalContext is the read-only view used for a single node evaluation.
// It is rebuilt for every step and never persisted.
type EvalContext struct {
	Payload map[string]any
	Vars    map[string]any
	Config  map[string]any
}

// Lookup resolves a dot path such as "vars.user.name". The first segment must
// be one of payload, vars or config. Missing segments resolve to (nil, false).
func (c EvalContext) Lookup(path string) (any, bool) {
	parts := strings.Split(strings.TrimSpace(path), ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, false
	}

	var root map[string]any
	switch parts[0] {
	case ScopePayload:
		root = c.Payload
	case ScopeVars:
		root = c.Vars
	case ScopeConfig:
		root = c.Config
	default:
		return nil, false
	}

	if len(parts) == 1 {
		if root == nil {
			return nil, false
		}
		return root, true
	}

	var cur any = root
	for _, p := range parts[1:] {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return m, true
	}
	return nil, false
}
