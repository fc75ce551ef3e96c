package validator

import (
	"strings"
	"testing"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string) *domain.Flow {
	t.Helper()
	flow, err := compiler.NewParser().ParseString(src)
	require.NoError(t, err)
	return flow
}

func TestValidateFlow(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		flow := parse(t, `
name: support
start_node_id: start
nodes:
  start: {type: START, next: greet}
  greet: {type: MESSAGE, text: "Hi {{vars.name}}", next: route}
  route:
    type: BRANCH
    edges:
      - {when: "vars.vip == true", next: vip}
      - {when: default, next: bye}
  vip: {type: SET_VAR, assign: {tier: gold}, next: bye}
  bye: {type: END}
`)
		report := Check(flow)
		assert.True(t, report.OK(), "%v", report.Errors)
		assert.Empty(t, report.Warnings)
		assert.NoError(t, ValidateFlow(flow))
	})

	t.Run("BrokenLink", func(t *testing.T) {
		flow := parse(t, `
start_node_id: start
nodes:
  start: {type: START, next: ghost_node}
`)
		err := ValidateFlow(flow)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrFlowDefinition)
		assert.Contains(t, err.Error(), "missing node 'ghost_node'")
	})

	t.Run("MissingStart", func(t *testing.T) {
		flow := parse(t, `
start_node_id: nope
nodes:
  a: {type: END}
`)
		report := Check(flow)
		require.False(t, report.OK())
		assert.Contains(t, report.Errors[0].String(), "start node 'nope' not found")
	})

	t.Run("MalformedExpression", func(t *testing.T) {
		flow := parse(t, `
start_node_id: b
nodes:
  b:
    type: BRANCH
    edges:
      - {when: "vars.x === 1", next: e}
      - {when: "vars.x", next: e}
      - {when: default, next: e}
  e: {type: END}
`)
		report := Check(flow)
		assert.Len(t, report.Errors, 2)
		for _, issue := range report.Errors {
			assert.Equal(t, "b", issue.NodeID)
		}
	})

	t.Run("Menus", func(t *testing.T) {
		flow := parse(t, `
start_node_id: main
nodes:
  main:
    type: MENU
    prompt: Pick one
    options:
      1: {label: Hours, action: SHOW_HOURS}
      2: {label: Both, action: HELP, next: main}
      3: {label: Neither}
  empty: {type: MENU, prompt: nothing}
`)
		report := Check(flow)
		var msgs []string
		for _, e := range report.Errors {
			msgs = append(msgs, e.String())
		}
		joined := strings.Join(msgs, "\n")
		assert.Contains(t, joined, "option '2' sets both next and action")
		assert.Contains(t, joined, "option '3' sets neither next nor action")
		assert.Contains(t, joined, "node 'empty': MENU has no options")
	})

	t.Run("Warnings", func(t *testing.T) {
		flow := parse(t, `
start_node_id: start
nodes:
  start: {type: START, next: msg}
  msg: {type: MESSAGE, text: "{{user.name}}"}
  orphan: {type: END}
`)
		report := Check(flow)
		assert.True(t, report.OK())
		var warns []string
		for _, w := range report.Warnings {
			warns = append(warns, w.String())
		}
		joined := strings.Join(warns, "\n")
		assert.Contains(t, joined, "node 'orphan': unreachable")
		assert.Contains(t, joined, "always renders empty")
		assert.Contains(t, joined, "tick will stall")
	})
}
