package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/aretw0/tendril"
	tendrilhttp "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const menuFlow = `
tenant_id: acme
name: clinic
nodes:
  start: {type: START, next: main}
  main:
    type: MENU
    prompt: "Hello {{payload.name}}!"
    options:
      "1": {label: "Hours", action: SHOW_HOURS}
      "2": {label: "Bye", next: bye}
  bye: {type: END}
`

func newTestServer(t *testing.T) (*Server, *tendril.Engine) {
	t.Helper()
	flow, err := tendril.ParseFlow([]byte(menuFlow))
	require.NoError(t, err)
	eng, err := tendril.New(tendril.WithFlows(flow))
	require.NoError(t, err)
	return NewServer(eng, nil), eng
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestHandleTrigger(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	args := map[string]interface{}{
		"tenant_id":  "acme",
		"channel_id": "whatsapp",
		"phone":      "+5511999990000",
		"text":       "hi",
		"payload":    `{"name":"Ana"}`,
		"event_id":   "e1",
	}
	res, err := s.handleTrigger(ctx, toolRequest(args), args)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	require.Len(t, res.Outbound, 1)
	assert.Equal(t, "Hello Ana!\n1) Hours\n2) Bye", res.Outbound[0].Content)

	// same event id is skipped
	res, err = s.handleTrigger(ctx, toolRequest(args), args)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Outbound)

	args["event_id"] = "e2"
	args["text"] = "2"
	res, err = s.handleTrigger(ctx, toolRequest(args), args)
	require.NoError(t, err)
	assert.True(t, res.Ended)
}

func TestHandleTrigger_Rejections(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	t.Run("missing phone", func(t *testing.T) {
		args := map[string]interface{}{"tenant_id": "acme", "channel_id": "whatsapp"}
		_, err := s.handleTrigger(ctx, toolRequest(args), args)
		assert.ErrorIs(t, err, domain.ErrInvalidEvent)
	})

	t.Run("bad payload", func(t *testing.T) {
		args := map[string]interface{}{"tenant_id": "acme", "channel_id": "c", "phone": "1", "payload": "[1,2]"}
		_, err := s.handleTrigger(ctx, toolRequest(args), args)
		assert.Error(t, err)
	})

	t.Run("input too large", func(t *testing.T) {
		args := map[string]interface{}{"tenant_id": "acme", "channel_id": "c", "phone": "1", "text": strings.Repeat("a", 5000)}
		_, err := s.handleTrigger(ctx, toolRequest(args), args)
		assert.Error(t, err)
	})

	t.Run("unknown tenant gets a safe reply", func(t *testing.T) {
		args := map[string]interface{}{"tenant_id": "globex", "channel_id": "c", "phone": "1", "text": "hi"}
		res, err := s.handleTrigger(ctx, toolRequest(args), args)
		require.NoError(t, err)
		assert.Equal(t, string(domain.KindDefinition), res.Error)
		require.Len(t, res.Outbound, 1)
		assert.Equal(t, tendrilhttp.ReplyFailure, res.Outbound[0].Content)
	})
}

func TestHandleInspect(t *testing.T) {
	s, eng := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleInspect(ctx, toolRequest(map[string]any{"tenant_id": "acme"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), `"tenant_id":"acme"`)

	trig, err := eng.Trigger(ctx, domain.TriggerRequest{TenantID: "acme", ChannelID: "c", Phone: "1"})
	require.NoError(t, err)

	res, err = s.handleInspect(ctx, toolRequest(map[string]any{
		"tenant_id":  "acme",
		"format":     "mermaid",
		"session_id": trig.SessionID,
	}))
	require.NoError(t, err)
	out := textOf(t, res)
	assert.True(t, strings.HasPrefix(out, "graph TD"))
	assert.Contains(t, out, "class main current;")

	res, err = s.handleInspect(ctx, toolRequest(map[string]any{"tenant_id": "acme", "format": "dot"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleInspect(ctx, toolRequest(map[string]any{"tenant_id": "globex"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleValidate(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	args := map[string]interface{}{"definition": menuFlow}
	res, err := s.handleValidate(ctx, toolRequest(args), args)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)

	broken := map[string]interface{}{"definition": "tenant_id: acme\nnodes:\n  start: {type: START, next: nowhere}\n"}
	res, err = s.handleValidate(ctx, toolRequest(broken), broken)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Errors)
}

func TestReadFlowResource(t *testing.T) {
	s, _ := newTestServer(t)

	var req mcp.ReadResourceRequest
	req.Params.URI = "tendril://tenants/acme/flow"
	contents, err := s.readFlowResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", text.MIMEType)
	assert.Contains(t, text.Text, `"tenant_id":"acme"`)

	req.Params.URI = "tendril://tenants/acme/sessions"
	_, err = s.readFlowResource(context.Background(), req)
	assert.Error(t, err)
}

func TestTenantFromURI(t *testing.T) {
	tenant, ok := tenantFromURI("tendril://tenants/acme/flow")
	assert.True(t, ok)
	assert.Equal(t, "acme", tenant)

	for _, uri := range []string{"tendril://tenants//flow", "file:///x", "tendril://tenants/a/b/flow"} {
		_, ok := tenantFromURI(uri)
		assert.False(t, ok, uri)
	}
}
