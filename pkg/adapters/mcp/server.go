// Package mcp exposes the engine to Model Context Protocol clients, so an
// agent can drive test conversations and inspect tenant flows.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/internal/validator"
	tendrilhttp "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/sanitize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// FlowResourceTemplate addresses a tenant's active flow.
const FlowResourceTemplate = "tendril://tenants/{tenant_id}/flow"

// TriggerResponse is the structured result of trigger_event.
type TriggerResponse struct {
	SessionID string                  `json:"session_id,omitempty" jsonschema_description:"Session that handled the event"`
	Outbound  []domain.OutboundAction `json:"outbound" jsonschema_description:"Actions the host should execute"`
	Ended     bool                    `json:"ended" jsonschema_description:"The flow reached an END node"`
	Skipped   bool                    `json:"skipped" jsonschema_description:"The event id was already processed"`
	Error     string                  `json:"error,omitempty" jsonschema_description:"Error kind when the event was rejected"`
}

// ValidateResponse is the structured result of validate_flow.
type ValidateResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Engine defines what the MCP server needs from tendril.Engine.
type Engine interface {
	Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerResult, error)
	Inspect(ctx context.Context, tenantID string) (*domain.Flow, error)
	Sessions() ports.SessionStore
}

// Server wraps the engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		engine:    engine,
		logger:    logger,
		mcpServer: server.NewMCPServer("tendril-mcp", strings.TrimSpace(tendril.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		baseURL = "http://" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: trigger_event
	triggerTool := mcp.NewTool("trigger_event",
		mcp.WithDescription("Deliver one inbound message to a tenant's conversation flow and return the outbound actions."),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
		mcp.WithString("channel_id", mcp.Required(), mcp.Description("Channel identifier")),
		mcp.WithString("phone", mcp.Required(), mcp.Description("End user phone number")),
		mcp.WithString("text", mcp.Description("Message text (payload.text)")),
		mcp.WithString("payload", mcp.Description("JSON object merged into the event payload (optional)")),
		mcp.WithString("event_id", mcp.Description("Idempotency key (optional)")),
		mcp.WithString("category", mcp.Description("Flow category (optional)")),
		mcp.WithOutputSchema[TriggerResponse](),
	)
	s.mcpServer.AddTool(triggerTool, mcp.NewStructuredToolHandler(s.handleTrigger))

	// TOOL: inspect_flow
	s.mcpServer.AddTool(mcp.NewTool("inspect_flow",
		mcp.WithDescription("Get the tenant's active flow as JSON or as a Mermaid diagram."),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
		mcp.WithString("format", mcp.Description("json (default) or mermaid")),
		mcp.WithString("session_id", mcp.Description("Highlight this session's position (mermaid only)")),
	), s.handleInspect)

	// TOOL: validate_flow
	validateTool := mcp.NewTool("validate_flow",
		mcp.WithDescription("Compile and validate a YAML or JSON flow definition without publishing it."),
		mcp.WithString("definition", mcp.Required(), mcp.Description("Flow definition source")),
		mcp.WithOutputSchema[ValidateResponse](),
	)
	s.mcpServer.AddTool(validateTool, mcp.NewStructuredToolHandler(s.handleValidate))
}

func (s *Server) handleTrigger(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TriggerResponse, error) {
	req := domain.TriggerRequest{Payload: map[string]any{}}
	req.TenantID, _ = args["tenant_id"].(string)
	req.ChannelID, _ = args["channel_id"].(string)
	req.Phone, _ = args["phone"].(string)
	req.EventID, _ = args["event_id"].(string)
	req.Category, _ = args["category"].(string)

	if raw, ok := args["payload"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Payload); err != nil {
			return TriggerResponse{}, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	if text, ok := args["text"].(string); ok {
		req.Payload["text"] = text
	}

	payload, err := sanitize.Payload(req.Payload)
	if err != nil {
		s.logger.Warn("MCP Trigger: Input rejected", "err", err)
		return TriggerResponse{}, fmt.Errorf("input rejected: %w", err)
	}
	req.Payload = payload

	res, err := s.engine.Trigger(ctx, req)
	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindInvalidEvent {
			return TriggerResponse{}, err
		}
		_, reply := tendrilhttp.Classify(err)
		return TriggerResponse{
			Outbound: []domain.OutboundAction{domain.SendMessage(req.Phone, reply)},
			Error:    string(kind),
		}, nil
	}

	return TriggerResponse{
		SessionID: res.SessionID,
		Outbound:  res.Outbound,
		Ended:     res.Ended,
		Skipped:   res.Skipped,
	}, nil
}

func (s *Server) handleInspect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	tenantID, _ := args["tenant_id"].(string)
	format, _ := args["format"].(string)
	sessionID, _ := args["session_id"].(string)

	flow, err := s.engine.Inspect(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("inspect failed: %v", err)), nil
	}

	switch strings.ToLower(format) {
	case "", "json":
		jsonBytes, err := json.Marshal(flow)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	case "mermaid":
		var overlay *graph.GraphOverlay
		if sessionID != "" {
			sess, err := s.engine.Sessions().Get(ctx, tenantID, sessionID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("session lookup failed: %v", err)), nil
			}
			overlay = graph.OverlayFor(sess)
		}
		return mcp.NewToolResultText(graph.GenerateMermaid(flow, overlay)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q", format)), nil
	}
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ValidateResponse, error) {
	src, _ := args["definition"].(string)
	resp := ValidateResponse{Errors: []string{}, Warnings: []string{}}

	flow, err := compiler.NewParser().ParseString(src)
	if err != nil {
		resp.Errors = append(resp.Errors, err.Error())
		return resp, nil
	}

	report := validator.Check(flow)
	for _, issue := range report.Errors {
		resp.Errors = append(resp.Errors, issue.String())
	}
	for _, issue := range report.Warnings {
		resp.Warnings = append(resp.Warnings, issue.String())
	}
	resp.Valid = report.OK()
	return resp, nil
}

func (s *Server) registerResources() {
	// EXPOSE: tendril://tenants/{tenant_id}/flow
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(FlowResourceTemplate, "Active Flow Definition",
		mcp.WithTemplateMIMEType("application/json"),
	), s.readFlowResource)
}

func (s *Server) readFlowResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	tenantID, ok := tenantFromURI(uri)
	if !ok {
		return nil, fmt.Errorf("unexpected resource uri %q", uri)
	}
	flow, err := s.engine.Inspect(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect flow: %w", err)
	}
	jsonBytes, err := json.Marshal(flow)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}

func tenantFromURI(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, "tendril://tenants/")
	if !ok {
		return "", false
	}
	tenant, ok := strings.CutSuffix(rest, "/flow")
	if !ok || tenant == "" || strings.Contains(tenant, "/") {
		return "", false
	}
	return tenant, true
}
