// Package http exposes the engine as a multi-tenant webhook API.
//
// Routes:
//
//	GET  /healthz
//	GET  /metrics                                         (WithMetrics)
//	POST /v1/tenants/{tenantID}/channels/{channelID}/events
//	GET  /v1/tenants/{tenantID}/flow
//	POST /v1/tenants/{tenantID}/flows
//	GET  /v1/tenants/{tenantID}/sessions/{sessionID}
//	GET  /v1/tenants/{tenantID}/sessions/{sessionID}/events (SSE, WithStreams)
//
// With WithJWTSecret every /v1 route requires a bearer token whose
// tenant_id claim equals the tenant in the path.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/sanitize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// Engine is the part of tendril.Engine the transport needs.
type Engine interface {
	Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerResult, error)
	Inspect(ctx context.Context, tenantID string) (*domain.Flow, error)
	Publish(ctx context.Context, flow *domain.Flow) (*domain.Flow, error)
	Sessions() ports.SessionStore
}

// Server holds the handler dependencies.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	secret   []byte
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithJWTSecret enables HS256 bearer authentication.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithStreams enables the session SSE endpoint. The same manager's Hooks
// must be registered on the engine.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) { s.Streams = sm }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{Engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.GetHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/channels/{channelID}/events", s.PostEvent)
		r.Get("/flow", s.GetFlow)
		r.Post("/flows", s.PostFlow)
		r.Get("/sessions/{sessionID}", s.GetSession)
		if s.Streams != nil {
			r.Get("/sessions/{sessionID}/events", s.SubscribeSession)
		}
	})
	return r
}

// EventRequest is the inbound webhook body.
type EventRequest struct {
	Phone    string         `json:"phone"`
	Text     string         `json:"text,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	EventID  string         `json:"event_id,omitempty"`
	Category string         `json:"category,omitempty"`
}

// ErrorResponse is returned with every non-2xx status. Outbound carries a
// reply the host may deliver to the user in place of the flow's answer.
type ErrorResponse struct {
	Error    string                  `json:"error"`
	Message  string                  `json:"message,omitempty"`
	Outbound []domain.OutboundAction `json:"outbound,omitempty"`
}

// PostEvent handles POST /v1/tenants/{tenantID}/channels/{channelID}/events.
func (s *Server) PostEvent(w http.ResponseWriter, r *http.Request) {
	var body EventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", nil)
		s.logger.Warn("PostEvent: Invalid request body", "err", err)
		return
	}

	payload, err := sanitize.Payload(body.Payload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_payload", nil)
		s.logger.Warn("PostEvent: Payload rejected", "err", err)
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if body.Text != "" {
		text, err := sanitize.Text(body.Text)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_text", nil)
			s.logger.Warn("PostEvent: Input rejected", "err", err, "size", len(body.Text))
			return
		}
		payload["text"] = text
	}

	req := domain.TriggerRequest{
		TenantID:  chi.URLParam(r, "tenantID"),
		ChannelID: chi.URLParam(r, "channelID"),
		Phone:     strings.TrimSpace(body.Phone),
		Payload:   payload,
		EventID:   body.EventID,
		Category:  body.Category,
	}

	res, err := s.Engine.Trigger(r.Context(), req)
	if err != nil {
		status, reply := Classify(err)
		var outbound []domain.OutboundAction
		if reply != "" && req.Phone != "" {
			outbound = []domain.OutboundAction{domain.SendMessage(req.Phone, reply)}
		}
		s.writeError(w, status, string(domain.KindOf(err)), outbound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetFlow handles GET /v1/tenants/{tenantID}/flow.
func (s *Server) GetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.Engine.Inspect(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		status, _ := Classify(err)
		if errors.Is(err, domain.ErrFlowDefinition) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, string(domain.KindOf(err)), nil)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// PostFlow handles POST /v1/tenants/{tenantID}/flows with a YAML or JSON
// definition. The flow belongs to the path tenant.
func (s *Server) PostFlow(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", nil)
		return
	}

	flow, err := compiler.NewParser().Parse(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_flow", Message: err.Error()})
		return
	}
	if flow.TenantID != "" && flow.TenantID != tenantID {
		s.writeError(w, http.StatusForbidden, "tenant_mismatch", nil)
		return
	}
	flow.TenantID = tenantID

	out, err := s.Engine.Publish(r.Context(), flow)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrFlowDefinition) {
			status = http.StatusUnprocessableEntity
		}
		s.logger.Warn("PostFlow: Publish failed", "tenant_id", tenantID, "err", err)
		resp := ErrorResponse{Error: string(domain.KindOf(err))}
		if status == http.StatusUnprocessableEntity {
			resp.Message = err.Error()
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetSession handles GET /v1/tenants/{tenantID}/sessions/{sessionID}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Engine.Sessions().Get(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "sessionID"))
	if errors.Is(err, domain.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "session_not_found", nil)
		return
	}
	if err != nil {
		s.logger.Error("GetSession failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, string(domain.KindInternal), nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetHealth handles the GET /healthz request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, outbound []domain.OutboundAction) {
	writeJSON(w, status, ErrorResponse{Error: code, Outbound: outbound})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
