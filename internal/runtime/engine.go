package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/actions"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/session"
)

// DefaultMaxStepsPerTick bounds the work of a single Trigger call.
const DefaultMaxStepsPerTick = 50

// Engine is the core conversation runner. It is stateless between calls;
// all conversation state lives in the SessionStore.
type Engine struct {
	flows    ports.FlowStore
	sessions *session.Manager
	config   ports.ConfigProvider
	router   ports.ActionRouter

	maxSteps int
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithMaxStepsPerTick overrides the step budget.
func WithMaxStepsPerTick(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithSessionTTL overrides the idle session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithConfigProvider supplies the tenant config exposed as config.*.
func WithConfigProvider(p ports.ConfigProvider) Option {
	return func(e *Engine) { e.config = p }
}

// WithActionRouter sets the router used for menu actions.
func WithActionRouter(r ports.ActionRouter) Option {
	return func(e *Engine) {
		if r != nil {
			e.router = r
		}
	}
}

// NewEngine creates a new engine with dependencies.
func NewEngine(flows ports.FlowStore, sessions ports.SessionStore, opts ...Option) *Engine {
	e := &Engine{
		flows:    flows,
		maxSteps: DefaultMaxStepsPerTick,
		ttl:      session.DefaultTTL,
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.router == nil {
		e.router = actions.NewDefaultRegistry(actions.WithLogger(e.logger))
	}
	e.router = actions.Safe(e.router)
	e.sessions = session.NewManager(sessions,
		session.WithTTL(e.ttl),
		session.WithClock(e.now),
		session.WithLogger(e.logger),
	)
	return e
}

// MaxStepsPerTick returns the configured step budget.
func (e *Engine) MaxStepsPerTick() int { return e.maxSteps }

// Inspect returns the tenant's active flow for introspection.
func (e *Engine) Inspect(ctx context.Context, tenantID string) (*domain.Flow, error) {
	return e.loadFlow(ctx, tenantID, "")
}

// Trigger processes one inbound event:
// load flow, open session, check expiry and idempotency, claim the session
// through the last_activity compare-and-set, then run the bounded step loop,
// checkpointing after every step.
func (e *Engine) Trigger(ctx context.Context, req domain.TriggerRequest) (res *domain.TriggerResult, err error) {
	log := e.logger.With(
		"tenant_id", req.TenantID,
		"channel_id", req.ChannelID,
		"phone", logging.MaskPhone(req.Phone),
	)
	var sessionID string
	defer func() {
		if err != nil {
			e.reportError(ctx, log, req.TenantID, sessionID, err)
		}
	}()

	if req.TenantID == "" || req.ChannelID == "" || req.Phone == "" {
		return nil, fmt.Errorf("%w: tenant, channel and phone are required", domain.ErrInvalidEvent)
	}

	// 1. Flow
	flow, err := e.loadFlow(ctx, req.TenantID, req.Category)
	if err != nil {
		return nil, err
	}

	// A redelivery of the event that ended the previous session
	prev, err := e.sessions.Replayed(ctx, req.TenantID, req.ChannelID, req.Phone, req.EventID)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		log.Debug("Duplicate event skipped", "event_id", req.EventID, "session_id", prev.ID, "status", prev.Status)
		e.emitSkip(ctx, req.TenantID, prev.ID)
		return skipped(prev.ID), nil
	}

	// 2-3. Session (expiry is enforced by the manager)
	sess, err := e.sessions.Open(ctx, req.TenantID, req.ChannelID, req.Phone)
	if err != nil {
		var expired *domain.SessionExpiredError
		if errors.As(err, &expired) {
			sessionID = expired.SessionID
		}
		return nil, err
	}
	sessionID = sess.ID
	log = log.With("session_id", sess.ID)

	// 4. Idempotency on the last processed event only
	if req.EventID != "" && req.EventID == sess.LastEventID {
		log.Debug("Duplicate event skipped", "event_id", req.EventID)
		e.emitSkip(ctx, req.TenantID, sess.ID)
		return skipped(sess.ID), nil
	}

	// 5. Optimistic claim, no retry
	if err := e.sessions.Touch(ctx, sess); err != nil {
		return nil, err
	}

	cfg, err := e.loadConfig(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	e.emitTrigger(ctx, req, sess.ID, flow.ID)

	// 6-7. Step loop
	t := newTick(e, req, flow, sess, cfg, log)
	if err := t.run(ctx); err != nil {
		return nil, err
	}

	return &domain.TriggerResult{
		SessionID: sess.ID,
		Outbound:  t.outbound,
		Actions:   t.actions,
		Ended:     t.ended,
	}, nil
}

func skipped(sessionID string) *domain.TriggerResult {
	return &domain.TriggerResult{
		SessionID: sessionID,
		Outbound:  []domain.OutboundAction{},
		Actions:   []domain.OutboundAction{},
		Skipped:   true,
	}
}

// loadFlow resolves the active flow, retrying without the category filter
// before giving up.
func (e *Engine) loadFlow(ctx context.Context, tenantID, category string) (*domain.Flow, error) {
	flow, err := e.flows.GetActiveFlow(ctx, tenantID, domain.FlowFilter{Category: category})
	if errors.Is(err, domain.ErrFlowNotFound) && category != "" {
		flow, err = e.flows.GetActiveFlow(ctx, tenantID, domain.FlowFilter{})
	}
	if errors.Is(err, domain.ErrFlowNotFound) {
		return nil, &domain.FlowDefinitionError{Reason: fmt.Sprintf("no active default flow for tenant %s", tenantID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	if _, ok := flow.Node(flow.StartNodeID); !ok {
		return nil, &domain.FlowDefinitionError{FlowID: flow.ID, NodeID: flow.StartNodeID, Reason: "start node not found"}
	}
	return flow, nil
}

func (e *Engine) loadConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	if e.config == nil {
		return map[string]any{}, nil
	}
	cfg, err := e.config.GetConfigMap(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant config: %w", err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

func (e *Engine) reportError(ctx context.Context, log *slog.Logger, tenantID, sessionID string, err error) {
	switch {
	case errors.Is(err, domain.ErrOptimisticLock), errors.Is(err, domain.ErrSessionExpired):
		log.Warn("Trigger rejected", "err", err)
	default:
		log.Error("Trigger failed", "err", err)
	}
	if e.hooks.OnError != nil {
		e.hooks.OnError(ctx, &domain.ErrorEvent{
			EventBase: e.eventBase(domain.EventError, tenantID, sessionID),
			Err:       err,
		})
	}
}
