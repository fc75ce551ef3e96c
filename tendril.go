package tendril

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/internal/validator"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Engine is the high-level entry point for the Tendril library.
// It wraps the internal runtime and provides a simplified API for consumers.
type Engine struct {
	runtime     *runtime.Engine
	flows       ports.FlowStore
	sessions    ports.SessionStore
	seed        []*domain.Flow
	runtimeOpts []runtime.Option
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithFlowStore injects the store the active flows are read from.
func WithFlowStore(s ports.FlowStore) Option {
	return func(e *Engine) {
		e.flows = s
	}
}

// WithFlows publishes flows into an in-memory flow store.
// It is ignored when WithFlowStore is also given.
func WithFlows(flows ...*domain.Flow) Option {
	return func(e *Engine) {
		e.seed = append(e.seed, flows...)
	}
}

// WithSessionStore injects the session store (default: in-memory).
func WithSessionStore(s ports.SessionStore) Option {
	return func(e *Engine) {
		e.sessions = s
	}
}

// WithConfigProvider supplies per-tenant config exposed to flows as config.*.
func WithConfigProvider(p ports.ConfigProvider) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithConfigProvider(p))
	}
}

// WithActionRouter sets the router used by menu options with an action.
func WithActionRouter(r ports.ActionRouter) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithActionRouter(r))
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxStepsPerTick bounds the nodes evaluated per event.
func WithMaxStepsPerTick(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithMaxStepsPerTick(n))
	}
}

// WithSessionTTL sets the idle lifetime of sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithSessionTTL(ttl))
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithClock(now))
	}
}

// New initializes a new Tendril Engine.
// Without explicit stores it runs entirely in memory.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	// Ensure logger is initialized (so we don't pass nil to runtime, which would overwrite its default)
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}

	if eng.flows == nil {
		store, err := memory.NewFlowStore(eng.seed...)
		if err != nil {
			return nil, fmt.Errorf("failed to seed flows: %w", err)
		}
		eng.flows = store
	}
	if eng.sessions == nil {
		eng.sessions = memory.NewStore()
	}

	runtimeOpts := []runtime.Option{
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLogger(eng.logger),
	}
	runtimeOpts = append(runtimeOpts, eng.runtimeOpts...)

	eng.runtime = runtime.NewEngine(eng.flows, eng.sessions, runtimeOpts...)
	return eng, nil
}

// Trigger processes one inbound event and returns the outbound actions.
func (e *Engine) Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerResult, error) {
	return e.runtime.Trigger(ctx, req)
}

// Inspect returns the tenant's active flow for visualization or introspection tools.
func (e *Engine) Inspect(ctx context.Context, tenantID string) (*domain.Flow, error) {
	return e.runtime.Inspect(ctx, tenantID)
}

// Publish validates a flow and stores it as the next version.
// It fails when the configured flow store is read-only.
func (e *Engine) Publish(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	pub, ok := e.flows.(ports.FlowPublisher)
	if !ok {
		return nil, fmt.Errorf("flow store %T does not support publishing", e.flows)
	}
	if err := validator.ValidateFlow(flow); err != nil {
		return nil, err
	}
	return pub.Publish(ctx, flow)
}

// Sessions returns the underlying session store.
func (e *Engine) Sessions() ports.SessionStore {
	return e.sessions
}

// MaxStepsPerTick returns the effective step budget.
func (e *Engine) MaxStepsPerTick() int {
	return e.runtime.MaxStepsPerTick()
}

// ParseFlow compiles a YAML or JSON flow definition and validates it.
func ParseFlow(data []byte) (*domain.Flow, error) {
	flow, err := compiler.NewParser().Parse(data)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateFlow(flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// LoadFlowFile reads and compiles a flow definition from disk.
func LoadFlowFile(path string) (*domain.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow %s: %w", path, err)
	}
	return ParseFlow(data)
}
