// Package actions provides the menu ActionRouter: a registry of named,
// side-effect free handlers that turn a menu selection into reply text.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
)

// FallbackReply is returned for unknown or failing actions.
const FallbackReply = "Action is currently unavailable. Please choose another option."

// ActionFunc defines the signature for an action implementation.
// It receives the request (tenant, session vars, tenant config) and returns the reply.
type ActionFunc func(ctx context.Context, req domain.ActionRequest) (string, error)

// Registry manages the available actions and implements ports.ActionRouter.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
	logger  *slog.Logger
}

// Option configures the Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report absorbed failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a new empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		actions: make(map[string]ActionFunc),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an action to the registry. Names are case-insensitive.
// If an action with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[normalize(name)] = fn
}

// Names lists the registered action names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute looks up an action by name and runs it.
// Returns an error if the action is not found or panics.
func (r *Registry) Execute(ctx context.Context, req domain.ActionRequest) (reply string, err error) {
	r.mu.RLock()
	fn, ok := r.actions[normalize(req.Action)]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("action not found: %s", req.Action)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action %s panicked: %v", req.Action, rec)
		}
	}()
	return fn(ctx, req)
}

// Handle implements ports.ActionRouter. Failures never propagate; they become FallbackReply.
func (r *Registry) Handle(ctx context.Context, req domain.ActionRequest) string {
	reply, err := r.Execute(ctx, req)
	if err != nil {
		r.logger.Warn("Action failed",
			"tenant_id", req.TenantID,
			"session_id", req.SessionID,
			"action", req.Action,
			"err", err,
		)
		return FallbackReply
	}
	if isBlank(reply) {
		return FallbackReply
	}
	return reply
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
