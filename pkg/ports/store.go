package ports

import (
	"context"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
)

// FlowStore resolves published flows.
type FlowStore interface {
	// GetActiveFlow returns the newest active default flow of a tenant.
	// An empty filter category matches any category.
	// Returns domain.ErrFlowNotFound when nothing matches.
	GetActiveFlow(ctx context.Context, tenantID string, filter domain.FlowFilter) (*domain.Flow, error)
}

// FlowPublisher is implemented by flow stores that accept new versions.
type FlowPublisher interface {
	// Publish stores flow as the next version of (tenant, name) and returns the
	// stored copy. When flow is Default, every other flow of the same
	// (tenant, category) loses its default flag.
	Publish(ctx context.Context, flow *domain.Flow) (*domain.Flow, error)
}

// SessionStore defines the persistence contract for sessions.
// Every call is scoped by tenant; a session is never visible to another tenant.
type SessionStore interface {
	// GetOrCreate returns the open session of (tenant, channel, phone), creating a
	// fresh INITIATED one with expires_at = now + ttl when none exists.
	// Open means status INITIATED or ACTIVE, even when the TTL has elapsed.
	GetOrCreate(ctx context.Context, tenantID, channelID, phone string, ttl time.Duration) (*domain.Session, error)

	// Latest returns the newest session of (tenant, channel, phone) in any
	// status, so a redelivered event can be matched against a session that
	// already ended. Returns domain.ErrSessionNotFound when there is none.
	Latest(ctx context.Context, tenantID, channelID, phone string) (*domain.Session, error)

	// CompareAndSetTouch atomically sets last_activity to next only if it
	// currently equals expected. It returns false when another writer won.
	CompareAndSetTouch(ctx context.Context, tenantID, sessionID string, expected, next time.Time) (bool, error)

	// Checkpoint persists the per-step state. It never changes last_activity.
	Checkpoint(ctx context.Context, tenantID, sessionID string, cp domain.Checkpoint) error

	// Close marks the session COMPLETED with stage CLOSED.
	Close(ctx context.Context, tenantID, sessionID string) error

	// Expire marks the session EXPIRED.
	Expire(ctx context.Context, tenantID, sessionID string) error

	// Get loads a session snapshot.
	// Returns domain.ErrSessionNotFound if it does not exist for the tenant.
	Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error)
}

// SessionPurger is implemented by stores that support retention cleanup.
type SessionPurger interface {
	// PurgeBefore deletes every session whose expires_at is before cutoff and
	// returns how many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ConfigProvider supplies per-tenant configuration.
type ConfigProvider interface {
	// GetConfigMap returns the tenant config. Unknown tenants yield an empty map.
	GetConfigMap(ctx context.Context, tenantID string) (map[string]any, error)
}

// ActionRouter executes named menu actions.
type ActionRouter interface {
	// Handle returns the reply text. It never fails; failures become a fallback reply.
	Handle(ctx context.Context, req domain.ActionRequest) string
}
