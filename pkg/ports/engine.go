package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// Triggerer is the primary interface used by inbound adapters (HTTP, MCP, CLI).
// Each call is one tick; implementations are safe for concurrent use.
type Triggerer interface {
	// Trigger interprets one inbound event against the tenant's active flow.
	Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerResult, error)

	// Inspect returns the tenant's active flow for introspection.
	Inspect(ctx context.Context, tenantID string) (*domain.Flow, error)
}
