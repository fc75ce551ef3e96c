package memory

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
)

// FlowStore implements ports.FlowStore and ports.FlowPublisher in memory.
// Published flows are immutable; readers share them freely.
type FlowStore struct {
	mu    sync.RWMutex
	flows map[string][]*domain.Flow // keyed by tenant id
}

// NewFlowStore creates a store, publishing the given flows in order.
func NewFlowStore(flows ...*domain.Flow) (*FlowStore, error) {
	s := &FlowStore{flows: make(map[string][]*domain.Flow)}
	for _, f := range flows {
		if _, err := s.Publish(context.Background(), f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GetActiveFlow returns the highest version active default flow of the tenant.
func (s *FlowStore) GetActiveFlow(ctx context.Context, tenantID string, filter domain.FlowFilter) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := domain.SelectActive(s.flows[tenantID], filter)
	if best == nil {
		return nil, domain.ErrFlowNotFound
	}
	return best, nil
}

// Publish stores the next version of (tenant, name) and returns a copy.
func (s *FlowStore) Publish(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	if flow == nil || flow.TenantID == "" {
		return nil, &domain.FlowDefinitionError{Reason: "flow must belong to a tenant"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.flows[flow.TenantID]
	plan := domain.PlanPublish(list, flow, uuid.NewString)
	for _, d := range plan.Demoted {
		for i, f := range list {
			if f.ID == d.ID {
				list[i] = d
			}
		}
	}
	s.flows[flow.TenantID] = append(list, plan.Flow)
	return plan.Flow.Clone(), nil
}

// List returns every flow of a tenant in publish order.
func (s *FlowStore) List(ctx context.Context, tenantID string) []*domain.Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.Flow(nil), s.flows[tenantID]...)
}
