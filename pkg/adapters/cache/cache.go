// Package cache provides a read-through cache in front of any ports.FlowStore.
//
// Published flows are immutable, so a cached *domain.Flow can be shared
// between concurrent Trigger calls. Only hits are cached; a tenant without a
// flow is asked again on every call.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	c "github.com/patrickmn/go-cache"
)

// DefaultTTL is how long a resolved flow is served from memory.
const DefaultTTL = time.Minute

// ErrReadOnly is returned by Publish when the wrapped store cannot publish.
var ErrReadOnly = errors.New("flow store does not accept publishing")

// FlowStore wraps a FlowStore with an in-process TTL cache.
type FlowStore struct {
	next  ports.FlowStore
	cache *c.Cache
}

// NewFlowStore wraps next. A non-positive ttl selects DefaultTTL.
func NewFlowStore(next ports.FlowStore, ttl time.Duration) *FlowStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FlowStore{
		next:  next,
		cache: c.New(ttl, 2*ttl),
	}
}

func key(tenantID string, filter domain.FlowFilter) string {
	return tenantID + "\x00" + filter.Category
}

// GetActiveFlow serves from cache or falls through to the wrapped store.
func (s *FlowStore) GetActiveFlow(ctx context.Context, tenantID string, filter domain.FlowFilter) (*domain.Flow, error) {
	k := key(tenantID, filter)
	if v, found := s.cache.Get(k); found {
		return v.(*domain.Flow), nil
	}

	flow, err := s.next.GetActiveFlow(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(k, flow)
	return flow, nil
}

// Publish delegates to the wrapped store and drops the tenant's cached entries.
func (s *FlowStore) Publish(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	pub, ok := s.next.(ports.FlowPublisher)
	if !ok {
		return nil, ErrReadOnly
	}
	out, err := pub.Publish(ctx, flow)
	if err != nil {
		return nil, err
	}
	s.Invalidate(out.TenantID)
	return out, nil
}

// Invalidate evicts every cached flow of the tenant.
func (s *FlowStore) Invalidate(tenantID string) {
	prefix := tenantID + "\x00"
	for k := range s.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Delete(k)
		}
	}
}

// Flush evicts everything.
func (s *FlowStore) Flush() {
	s.cache.Flush()
}
