package memory

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// ConfigStore implements ports.ConfigProvider with static per-tenant maps.
type ConfigStore struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewConfigStore creates a provider seeded with data (may be nil).
func NewConfigStore(data map[string]map[string]any) *ConfigStore {
	c := &ConfigStore{data: make(map[string]map[string]any)}
	for tenant, cfg := range data {
		c.data[tenant] = domain.CloneVars(cfg)
	}
	return c
}

// Set replaces the config of a tenant.
func (c *ConfigStore) Set(tenantID string, cfg map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[tenantID] = domain.CloneVars(cfg)
}

// GetConfigMap returns a copy of the tenant config; unknown tenants get an empty map.
func (c *ConfigStore) GetConfigMap(ctx context.Context, tenantID string) (map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.CloneVars(c.data[tenantID]), nil
}
