package redis

import (
	"context"
	"encoding/json"
	"fmt"

	backend "github.com/redis/go-redis/v9"
)

// ConfigStore implements ports.ConfigProvider on a per-tenant HASH.
// Values are stored as JSON; values that are not valid JSON are read as strings.
type ConfigStore struct {
	client *backend.Client
	opts   options
}

// NewConfigStore creates a config provider from an existing client.
func NewConfigStore(client *backend.Client, opts ...Option) *ConfigStore {
	return &ConfigStore{client: client, opts: newOptions(opts)}
}

func (c *ConfigStore) key(tenantID string) string {
	return c.opts.prefix + tenantID + ":config"
}

// GetConfigMap returns the tenant config, empty when none is stored.
func (c *ConfigStore) GetConfigMap(ctx context.Context, tenantID string) (map[string]any, error) {
	fields, err := c.client.HGetAll(ctx, c.key(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get config from redis: %w", err)
	}
	cfg := make(map[string]any, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		cfg[k] = v
	}
	return cfg, nil
}

// Set stores the given keys, leaving the others in place.
func (c *ConfigStore) Set(ctx context.Context, tenantID string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal config %s: %w", k, err)
		}
		args = append(args, k, string(data))
	}
	if err := c.client.HSet(ctx, c.key(tenantID), args...).Err(); err != nil {
		return fmt.Errorf("failed to save config to redis: %w", err)
	}
	return nil
}
