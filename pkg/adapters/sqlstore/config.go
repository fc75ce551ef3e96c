package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetConfigMap returns the tenant_configurations rows of the tenant.
// Values are JSON; a value that fails to decode is returned as a string.
func (s *Store) GetConfigMap(ctx context.Context, tenantID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT config_key, value FROM tendril_tenant_configurations
		WHERE tenant_id = ?`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query config: %w", err)
	}
	defer rows.Close()

	cfg := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		cfg[key] = v
	}
	return cfg, rows.Err()
}

// SetConfig upserts the given keys.
func (s *Store) SetConfig(ctx context.Context, tenantID string, values map[string]any) error {
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode config %s: %w", k, err)
		}
		_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO tendril_tenant_configurations (tenant_id, config_key, value)
			VALUES (?, ?, ?)
			ON CONFLICT (tenant_id, config_key) DO UPDATE SET value = excluded.value`),
			tenantID, k, string(data))
		if err != nil {
			return fmt.Errorf("failed to save config %s: %w", k, err)
		}
	}
	return nil
}
