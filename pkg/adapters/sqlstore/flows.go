package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
)

// GetActiveFlow returns the highest version active default flow of the tenant.
func (s *Store) GetActiveFlow(ctx context.Context, tenantID string, filter domain.FlowFilter) (*domain.Flow, error) {
	query := `SELECT id, version, active, is_default, definition FROM tendril_flows
		WHERE tenant_id = ? AND active = ? AND is_default = ?`
	args := []any{tenantID, true, true}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY version DESC LIMIT 1`

	var (
		id, definition    string
		version           int
		active, isDefault bool
	)
	err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&id, &version, &active, &isDefault, &definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active flow: %w", err)
	}

	var flow domain.Flow
	if err := json.Unmarshal([]byte(definition), &flow); err != nil {
		return nil, fmt.Errorf("failed to decode flow %s: %w", id, err)
	}
	// columns are authoritative; demotion only rewrites is_default
	flow.ID = id
	flow.Version = version
	flow.Active = active
	flow.Default = isDefault
	return &flow, nil
}

// Publish inserts the next version of (tenant, name) and demotes the previous
// default of the same category in one transaction.
func (s *Store) Publish(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	if flow == nil || flow.TenantID == "" {
		return nil, &domain.FlowDefinitionError{Reason: "flow must belong to a tenant"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin publish: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.flowHeaders(ctx, tx, flow.TenantID)
	if err != nil {
		return nil, err
	}
	plan := domain.PlanPublish(existing, flow, uuid.NewString)

	for _, d := range plan.Demoted {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE tendril_flows SET is_default = ? WHERE id = ?`), false, d.ID); err != nil {
			return nil, fmt.Errorf("failed to demote flow %s: %w", d.ID, err)
		}
	}

	definition, err := json.Marshal(plan.Flow)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO tendril_flows
		(id, tenant_id, name, category, version, active, is_default, definition, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		plan.Flow.ID, plan.Flow.TenantID, plan.Flow.Name, plan.Flow.Category, plan.Flow.Version,
		plan.Flow.Active, plan.Flow.Default, string(definition), toNanos(s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to insert flow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit publish: %w", err)
	}
	return plan.Flow, nil
}

// flowHeaders loads the versioning columns of every flow of the tenant.
func (s *Store) flowHeaders(ctx context.Context, tx *sql.Tx, tenantID string) ([]*domain.Flow, error) {
	rows, err := tx.QueryContext(ctx, s.q(`SELECT id, name, category, version, active, is_default
		FROM tendril_flows WHERE tenant_id = ?`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []*domain.Flow
	for rows.Next() {
		f := &domain.Flow{TenantID: tenantID}
		if err := rows.Scan(&f.ID, &f.Name, &f.Category, &f.Version, &f.Active, &f.Default); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}
