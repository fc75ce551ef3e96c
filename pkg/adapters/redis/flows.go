package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// FlowStore implements ports.FlowStore and ports.FlowPublisher on a per-tenant HASH.
type FlowStore struct {
	client *backend.Client
	opts   options
}

// NewFlowStore creates a flow store from an existing client.
func NewFlowStore(client *backend.Client, opts ...Option) *FlowStore {
	return &FlowStore{client: client, opts: newOptions(opts)}
}

func (f *FlowStore) key(tenantID string) string {
	return f.opts.prefix + tenantID + ":flows"
}

// GetActiveFlow returns the highest version active default flow of the tenant.
func (f *FlowStore) GetActiveFlow(ctx context.Context, tenantID string, filter domain.FlowFilter) (*domain.Flow, error) {
	flows, err := f.list(ctx, f.client, tenantID)
	if err != nil {
		return nil, err
	}
	best := domain.SelectActive(flows, filter)
	if best == nil {
		return nil, domain.ErrFlowNotFound
	}
	return best, nil
}

// Publish stores the next version of (tenant, name) and demotes the previous
// default of the same category in one transaction.
func (f *FlowStore) Publish(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	if flow == nil || flow.TenantID == "" {
		return nil, &domain.FlowDefinitionError{Reason: "flow must belong to a tenant"}
	}
	key := f.key(flow.TenantID)
	var published *domain.Flow

	txf := func(tx *backend.Tx) error {
		existing, err := f.list(ctx, tx, flow.TenantID)
		if err != nil {
			return err
		}
		plan := domain.PlanPublish(existing, flow, uuid.NewString)

		args := []any{}
		for _, fl := range append(plan.Demoted, plan.Flow) {
			data, err := json.Marshal(fl)
			if err != nil {
				return fmt.Errorf("failed to marshal flow: %w", err)
			}
			args = append(args, fl.ID, string(data))
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.HSet(ctx, key, args...)
			return nil
		})
		if err != nil {
			return err
		}
		published = plan.Flow
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := f.client.Watch(ctx, txf, key)
		if err == backend.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to publish flow: %w", err)
		}
		return published, nil
	}
	return nil, fmt.Errorf("failed to publish flow: %w", backend.TxFailedErr)
}

type hashValues interface {
	HVals(ctx context.Context, key string) *backend.StringSliceCmd
}

func (f *FlowStore) list(ctx context.Context, cmd hashValues, tenantID string) ([]*domain.Flow, error) {
	vals, err := cmd.HVals(ctx, f.key(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list flows from redis: %w", err)
	}
	flows := make([]*domain.Flow, 0, len(vals))
	for _, raw := range vals {
		var fl domain.Flow
		if err := json.Unmarshal([]byte(raw), &fl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
		}
		flows = append(flows, &fl)
	}
	return flows, nil
}
