package cache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/cache"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	ports.FlowStore
	calls atomic.Int32
}

func (s *countingStore) GetActiveFlow(ctx context.Context, tenantID string, filter domain.FlowFilter) (*domain.Flow, error) {
	s.calls.Add(1)
	return s.FlowStore.GetActiveFlow(ctx, tenantID, filter)
}

func flow(tenant string) *domain.Flow {
	return &domain.Flow{
		TenantID:    tenant,
		Name:        "welcome",
		Active:      true,
		Default:     true,
		StartNodeID: "start",
		Nodes: map[string]*domain.Node{
			"start": {ID: "start", Type: domain.NodeStart, Next: "bye"},
			"bye":   {ID: "bye", Type: domain.NodeEnd},
		},
	}
}

func TestFlowStore_Contract(t *testing.T) {
	inner, err := memory.NewFlowStore()
	require.NoError(t, err)
	ports.RunFlowStoreContract(t, cache.NewFlowStore(inner, time.Minute))
}

func TestFlowStore_CachesHits(t *testing.T) {
	inner, err := memory.NewFlowStore(flow("acme"))
	require.NoError(t, err)
	counting := &countingStore{FlowStore: inner}
	store := cache.NewFlowStore(counting, time.Minute)
	ctx := context.Background()

	first, err := store.GetActiveFlow(ctx, "acme", domain.FlowFilter{})
	require.NoError(t, err)
	second, err := store.GetActiveFlow(ctx, "acme", domain.FlowFilter{})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), counting.calls.Load())

	_, err = store.GetActiveFlow(ctx, "acme", domain.FlowFilter{Category: "clinic"})
	assert.ErrorIs(t, err, domain.ErrFlowNotFound)
	_, err = store.GetActiveFlow(ctx, "acme", domain.FlowFilter{Category: "clinic"})
	assert.ErrorIs(t, err, domain.ErrFlowNotFound)
	assert.Equal(t, int32(3), counting.calls.Load(), "misses are not cached")
}

func TestFlowStore_PublishInvalidates(t *testing.T) {
	inner, err := memory.NewFlowStore(flow("acme"))
	require.NoError(t, err)
	store := cache.NewFlowStore(inner, time.Hour)
	ctx := context.Background()

	v1, err := store.GetActiveFlow(ctx, "acme", domain.FlowFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, v1.Version)

	_, err = store.Publish(ctx, flow("acme"))
	require.NoError(t, err)

	v2, err := store.GetActiveFlow(ctx, "acme", domain.FlowFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
}

func TestFlowStore_ReadOnly(t *testing.T) {
	inner, err := memory.NewFlowStore()
	require.NoError(t, err)
	store := cache.NewFlowStore(&countingStore{FlowStore: inner}, 0)

	_, err = store.Publish(context.Background(), flow("acme"))
	assert.ErrorIs(t, err, cache.ErrReadOnly)
}
