package middleware_test

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// MockStore records the raw checkpoints reaching the underlying store.
// It embeds only the SessionStore interface, so it cannot purge.
type MockStore struct {
	ports.SessionStore

	mu          sync.Mutex
	checkpoints []domain.Checkpoint
}

func NewMockStore() *MockStore {
	return &MockStore{SessionStore: memory.NewStore()}
}

func (s *MockStore) Checkpoint(ctx context.Context, tenantID, sessionID string, cp domain.Checkpoint) error {
	s.mu.Lock()
	s.checkpoints = append(s.checkpoints, cp)
	s.mu.Unlock()
	return s.SessionStore.Checkpoint(ctx, tenantID, sessionID, cp)
}

func (s *MockStore) Last() domain.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[len(s.checkpoints)-1]
}

var _ ports.SessionStore = (*MockStore)(nil)
