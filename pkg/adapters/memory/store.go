package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Session // keyed by session id
	seq  map[string]uint64          // creation order, keyed by session id
	next uint64
	mu   sync.RWMutex
	now  func() time.Time
}

// StoreOption configures the Store.
type StoreOption func(*Store)

// WithClock injects the time source used for new sessions.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new in-memory store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		data: make(map[string]*domain.Session),
		seq:  make(map[string]uint64),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the newest open session for the conversation or creates one.
func (s *Store) GetOrCreate(ctx context.Context, tenantID, channelID, phone string, ttl time.Duration) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *domain.Session
	for _, sess := range s.data {
		if sess.TenantID != tenantID || sess.ChannelID != channelID || sess.PhoneNumber != phone {
			continue
		}
		if !sess.Status.Open() {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			found = sess
		}
	}
	if found != nil {
		return found.Clone(), nil
	}

	sess := domain.NewSession(uuid.NewString(), tenantID, channelID, phone, s.now().UTC(), ttl)
	s.data[sess.ID] = sess
	s.next++
	s.seq[sess.ID] = s.next
	return sess.Clone(), nil
}

// Latest returns the most recently created session of the conversation in
// any status.
func (s *Store) Latest(ctx context.Context, tenantID, channelID, phone string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Session
	for id, sess := range s.data {
		if sess.TenantID != tenantID || sess.ChannelID != channelID || sess.PhoneNumber != phone {
			continue
		}
		if found == nil || s.seq[id] > s.seq[found.ID] {
			found = sess
		}
	}
	if found == nil {
		return nil, domain.ErrSessionNotFound
	}
	return found.Clone(), nil
}

// CompareAndSetTouch advances last_activity when it still equals expected.
func (s *Store) CompareAndSetTouch(ctx context.Context, tenantID, sessionID string, expected, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return false, err
	}
	if !sess.LastActivity.Equal(expected) {
		return false, nil
	}
	sess.LastActivity = next
	return true, nil
}

// Checkpoint persists the per-step fields.
func (s *Store) Checkpoint(ctx context.Context, tenantID, sessionID string, cp domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return err
	}
	cp.Apply(sess)
	return nil
}

// Close marks the session COMPLETED / CLOSED.
func (s *Store) Close(ctx context.Context, tenantID, sessionID string) error {
	return s.setStatus(tenantID, sessionID, domain.StatusCompleted, domain.StageClosed)
}

// Expire marks the session EXPIRED.
func (s *Store) Expire(ctx context.Context, tenantID, sessionID string) error {
	return s.setStatus(tenantID, sessionID, domain.StatusExpired, domain.StageExpired)
}

func (s *Store) setStatus(tenantID, sessionID string, status domain.SessionStatus, stage domain.SessionStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return err
	}
	sess.Status = status
	sess.Stage = stage
	return nil
}

// Get returns a copy so callers can't mutate store state directly by pointer.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// PurgeBefore drops sessions whose expires_at is before cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.data {
		if sess.ExpiresAt.Before(cutoff) {
			delete(s.data, id)
			delete(s.seq, id)
			n++
		}
	}
	return n, nil
}

// List returns the session IDs of a tenant in creation order.
func (s *Store) List(ctx context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*domain.Session
	for _, sess := range s.data {
		if sess.TenantID == tenantID {
			sessions = append(sessions, sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })

	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	return ids, nil
}

// lookup must be called with the lock held.
func (s *Store) lookup(tenantID, sessionID string) (*domain.Session, error) {
	sess, ok := s.data[sessionID]
	if !ok || sess.TenantID != tenantID {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}
