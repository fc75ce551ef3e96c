package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// DefaultTTL is the idle lifetime of a session.
const DefaultTTL = 30 * time.Minute

// Manager orchestrates session access over a SessionStore.
// It is safe for concurrent use; all shared state lives in the store.
type Manager struct {
	store  ports.SessionStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger // Logger for internal events (like expirations)
}

// Option configures the Manager.
type Option func(*Manager)

// WithTTL overrides the session TTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Session Manager with the given persistence store.
func NewManager(store ports.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the manager clock in UTC.
func (m *Manager) Now() time.Time {
	return m.now().UTC()
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Open loads the open session of (tenant, channel, phone) or creates one.
// A session whose TTL elapsed is expired in the store and reported with a
// *domain.SessionExpiredError; the next event then opens a fresh session.
func (m *Manager) Open(ctx context.Context, tenantID, channelID, phone string) (*domain.Session, error) {
	s, err := m.store.GetOrCreate(ctx, tenantID, channelID, phone, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if s.Vars == nil {
		s.Vars = make(map[string]any)
	}

	if s.IsExpired(m.Now()) {
		if err := m.store.Expire(ctx, tenantID, s.ID); err != nil {
			return nil, fmt.Errorf("failed to expire session %s: %w", s.ID, err)
		}
		m.logger.Info("Session expired",
			"tenant_id", tenantID,
			"session_id", s.ID,
			"expired_at", s.ExpiresAt,
		)
		return nil, &domain.SessionExpiredError{SessionID: s.ID, ExpiredAt: s.ExpiresAt}
	}
	return s, nil
}

// Replayed returns the ended session of the conversation whose last processed
// event is eventID, or nil. Open sessions are left to the caller, which checks
// them after Open.
func (m *Manager) Replayed(ctx context.Context, tenantID, channelID, phone, eventID string) (*domain.Session, error) {
	if eventID == "" {
		return nil, nil
	}
	s, err := m.store.Latest(ctx, tenantID, channelID, phone)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest session: %w", err)
	}
	if s.Status.Open() || s.LastEventID != eventID {
		return nil, nil
	}
	return s, nil
}

// Touch claims the session for this tick by advancing last_activity with a
// compare-and-set against the value that was read. It never retries.
func (m *Manager) Touch(ctx context.Context, s *domain.Session) error {
	next := m.Now()
	if !next.After(s.LastActivity) {
		// keep the marker strictly increasing even with a coarse or frozen clock
		next = s.LastActivity.Add(time.Microsecond)
	}

	ok, err := m.store.CompareAndSetTouch(ctx, s.TenantID, s.ID, s.LastActivity, next)
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", s.ID, err)
	}
	if !ok {
		return &domain.OptimisticLockError{SessionID: s.ID}
	}
	s.LastActivity = next
	return nil
}

// Checkpoint persists cp and applies it to s.
func (m *Manager) Checkpoint(ctx context.Context, s *domain.Session, cp domain.Checkpoint) error {
	if err := m.store.Checkpoint(ctx, s.TenantID, s.ID, cp); err != nil {
		return fmt.Errorf("failed to checkpoint session %s: %w", s.ID, err)
	}
	cp.Apply(s)
	return nil
}

// Close ends the session at the user's request.
func (m *Manager) Close(ctx context.Context, s *domain.Session) error {
	if err := m.store.Close(ctx, s.TenantID, s.ID); err != nil {
		return fmt.Errorf("failed to close session %s: %w", s.ID, err)
	}
	s.Status = domain.StatusCompleted
	s.Stage = domain.StageClosed
	return nil
}

// Get loads a session snapshot.
func (m *Manager) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	return m.store.Get(ctx, tenantID, sessionID)
}

// RefreshedExpiry returns the expires_at a non-terminal checkpoint should carry.
func (m *Manager) RefreshedExpiry() time.Time {
	return m.Now().Add(m.ttl)
}

// Store returns the underlying session store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}
