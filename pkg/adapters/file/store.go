package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
)

// Store implements ports.SessionStore and ports.SessionPurger using the local filesystem.
// It stores sessions as JSON files under BasePath/{tenant}/{session}.json.
// Compare-and-set is serialized by an in-process mutex, so a directory must
// not be shared by several processes.
type Store struct {
	BasePath string

	mu  sync.Mutex
	now func() time.Time
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".tendril/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".tendril", "sessions")
	}
	return &Store{BasePath: basePath, now: time.Now}
}

// WithClock replaces the time source used for new sessions.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) tenantDir(tenantID string) string {
	return filepath.Join(s.BasePath, safeName(tenantID))
}

func (s *Store) path(tenantID, sessionID string) string {
	return filepath.Join(s.tenantDir(tenantID), safeName(sessionID)+".json")
}

// GetOrCreate returns the newest open session of the conversation or creates one.
func (s *Store) GetOrCreate(ctx context.Context, tenantID, channelID, phone string, ttl time.Duration) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.scan(s.tenantDir(tenantID))
	if err != nil {
		return nil, err
	}
	var found *domain.Session
	for _, sess := range sessions {
		if sess.TenantID != tenantID || sess.ChannelID != channelID || sess.PhoneNumber != phone || !sess.Status.Open() {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			found = sess
		}
	}
	if found != nil {
		return found, nil
	}

	sess := domain.NewSession(uuid.NewString(), tenantID, channelID, phone, s.now().UTC(), ttl)
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Latest returns the newest session of the conversation in any status.
func (s *Store) Latest(ctx context.Context, tenantID, channelID, phone string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.scan(s.tenantDir(tenantID))
	if err != nil {
		return nil, err
	}
	var found *domain.Session
	for _, sess := range sessions {
		if sess.TenantID != tenantID || sess.ChannelID != channelID || sess.PhoneNumber != phone {
			continue
		}
		if found == nil || newer(sess, found) {
			found = sess
		}
	}
	if found == nil {
		return nil, domain.ErrSessionNotFound
	}
	return found, nil
}

// newer orders sessions by creation time; open sessions win ties since a
// conversation only opens a new session after the previous one ended.
func newer(a, b *domain.Session) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Status.Open() && !b.Status.Open()
}

// CompareAndSetTouch advances last_activity when it still equals expected.
func (s *Store) CompareAndSetTouch(ctx context.Context, tenantID, sessionID string, expected, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(tenantID, sessionID)
	if err != nil {
		return false, err
	}
	if !sess.LastActivity.Equal(expected) {
		return false, nil
	}
	sess.LastActivity = next
	return true, s.save(sess)
}

// Checkpoint applies cp to the stored session.
func (s *Store) Checkpoint(ctx context.Context, tenantID, sessionID string, cp domain.Checkpoint) error {
	return s.update(tenantID, sessionID, cp.Apply)
}

// Close marks the session COMPLETED/CLOSED.
func (s *Store) Close(ctx context.Context, tenantID, sessionID string) error {
	return s.update(tenantID, sessionID, func(sess *domain.Session) {
		sess.Status = domain.StatusCompleted
		sess.Stage = domain.StageClosed
	})
}

// Expire marks the session EXPIRED/EXPIRED.
func (s *Store) Expire(ctx context.Context, tenantID, sessionID string) error {
	return s.update(tenantID, sessionID, func(sess *domain.Session) {
		sess.Status = domain.StatusExpired
		sess.Stage = domain.StageExpired
	})
}

// Get loads a session snapshot.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(tenantID, sessionID)
}

// PurgeBefore removes every session file whose expires_at is before cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenants, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list tenants: %w", err)
	}

	removed := 0
	for _, t := range tenants {
		if !t.IsDir() {
			continue
		}
		dir := filepath.Join(s.BasePath, t.Name())
		sessions, err := s.scan(dir)
		if err != nil {
			return removed, err
		}
		for _, sess := range sessions {
			if !sess.ExpiresAt.Before(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, safeName(sess.ID)+".json")); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("failed to delete session file: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// List returns the session IDs of a tenant.
func (s *Store) List(ctx context.Context, tenantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.scan(s.tenantDir(tenantID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		if sess.TenantID == tenantID {
			ids = append(ids, sess.ID)
		}
	}
	return ids, nil
}

func (s *Store) update(tenantID, sessionID string, mutate func(*domain.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(tenantID, sessionID)
	if err != nil {
		return err
	}
	mutate(sess)
	return s.save(sess)
}

func (s *Store) scan(dir string) ([]*domain.Session, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []*domain.Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		sess, err := readSession(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *Store) load(tenantID, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrSessionNotFound
	}
	sess, err := readSession(s.path(tenantID, sessionID))
	if err != nil {
		return nil, err
	}
	if sess.TenantID != tenantID {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

func readSession(path string) (*domain.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.Vars == nil {
		sess.Vars = make(map[string]any)
	}
	return &sess, nil
}

// save writes the session atomically.
func (s *Store) save(sess *domain.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return writeAtomic(s.tenantDir(sess.TenantID), safeName(sess.ID)+".json", data)
}

// writeAtomic replaces dir/name through a synced temp file and a rename.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}

	// same directory keeps the rename on one filesystem
	tmpFile, err := os.CreateTemp(dir, "tmp-*-"+name)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// cannot rename an open file on Windows
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); err == nil {
		// os.Rename does not replace on Windows
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("failed to remove existing file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// safeName keeps ids usable as a single path element.
func safeName(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return r.Replace(s)
}
