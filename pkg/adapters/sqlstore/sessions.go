package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
)

const sessionColumns = `id, tenant_id, channel_id, phone_number, flow_id, current_node_id,
	current_menu_key, menu_stack, vars, status, stage, expires_at, last_activity,
	last_event_id, step_counter, message_count, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                                domain.Session
		stack, vars                      string
		expires, lastActivity, createdAt int64
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.ChannelID, &s.PhoneNumber, &s.FlowID, &s.CurrentNodeID,
		&s.CurrentMenuKey, &stack, &vars, &s.Status, &s.Stage, &expires, &lastActivity,
		&s.LastEventID, &s.StepCounter, &s.MessageCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(vars), &s.Vars); err != nil {
		return nil, fmt.Errorf("failed to decode session vars: %w", err)
	}
	if s.Vars == nil {
		s.Vars = make(map[string]any)
	}
	if err := json.Unmarshal([]byte(stack), &s.MenuStack); err != nil {
		return nil, fmt.Errorf("failed to decode menu stack: %w", err)
	}
	if len(s.MenuStack) == 0 {
		s.MenuStack = nil
	}
	s.ExpiresAt = fromNanos(expires)
	s.LastActivity = fromNanos(lastActivity)
	s.CreatedAt = fromNanos(createdAt)
	return &s, nil
}

// GetOrCreate returns the newest open session of the conversation or inserts one.
// A partial unique index allows a single open session per conversation; a
// losing concurrent insert reads the winner's row.
func (s *Store) GetOrCreate(ctx context.Context, tenantID, channelID, phone string, ttl time.Duration) (*domain.Session, error) {
	sess, err := s.findOpen(ctx, tenantID, channelID, phone)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}

	sess = domain.NewSession(uuid.NewString(), tenantID, channelID, phone, s.now().UTC(), ttl)
	if insertErr := s.insertSession(ctx, sess); insertErr != nil {
		if existing, err := s.findOpen(ctx, tenantID, channelID, phone); err == nil {
			return existing, nil
		}
		return nil, insertErr
	}
	return sess, nil
}

func (s *Store) findOpen(ctx context.Context, tenantID, channelID, phone string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM tendril_sessions
		WHERE tenant_id = ? AND channel_id = ? AND phone_number = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`),
		tenantID, channelID, phone, string(domain.StatusInitiated), string(domain.StatusActive))
	return scanSession(row)
}

// Latest returns the newest session of the conversation in any status.
func (s *Store) Latest(ctx context.Context, tenantID, channelID, phone string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM tendril_sessions
		WHERE tenant_id = ? AND channel_id = ? AND phone_number = ?
		ORDER BY created_at DESC, CASE WHEN status IN (?, ?) THEN 0 ELSE 1 END LIMIT 1`),
		tenantID, channelID, phone, string(domain.StatusInitiated), string(domain.StatusActive))
	return scanSession(row)
}

func (s *Store) insertSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO tendril_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.ID, sess.TenantID, sess.ChannelID, sess.PhoneNumber, sess.FlowID, sess.CurrentNodeID,
		sess.CurrentMenuKey, "[]", "{}", string(sess.Status), string(sess.Stage),
		toNanos(sess.ExpiresAt), toNanos(sess.LastActivity), sess.LastEventID,
		sess.StepCounter, sess.MessageCount, toNanos(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// CompareAndSetTouch is a conditional UPDATE on last_activity.
func (s *Store) CompareAndSetTouch(ctx context.Context, tenantID, sessionID string, expected, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tendril_sessions SET last_activity = ?
		WHERE tenant_id = ? AND id = ? AND last_activity = ?`),
		toNanos(next), tenantID, sessionID, toNanos(expected))
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if err := s.exists(ctx, tenantID, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

// Checkpoint writes the checkpoint fields. last_activity is left untouched.
func (s *Store) Checkpoint(ctx context.Context, tenantID, sessionID string, cp domain.Checkpoint) error {
	vars, err := json.Marshal(nonNilVars(cp.Vars))
	if err != nil {
		return fmt.Errorf("failed to encode vars: %w", err)
	}
	stack := cp.MenuStack
	if stack == nil {
		stack = []string{}
	}
	stackJSON, err := json.Marshal(stack)
	if err != nil {
		return fmt.Errorf("failed to encode menu stack: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tendril_sessions SET
			current_node_id = ?, vars = ?, last_event_id = ?, status = ?, stage = ?,
			current_menu_key = ?, menu_stack = ?, step_counter = ?, message_count = ?,
			expires_at = ?, flow_id = CASE WHEN ? = '' THEN flow_id ELSE ? END
		WHERE tenant_id = ? AND id = ?`),
		cp.NextNodeID, string(vars), cp.LastEventID, string(cp.Status), string(cp.Stage),
		cp.MenuKey, string(stackJSON), cp.StepCounter, cp.MessageCount,
		toNanos(cp.ExpiresAt), cp.FlowID, cp.FlowID,
		tenantID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to checkpoint session: %w", err)
	}
	return requireOne(res)
}

// Close marks the session COMPLETED/CLOSED.
func (s *Store) Close(ctx context.Context, tenantID, sessionID string) error {
	return s.setStatus(ctx, tenantID, sessionID, domain.StatusCompleted, domain.StageClosed)
}

// Expire marks the session EXPIRED/EXPIRED.
func (s *Store) Expire(ctx context.Context, tenantID, sessionID string) error {
	return s.setStatus(ctx, tenantID, sessionID, domain.StatusExpired, domain.StageExpired)
}

func (s *Store) setStatus(ctx context.Context, tenantID, sessionID string, status domain.SessionStatus, stage domain.SessionStage) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tendril_sessions SET status = ?, stage = ?
		WHERE tenant_id = ? AND id = ?`),
		string(status), string(stage), tenantID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return requireOne(res)
}

// Get loads a session snapshot.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM tendril_sessions
		WHERE tenant_id = ? AND id = ?`), tenantID, sessionID)
	return scanSession(row)
}

// PurgeBefore deletes every session whose expires_at is before cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM tendril_sessions WHERE expires_at < ?`), toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return int(n), nil
}

func (s *Store) exists(ctx context.Context, tenantID, sessionID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM tendril_sessions WHERE tenant_id = ? AND id = ?`),
		tenantID, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	return nil
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func nonNilVars(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
