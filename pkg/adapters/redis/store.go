package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

const (
	fieldData         = "data"
	fieldLastActivity = "last_activity"
)

// touchScript advances last_activity only when it still holds the expected value.
// Returns -1 when the session does not exist.
var touchScript = backend.NewScript(`
local cur = redis.call("HGET", KEYS[1], "last_activity")
if not cur then
	return -1
end
if cur ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "last_activity", ARGV[2])
return 1
`)

// Store implements ports.SessionStore and ports.SessionPurger using Redis.
type Store struct {
	client *backend.Client
	opts   options
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(NewClient(address, password, db), opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	return &Store{client: client, opts: newOptions(opts)}
}

func (s *Store) sessionKey(tenantID, sessionID string) string {
	return s.opts.prefix + tenantID + ":session:" + sessionID
}

func (s *Store) currentKey(tenantID, channelID, phone string) string {
	return s.opts.prefix + tenantID + ":current:" + channelID + ":" + phone
}

func (s *Store) indexKey() string {
	return s.opts.prefix + "sessions:expiry"
}

// GetOrCreate returns the open session the conversation pointer refers to, or
// creates a new one and moves the pointer.
func (s *Store) GetOrCreate(ctx context.Context, tenantID, channelID, phone string, ttl time.Duration) (*domain.Session, error) {
	pointer := s.currentKey(tenantID, channelID, phone)
	var result *domain.Session

	txf := func(tx *backend.Tx) error {
		id, err := tx.Get(ctx, pointer).Result()
		if err != nil && !errors.Is(err, backend.Nil) {
			return err
		}
		if id != "" {
			sess, err := s.load(ctx, tx, tenantID, id)
			if err == nil && sess.Status.Open() {
				result = sess
				return nil
			}
			if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
				return err
			}
		}

		sess := domain.NewSession(uuid.NewString(), tenantID, channelID, phone, s.opts.now().UTC(), ttl)
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		key := s.sessionKey(tenantID, sess.ID)
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.HSet(ctx, key, fieldData, data, fieldLastActivity, nanos(sess.LastActivity))
			pipe.Set(ctx, pointer, sess.ID, 0)
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score(sess.ExpiresAt), Member: key})
			return nil
		})
		if err != nil {
			return err
		}
		result = sess
		return nil
	}

	if err := s.retry(ctx, txf, pointer); err != nil {
		return nil, fmt.Errorf("failed to get or create session in redis: %w", err)
	}
	return result, nil
}

// Latest follows the conversation pointer, which always names the newest
// session whatever its status.
func (s *Store) Latest(ctx context.Context, tenantID, channelID, phone string) (*domain.Session, error) {
	id, err := s.client.Get(ctx, s.currentKey(tenantID, channelID, phone)).Result()
	if errors.Is(err, backend.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session pointer: %w", err)
	}
	return s.load(ctx, s.client, tenantID, id)
}

// CompareAndSetTouch runs the compare-and-set as a single Lua script.
func (s *Store) CompareAndSetTouch(ctx context.Context, tenantID, sessionID string, expected, next time.Time) (bool, error) {
	res, err := touchScript.Run(ctx, s.client, []string{s.sessionKey(tenantID, sessionID)}, nanos(expected), nanos(next)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to touch session in redis: %w", err)
	}
	switch res {
	case -1:
		return false, domain.ErrSessionNotFound
	case 1:
		return true, nil
	}
	return false, nil
}

// Checkpoint rewrites the session document. last_activity is left untouched.
func (s *Store) Checkpoint(ctx context.Context, tenantID, sessionID string, cp domain.Checkpoint) error {
	return s.update(ctx, tenantID, sessionID, cp.Apply)
}

// Close marks the session COMPLETED/CLOSED.
func (s *Store) Close(ctx context.Context, tenantID, sessionID string) error {
	return s.update(ctx, tenantID, sessionID, func(sess *domain.Session) {
		sess.Status = domain.StatusCompleted
		sess.Stage = domain.StageClosed
	})
}

// Expire marks the session EXPIRED/EXPIRED.
func (s *Store) Expire(ctx context.Context, tenantID, sessionID string) error {
	return s.update(ctx, tenantID, sessionID, func(sess *domain.Session) {
		sess.Status = domain.StatusExpired
		sess.Stage = domain.StageExpired
	})
}

// Get loads a session snapshot.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	return s.load(ctx, s.client, tenantID, sessionID)
}

// PurgeBefore deletes every session whose expires_at is before cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.client.ZRangeByScore(ctx, s.indexKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return int(del.Val()), nil
}

// Disconnect closes the redis client.
func (s *Store) Disconnect() error {
	return s.client.Close()
}

func (s *Store) update(ctx context.Context, tenantID, sessionID string, mutate func(*domain.Session)) error {
	key := s.sessionKey(tenantID, sessionID)
	txf := func(tx *backend.Tx) error {
		sess, err := s.load(ctx, tx, tenantID, sessionID)
		if err != nil {
			return err
		}
		mutate(sess)
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.HSet(ctx, key, fieldData, data)
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score(sess.ExpiresAt), Member: key})
			return nil
		})
		return err
	}

	err := s.retry(ctx, txf, key)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}
	return nil
}

// retry runs txf under WATCH until it commits without interference.
func (s *Store) retry(ctx context.Context, txf func(*backend.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return err
	}
	return backend.TxFailedErr
}

// hashReader is satisfied by *backend.Client and *backend.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *backend.MapStringStringCmd
}

func (s *Store) load(ctx context.Context, cmd hashReader, tenantID, sessionID string) (*domain.Session, error) {
	fields, err := cmd.HGetAll(ctx, s.sessionKey(tenantID, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}
	raw, ok := fields[fieldData]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.TenantID != tenantID {
		return nil, domain.ErrSessionNotFound
	}
	if n, err := strconv.ParseInt(fields[fieldLastActivity], 10, 64); err == nil {
		sess.LastActivity = time.Unix(0, n).UTC()
	}
	if sess.Vars == nil {
		sess.Vars = make(map[string]any)
	}
	return &sess, nil
}

func nanos(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
