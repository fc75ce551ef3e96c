package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// EnvelopeKey is the only var stored by an encrypted session.
const EnvelopeKey = "__encrypted__"

// ErrDecrypt is returned when no configured key opens a session envelope.
var ErrDecrypt = errors.New("vars could not be decrypted with any configured key")

// EncryptionConfig holds the AES-256 keys.
type EncryptionConfig struct {
	// ActiveKey seals every checkpoint. 32 bytes (AES-256).
	ActiveKey []byte
	// FallbackKeys are retired keys still accepted when opening sessions.
	FallbackKeys [][]byte
}

// ParseKey decodes a hex encoded AES-256 key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

type encryptionMiddleware struct {
	next   ports.SessionStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals session vars with
// AES-GCM. Routing fields (node, stage, status, timestamps) stay readable.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) GetOrCreate(ctx context.Context, tenantID, channelID, phone string, ttl time.Duration) (*domain.Session, error) {
	sess, err := m.next.GetOrCreate(ctx, tenantID, channelID, phone, ttl)
	if err != nil {
		return nil, err
	}
	return m.open(sess)
}

func (m *encryptionMiddleware) Latest(ctx context.Context, tenantID, channelID, phone string) (*domain.Session, error) {
	sess, err := m.next.Latest(ctx, tenantID, channelID, phone)
	if err != nil {
		return nil, err
	}
	return m.open(sess)
}

func (m *encryptionMiddleware) CompareAndSetTouch(ctx context.Context, tenantID, sessionID string, expected, next time.Time) (bool, error) {
	return m.next.CompareAndSetTouch(ctx, tenantID, sessionID, expected, next)
}

func (m *encryptionMiddleware) Checkpoint(ctx context.Context, tenantID, sessionID string, cp domain.Checkpoint) error {
	plain, err := json.Marshal(cp.Vars)
	if err != nil {
		return fmt.Errorf("failed to marshal vars: %w", err)
	}
	sealed, err := seal(m.config.ActiveKey, plain, boundTo(tenantID, sessionID))
	if err != nil {
		return fmt.Errorf("failed to encrypt vars: %w", err)
	}
	cp.Vars = map[string]any{EnvelopeKey: base64.StdEncoding.EncodeToString(sealed)}
	return m.next.Checkpoint(ctx, tenantID, sessionID, cp)
}

func (m *encryptionMiddleware) Close(ctx context.Context, tenantID, sessionID string) error {
	return m.next.Close(ctx, tenantID, sessionID)
}

func (m *encryptionMiddleware) Expire(ctx context.Context, tenantID, sessionID string) error {
	return m.next.Expire(ctx, tenantID, sessionID)
}

func (m *encryptionMiddleware) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	sess, err := m.next.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return m.open(sess)
}

func (m *encryptionMiddleware) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return purge(ctx, m.next, cutoff)
}

// open replaces the envelope with the decrypted vars. A fresh session has
// no vars yet; any other plain vars are refused.
func (m *encryptionMiddleware) open(sess *domain.Session) (*domain.Session, error) {
	envelope, ok := sess.Vars[EnvelopeKey].(string)
	if !ok {
		if len(sess.Vars) == 0 {
			return sess, nil
		}
		return nil, fmt.Errorf("session %s: vars are not encrypted", sess.ID)
	}
	sealed, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("session %s: malformed envelope: %w", sess.ID, err)
	}

	aad := boundTo(sess.TenantID, sess.ID)
	plain, err := unseal(m.config.ActiveKey, sealed, aad)
	for _, key := range m.config.FallbackKeys {
		if err == nil {
			break
		}
		plain, err = unseal(key, sealed, aad)
	}
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, ErrDecrypt)
	}

	vars := map[string]any{}
	if err := json.Unmarshal(plain, &vars); err != nil {
		return nil, fmt.Errorf("session %s: failed to unmarshal vars: %w", sess.ID, err)
	}
	out := sess.Clone()
	out.Vars = vars
	return out, nil
}

// boundTo ties a ciphertext to its session so envelopes cannot be swapped
// between sessions.
func boundTo(tenantID, sessionID string) []byte {
	return []byte(tenantID + "/" + sessionID)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal returns nonce || ciphertext.
func seal(key, plain, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, aad), nil
}

func unseal(key, sealed, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, ErrDecrypt
	}
	return gcm.Open(nil, sealed[:n], sealed[n:], aad)
}
