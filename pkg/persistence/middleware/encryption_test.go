package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func checkpoint(vars map[string]any) domain.Checkpoint {
	return domain.Checkpoint{
		NextNodeID: "ask",
		Vars:       vars,
		Status:     domain.StatusActive,
		Stage:      domain.StageInProgress,
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunSessionStoreContract(t, mw(memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := NewMockStore()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secureStore := mw(underlyingStore)
	ctx := context.Background()

	sess, err := secureStore.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990000", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	vars := map[string]any{"secret": "my-secret-sauce"}
	if err := secureStore.Checkpoint(ctx, "acme", sess.ID, checkpoint(vars)); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if vars["secret"] != "my-secret-sauce" {
		t.Error("Middleware modified the caller's vars")
	}

	// Underlying store only ever sees the envelope
	raw, err := underlyingStore.Get(ctx, "acme", sess.ID)
	if err != nil {
		t.Fatalf("Underlying get failed: %v", err)
	}
	if val, ok := raw.Vars["secret"]; ok {
		t.Fatalf("Expected secret to be hidden, found: %v", val)
	}
	if _, ok := raw.Vars[middleware.EnvelopeKey]; !ok {
		t.Fatal("Expected envelope var")
	}
	if raw.CurrentNodeID != "ask" {
		t.Errorf("Routing fields should stay readable, got node %q", raw.CurrentNodeID)
	}

	loaded, err := secureStore.Get(ctx, "acme", sess.ID)
	if err != nil {
		t.Fatalf("Get via middleware failed: %v", err)
	}
	if loaded.Vars["secret"] != "my-secret-sauce" {
		t.Errorf("Expected 'my-secret-sauce', got %v", loaded.Vars["secret"])
	}

	reopened, err := secureStore.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990000", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreate on existing session failed: %v", err)
	}
	if reopened.Vars["secret"] != "my-secret-sauce" {
		t.Errorf("Expected decrypted vars on reopen, got %v", reopened.Vars)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := NewMockStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)
	sess, err := secureStoreOld.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990000", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := secureStoreOld.Checkpoint(ctx, "acme", sess.ID, checkpoint(map[string]any{"data": "old"})); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Get(ctx, "acme", sess.ID)
	if err != nil {
		t.Fatalf("Get with rotated key failed: %v", err)
	}
	if loaded.Vars["data"] != "old" {
		t.Errorf("Decryption with fallback key failed")
	}

	if err := secureStoreNew.Checkpoint(ctx, "acme", sess.ID, checkpoint(map[string]any{"data": "new"})); err != nil {
		t.Fatalf("Checkpoint with new key failed: %v", err)
	}

	if _, err := secureStoreOld.Get(ctx, "acme", sess.ID); err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_RejectsPlainVars(t *testing.T) {
	underlyingStore := NewMockStore()
	ctx := context.Background()
	sess, err := underlyingStore.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990000", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := underlyingStore.Checkpoint(ctx, "acme", sess.ID, checkpoint(map[string]any{"name": "Ana"})); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	if _, err := secureStore.Get(ctx, "acme", sess.ID); err == nil {
		t.Error("Expected plain vars to be refused")
	}
}

func TestEncryptionMiddleware_Purge(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})

	purger := mw(memory.NewStore()).(ports.SessionPurger)
	if _, err := purger.PurgeBefore(context.Background(), time.Now()); err != nil {
		t.Errorf("Expected purge to reach the memory store: %v", err)
	}

	hidden := mw(NewMockStore()).(ports.SessionPurger)
	if _, err := hidden.PurgeBefore(context.Background(), time.Now()); err != middleware.ErrPurgeUnsupported {
		t.Errorf("Expected ErrPurgeUnsupported, got %v", err)
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for invalid key size")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)
	got, err := middleware.ParseKey(hex.EncodeToString(key))
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if string(got) != string(key) {
		t.Error("ParseKey returned a different key")
	}

	if _, err := middleware.ParseKey("abcd"); err == nil {
		t.Error("Expected short key to fail")
	}
	if _, err := middleware.ParseKey("not-hex"); err == nil {
		t.Error("Expected non hex key to fail")
	}
}

func TestEncryptionMiddleware_EnvelopeBoundToSession(t *testing.T) {
	underlying := NewMockStore()
	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)
	ctx := context.Background()

	a, err := secureStore.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990001", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	b, err := secureStore.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990002", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := secureStore.Checkpoint(ctx, "acme", a.ID, checkpoint(map[string]any{"secret": "a"})); err != nil {
		t.Fatal(err)
	}

	// copy a's envelope onto b behind the middleware's back
	if err := underlying.Checkpoint(ctx, "acme", b.ID, underlying.Last()); err != nil {
		t.Fatal(err)
	}
	if _, err := secureStore.Get(ctx, "acme", b.ID); !errors.Is(err, middleware.ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for a swapped envelope, got %v", err)
	}
}
