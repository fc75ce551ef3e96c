package middleware_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/persistence/middleware"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := NewMockStore()
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	if err != nil {
		t.Fatalf("NewPIIMiddleware failed: %v", err)
	}
	secureStore := mw(underlyingStore)
	ctx := context.Background()

	sess, err := secureStore.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990000", time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	vars := map[string]any{
		"username":      "jdoe",
		"user_password": "secret123",
		"details": map[string]any{
			"address":    "123 St",
			"ssn_number": "999-99-9999",
		},
	}
	if err := secureStore.Checkpoint(ctx, "acme", sess.ID, checkpoint(vars)); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	if vars["user_password"] != "secret123" {
		t.Error("Middleware modified the caller's vars")
	}

	stored := underlyingStore.Last().Vars
	if stored["username"] != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if stored["user_password"] != middleware.MaskedValue {
		t.Errorf("Password should be masked, got: %v", stored["user_password"])
	}
	details := stored["details"].(map[string]any)
	if details["ssn_number"] != middleware.MaskedValue {
		t.Errorf("Nested SSN should be masked, got: %v", details["ssn_number"])
	}
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	if _, err := middleware.NewPIIMiddleware([]string{"("}); err == nil {
		t.Error("Expected invalid pattern to fail")
	}
}

func TestChain_Order(t *testing.T) {
	underlyingStore := NewMockStore()
	mask, err := middleware.NewPIIMiddleware([]string{"password"})
	if err != nil {
		t.Fatal(err)
	}
	encrypt := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})

	// masking runs first, encryption sees the masked vars
	store := middleware.Chain(underlyingStore, mask, encrypt)
	ctx := context.Background()
	sess, err := store.GetOrCreate(ctx, "acme", "whatsapp", "+5511999990000", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Checkpoint(ctx, "acme", sess.ID, checkpoint(map[string]any{"password": "x", "name": "Ana"})); err != nil {
		t.Fatal(err)
	}

	if _, ok := underlyingStore.Last().Vars[middleware.EnvelopeKey]; !ok {
		t.Fatal("Expected the underlying store to receive the envelope")
	}
	loaded, err := store.Get(ctx, "acme", sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Vars["password"] != middleware.MaskedValue || loaded.Vars["name"] != "Ana" {
		t.Errorf("Unexpected vars: %v", loaded.Vars)
	}
}
