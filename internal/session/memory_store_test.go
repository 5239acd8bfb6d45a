package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreSetGetDestroy(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	if err := store.Set(ctx, "sid-1", Payload{IdentityID: "id-1"}, time.Hour); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	payload, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if payload.IdentityID != "id-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	if err := store.Destroy(ctx, "sid-1"); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after destroy, got %v", err)
	}
	// Destroying again is a no-op.
	if err := store.Destroy(ctx, "sid-1"); err != nil {
		t.Fatalf("repeat destroy failed: %v", err)
	}
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, "sid-1", Payload{IdentityID: "id-1"}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := store.Get(ctx, "sid-1"); err != nil {
		t.Fatalf("get before expiry failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after expiry, got %v", err)
	}
}

func TestMemoryStoreRejectsInvalidArguments(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	if err := store.Set(ctx, "", Payload{IdentityID: "id-1"}, time.Hour); err == nil {
		t.Fatal("expected error for empty session id")
	}
	if err := store.Set(ctx, "sid-1", Payload{IdentityID: "id-1"}, 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestGenerateIDProducesUniqueValues(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		id, err := GenerateID()
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if id == "" {
			t.Fatal("expected non-empty session id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}
