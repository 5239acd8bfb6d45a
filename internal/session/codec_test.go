package session

import (
	"context"
	"errors"
	"testing"

	"github.com/Impulsible/book-collection-api/internal/identity"
)

type stubIdentityStore struct {
	records map[string]identity.Identity
	err     error
}

func (s *stubIdentityStore) FindByID(_ context.Context, id string) (identity.Identity, error) {
	if s.err != nil {
		return identity.Identity{}, s.err
	}
	record, ok := s.records[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return record, nil
}

func (s *stubIdentityStore) FindByExternalID(context.Context, string) (identity.Identity, error) {
	return identity.Identity{}, identity.ErrNotFound
}

func (s *stubIdentityStore) FindByEmail(context.Context, string) (identity.Identity, error) {
	return identity.Identity{}, identity.ErrNotFound
}

func (s *stubIdentityStore) Insert(context.Context, identity.Identity) error { return nil }

func (s *stubIdentityStore) UpdateFields(context.Context, string, map[string]interface{}) error {
	return nil
}

func TestCodecRoundTripResolvesSameIdentity(t *testing.T) {
	record := identity.Identity{ID: "id-1", Email: "a@x.com", DisplayName: "Ann"}
	store := &stubIdentityStore{records: map[string]identity.Identity{"id-1": record}}
	codec, err := NewCodec(CodecConfig{Identities: store})
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	payload := codec.Encode(record)
	if payload.IdentityID != "id-1" {
		t.Fatalf("expected payload to carry only the identity id, got %+v", payload)
	}

	// Unrelated profile churn between encode and decode must not matter.
	store.records["id-1"] = identity.Identity{ID: "id-1", Email: "a@x.com", DisplayName: "Ann K."}

	user, err := codec.Decode(context.Background(), payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if user.ID != record.ID {
		t.Fatalf("round trip changed identity id: got %q, want %q", user.ID, record.ID)
	}
	if user.DisplayName != "Ann K." {
		t.Fatalf("expected re-fetched display name, got %q", user.DisplayName)
	}
}

func TestCodecDecodeMapsMissingIdentityToStale(t *testing.T) {
	codec, err := NewCodec(CodecConfig{Identities: &stubIdentityStore{records: map[string]identity.Identity{}}})
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	_, err = codec.Decode(context.Background(), Payload{IdentityID: "gone"})
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestCodecDecodePropagatesStorageFailure(t *testing.T) {
	storageErr := errors.New("storage down")
	codec, err := NewCodec(CodecConfig{Identities: &stubIdentityStore{err: storageErr}})
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	_, err = codec.Decode(context.Background(), Payload{IdentityID: "id-1"})
	if !errors.Is(err, storageErr) {
		t.Fatalf("expected storage error to propagate, got %v", err)
	}
}

func TestCodecDecodeRejectsEmptyPayload(t *testing.T) {
	codec, err := NewCodec(CodecConfig{Identities: &stubIdentityStore{}})
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	if _, err := codec.Decode(context.Background(), Payload{}); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale for empty payload, got %v", err)
	}
}
