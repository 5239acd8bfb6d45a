package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeStore enforces the same uniqueness rules as the real schema, so the
// resolver's race handling can be exercised deterministically.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]Identity

	beforeInsert func(s *fakeStore)
	beforeUpdate func(s *fakeStore) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Identity)}
}

func (s *fakeStore) FindByID(_ context.Context, id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return record, nil
}

func (s *fakeStore) FindByExternalID(_ context.Context, externalID string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.ExternalID != nil && *record.ExternalID == externalID {
			return record, nil
		}
	}
	return Identity{}, ErrNotFound
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.Email == email {
			return record, nil
		}
	}
	return Identity{}, ErrNotFound
}

func (s *fakeStore) Insert(_ context.Context, record Identity) error {
	if s.beforeInsert != nil {
		hook := s.beforeInsert
		s.beforeInsert = nil
		hook(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(record)
}

func (s *fakeStore) insertLocked(record Identity) error {
	for _, existing := range s.records {
		if existing.Email == record.Email {
			return fmt.Errorf("%w: email %s", ErrDuplicateKey, record.Email)
		}
		if existing.ExternalID != nil && record.ExternalID != nil && *existing.ExternalID == *record.ExternalID {
			return fmt.Errorf("%w: external id %s", ErrDuplicateKey, *record.ExternalID)
		}
	}
	s.records[record.ID] = record
	return nil
}

func (s *fakeStore) UpdateFields(_ context.Context, id string, fields map[string]interface{}) error {
	if s.beforeUpdate != nil {
		hook := s.beforeUpdate
		s.beforeUpdate = nil
		if err := hook(s); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if value, ok := fields["external_id"]; ok {
		externalID := value.(string)
		for otherID, other := range s.records {
			if otherID != id && other.ExternalID != nil && *other.ExternalID == externalID {
				return fmt.Errorf("%w: external id %s", ErrDuplicateKey, externalID)
			}
		}
		record.ExternalID = &externalID
	}
	if value, ok := fields["display_name"]; ok {
		record.DisplayName = value.(string)
	}
	if value, ok := fields["avatar_url"]; ok {
		record.AvatarURL = value.(string)
	}
	s.records[id] = record
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func newTestResolver(t *testing.T, store Store) *Resolver {
	t.Helper()
	var sequence atomic.Int64
	resolver, err := NewResolver(ResolverConfig{
		Store: store,
		NewID: func() string {
			return fmt.Sprintf("id-%d", sequence.Add(1))
		},
	})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	return resolver
}

func TestResolveCreatesIdentityForUnseenEmail(t *testing.T) {
	store := newFakeStore()
	resolver := newTestResolver(t, store)

	record, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID:  "g1",
		Email:       "A@X.com",
		DisplayName: "Ann",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if record.Email != "a@x.com" {
		t.Fatalf("expected normalized email, got %q", record.Email)
	}
	if record.Username != "a" {
		t.Fatalf("expected username derived from local-part, got %q", record.Username)
	}
	if !record.Linked() || *record.ExternalID != "g1" {
		t.Fatalf("expected external id g1, got %+v", record.ExternalID)
	}
	if store.count() != 1 {
		t.Fatalf("expected one record, got %d", store.count())
	}
}

func TestResolveFastPathUpdatesProfileWithoutNewRecord(t *testing.T) {
	store := newFakeStore()
	resolver := newTestResolver(t, store)

	first, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID: "g1", Email: "a@x.com", DisplayName: "Ann",
	})
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	second, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID: "g1", Email: "a@x.com", DisplayName: "Ann K.",
	})
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same identity, got %q and %q", first.ID, second.ID)
	}
	if second.DisplayName != "Ann K." {
		t.Fatalf("expected refreshed display name, got %q", second.DisplayName)
	}
	if store.count() != 1 {
		t.Fatalf("expected one record, got %d", store.count())
	}
	stored, _ := store.FindByID(context.Background(), first.ID)
	if stored.DisplayName != "Ann K." {
		t.Fatalf("expected persisted display name, got %q", stored.DisplayName)
	}
}

func TestResolveLinksPreExistingAccountExactlyOnce(t *testing.T) {
	store := newFakeStore()
	if err := store.Insert(context.Background(), Identity{
		ID:       "pre-1",
		Email:    "b@x.com",
		Username: "b",
	}); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}
	resolver := newTestResolver(t, store)

	record, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID: "g2", Email: "b@x.com", DisplayName: "Bea",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if record.ID != "pre-1" {
		t.Fatalf("expected pre-existing identity, got %q", record.ID)
	}
	if !record.Linked() || *record.ExternalID != "g2" {
		t.Fatalf("expected linked external id g2, got %+v", record.ExternalID)
	}
	if store.count() != 1 {
		t.Fatalf("expected one record, got %d", store.count())
	}
}

func TestResolveRejectsRelinkWithDifferentExternalID(t *testing.T) {
	store := newFakeStore()
	resolver := newTestResolver(t, store)

	if _, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID: "g2", Email: "b@x.com",
	}); err != nil {
		t.Fatalf("initial resolve failed: %v", err)
	}

	_, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID: "g3", Email: "b@x.com",
	})
	if !errors.Is(err, ErrConflictingLink) {
		t.Fatalf("expected ErrConflictingLink, got %v", err)
	}

	stored, findErr := store.FindByEmail(context.Background(), "b@x.com")
	if findErr != nil {
		t.Fatalf("lookup failed: %v", findErr)
	}
	if *stored.ExternalID != "g2" {
		t.Fatalf("expected identity unchanged, got external id %q", *stored.ExternalID)
	}
}

func TestResolveRejectsExternalIDBoundToDifferentEmail(t *testing.T) {
	store := newFakeStore()
	resolver := newTestResolver(t, store)

	if _, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID: "g1", Email: "a@x.com",
	}); err != nil {
		t.Fatalf("initial resolve failed: %v", err)
	}

	_, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID: "g1", Email: "other@x.com",
	})
	if !errors.Is(err, ErrConflictingLink) {
		t.Fatalf("expected ErrConflictingLink, got %v", err)
	}
}

func TestResolveRejectsAssertionWithoutEmail(t *testing.T) {
	resolver := newTestResolver(t, newFakeStore())
	_, err := resolver.Resolve(context.Background(), Assertion{ExternalID: "g1"})
	if !errors.Is(err, ErrInvalidAssertion) {
		t.Fatalf("expected ErrInvalidAssertion, got %v", err)
	}
}

func TestResolveRecoversFromLostCreationRace(t *testing.T) {
	store := newFakeStore()
	// A competing login inserts the same email just before ours commits.
	store.beforeInsert = func(s *fakeStore) {
		winner := "g1"
		s.mu.Lock()
		defer s.mu.Unlock()
		_ = s.insertLocked(Identity{
			ID:          "winner-1",
			ExternalID:  &winner,
			Email:       "a@x.com",
			Username:    "a",
			DisplayName: "Ann",
		})
	}
	resolver := newTestResolver(t, store)

	record, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID: "g1", Email: "a@x.com", DisplayName: "Ann",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if record.ID != "winner-1" {
		t.Fatalf("expected the winner's record, got %q", record.ID)
	}
	if store.count() != 1 {
		t.Fatalf("expected exactly one record after race, got %d", store.count())
	}
}

func TestResolveRecoversFromLostLinkingRace(t *testing.T) {
	store := newFakeStore()
	if err := store.Insert(context.Background(), Identity{
		ID: "pre-1", Email: "b@x.com", Username: "b",
	}); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}
	// A concurrent login for the same account links g2 first; our write
	// reports a duplicate key and the retry must take the fast path.
	store.beforeUpdate = func(s *fakeStore) error {
		winner := "g2"
		s.mu.Lock()
		record := s.records["pre-1"]
		record.ExternalID = &winner
		s.records["pre-1"] = record
		s.mu.Unlock()
		return fmt.Errorf("%w: external id g2", ErrDuplicateKey)
	}
	resolver := newTestResolver(t, store)

	record, err := resolver.Resolve(context.Background(), Assertion{
		ExternalID: "g2", Email: "b@x.com",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if record.ID != "pre-1" || *record.ExternalID != "g2" {
		t.Fatalf("expected linked pre-existing record, got %+v", record)
	}
	if store.count() != 1 {
		t.Fatalf("expected one record, got %d", store.count())
	}
}

func TestResolveConcurrentLoginsForSameNewEmailCreateOneIdentity(t *testing.T) {
	store := newFakeStore()
	resolver := newTestResolver(t, store)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resolver.Resolve(context.Background(), Assertion{
				ExternalID: "g9", Email: "race@x.com", DisplayName: "Racer",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent resolve failed: %v", err)
		}
	}
	if store.count() != 1 {
		t.Fatalf("expected exactly one identity, got %d", store.count())
	}
}
