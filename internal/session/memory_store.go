package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   Payload
	expiresAt time.Time
}

// MemoryStore is a process-local Store for development and tests. It expires
// entries lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemoryStore constructs an empty in-memory store. A nil clock defaults
// to time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionID]
	if !ok {
		return Payload{}, ErrNoSession
	}
	if s.clock().After(entry.expiresAt) {
		delete(s.entries, sessionID)
		return Payload{}, ErrNoSession
	}
	return entry.payload, nil
}

func (s *MemoryStore) Set(_ context.Context, sessionID string, payload Payload, ttl time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("session: session id required")
	}
	if ttl <= 0 {
		return fmt.Errorf("session: ttl must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = memoryEntry{
		payload:   payload,
		expiresAt: s.clock().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Destroy(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}
