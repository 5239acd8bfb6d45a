package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ErrNoSession indicates no payload is stored under the session id.
var ErrNoSession = errors.New("session: no such session")

// Store persists session payloads keyed by opaque session id. Destroy of an
// absent session succeeds as a no-op.
type Store interface {
	Get(ctx context.Context, sessionID string) (Payload, error)
	Set(ctx context.Context, sessionID string, payload Payload, ttl time.Duration) error
	Destroy(ctx context.Context, sessionID string) error
}

// GenerateID returns a cryptographically random session id with 256 bits of
// entropy.
func GenerateID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
