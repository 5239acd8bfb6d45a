package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/Impulsible/book-collection-api/internal/identity"
	"go.uber.org/zap"
)

// ErrStale indicates the session points at an identity that no longer
// exists. Callers treat it as "not authenticated", never as a fault.
var ErrStale = errors.New("session: identity no longer exists")

// Payload is the minimal durable pointer stored per active login. The full
// identity is always re-fetched on decode; provider tokens and profile data
// never enter the session store.
type Payload struct {
	IdentityID string `json:"identity_id"`
}

// CurrentUser is the authenticated-caller view handed to protected handlers.
type CurrentUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// CodecConfig describes the dependencies of the session codec.
type CodecConfig struct {
	Identities identity.Store
	Logger     *zap.Logger
}

// Codec collapses an identity to a session payload on login and expands it
// back to a CurrentUser on every subsequent request.
type Codec struct {
	identities identity.Store
	logger     *zap.Logger
}

// NewCodec constructs a codec with validated configuration.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if cfg.Identities == nil {
		return nil, fmt.Errorf("session: identity store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{identities: cfg.Identities, logger: logger}, nil
}

// Encode reduces an identity to its durable session pointer.
func (c *Codec) Encode(record identity.Identity) Payload {
	return Payload{IdentityID: record.ID}
}

// Decode re-fetches the identity behind the payload. A missing identity maps
// to ErrStale; storage failures propagate unchanged.
func (c *Codec) Decode(ctx context.Context, payload Payload) (CurrentUser, error) {
	if payload.IdentityID == "" {
		return CurrentUser{}, ErrStale
	}
	record, err := c.identities.FindByID(ctx, payload.IdentityID)
	if errors.Is(err, identity.ErrNotFound) {
		c.logger.Debug("session references deleted identity",
			zap.String("identity_id", payload.IdentityID))
		return CurrentUser{}, ErrStale
	}
	if err != nil {
		return CurrentUser{}, err
	}
	return CurrentUser{
		ID:          record.ID,
		DisplayName: record.DisplayName,
		Email:       record.Email,
	}, nil
}
