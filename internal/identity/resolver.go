package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const resolveMaxAttempts = 3

var (
	// ErrInvalidAssertion indicates the assertion lacked a usable subject or
	// email. The credential provider rejects these earlier; this is the
	// resolver's own guard.
	ErrInvalidAssertion = errors.New("identity: assertion missing external id or email")
	// ErrConflictingLink indicates the provider subject and the email in the
	// assertion point at different accounts. This signals a provider-side
	// identity change and is never resolved automatically.
	ErrConflictingLink = errors.New("identity: external id linked to a different account")
	// ErrResolveContention indicates repeated uniqueness races, which only
	// happens if the storage layer misreports duplicate keys.
	ErrResolveContention = errors.New("identity: resolve did not converge")
)

// ResolverConfig describes the dependencies required for identity resolution.
type ResolverConfig struct {
	Store  Store
	Logger *zap.Logger
	NewID  func() string
	Clock  func() time.Time
}

// Resolver maps verified provider assertions onto local accounts: returning
// users match by external id, pre-existing accounts link by email, and unseen
// emails create a new account.
type Resolver struct {
	store  Store
	logger *zap.Logger
	newID  func() string
	clock  func() time.Time
}

// NewResolver constructs a resolver with validated configuration.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("identity: store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		store:  cfg.Store,
		logger: logger,
		newID:  newID,
		clock:  clock,
	}, nil
}

// Resolve finds, links, or creates the account for the assertion. Lookup
// order is mandatory: external id first, then email, then creation — it
// defines the linking precedence. Uniqueness races with concurrent logins
// surface as ErrDuplicateKey from the store and are resolved by re-running
// the lookup, never by returning the race to the caller.
func (r *Resolver) Resolve(ctx context.Context, assertion Assertion) (Identity, error) {
	externalID := normalize(assertion.ExternalID)
	email := NormalizeEmail(assertion.Email)
	if externalID == "" || email == "" {
		return Identity{}, ErrInvalidAssertion
	}

	for attempt := 0; attempt < resolveMaxAttempts; attempt++ {
		record, err := r.resolveOnce(ctx, externalID, email, assertion)
		if errors.Is(err, ErrDuplicateKey) {
			r.logger.Debug("identity resolve lost uniqueness race, retrying",
				zap.String("email", email),
				zap.Int("attempt", attempt+1))
			continue
		}
		return record, err
	}
	return Identity{}, fmt.Errorf("%w for %s", ErrResolveContention, email)
}

func (r *Resolver) resolveOnce(ctx context.Context, externalID, email string, assertion Assertion) (Identity, error) {
	// Fast path: returning user.
	record, err := r.store.FindByExternalID(ctx, externalID)
	if err == nil {
		if record.Email != email {
			return Identity{}, fmt.Errorf("%w: subject %s", ErrConflictingLink, externalID)
		}
		return r.refreshProfile(ctx, record, assertion), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Identity{}, err
	}

	// Linking path: the email belongs to an account without a provider login.
	record, err = r.store.FindByEmail(ctx, email)
	if err == nil {
		return r.link(ctx, record, externalID, assertion)
	}
	if !errors.Is(err, ErrNotFound) {
		return Identity{}, err
	}

	// Creation path.
	created := Identity{
		ID:          r.newID(),
		ExternalID:  &externalID,
		Email:       email,
		Username:    usernameFromEmail(email),
		DisplayName: normalize(assertion.DisplayName),
		AvatarURL:   normalize(assertion.AvatarURL),
		CreatedAt:   r.clock(),
		UpdatedAt:   r.clock(),
	}
	if err := r.store.Insert(ctx, created); err != nil {
		return Identity{}, err
	}
	r.logger.Info("identity created",
		zap.String("identity_id", created.ID),
		zap.String("username", created.Username))
	return created, nil
}

// link attaches the provider subject to an account found by email. The
// external id is written exactly once; a different existing link means the
// provider reassigned the subject and must be surfaced, not overwritten.
func (r *Resolver) link(ctx context.Context, record Identity, externalID string, assertion Assertion) (Identity, error) {
	if record.Linked() {
		if *record.ExternalID == externalID {
			// Lost the external-id lookup race against our own write.
			return r.refreshProfile(ctx, record, assertion), nil
		}
		return Identity{}, fmt.Errorf("%w: email %s", ErrConflictingLink, record.Email)
	}

	fields := map[string]interface{}{"external_id": externalID}
	if display := normalize(assertion.DisplayName); display != "" {
		fields["display_name"] = display
	}
	if avatar := normalize(assertion.AvatarURL); avatar != "" {
		fields["avatar_url"] = avatar
	}
	if err := r.store.UpdateFields(ctx, record.ID, fields); err != nil {
		return Identity{}, err
	}

	record.ExternalID = &externalID
	if display := normalize(assertion.DisplayName); display != "" {
		record.DisplayName = display
	}
	if avatar := normalize(assertion.AvatarURL); avatar != "" {
		record.AvatarURL = avatar
	}
	r.logger.Info("identity linked",
		zap.String("identity_id", record.ID))
	return record, nil
}

// refreshProfile applies changed presentation fields from the assertion.
// Failures here are logged and swallowed: a stale display name must not fail
// a login.
func (r *Resolver) refreshProfile(ctx context.Context, record Identity, assertion Assertion) Identity {
	fields := map[string]interface{}{}
	if display := normalize(assertion.DisplayName); display != "" && display != record.DisplayName {
		fields["display_name"] = display
		record.DisplayName = display
	}
	if avatar := normalize(assertion.AvatarURL); avatar != "" && avatar != record.AvatarURL {
		fields["avatar_url"] = avatar
		record.AvatarURL = avatar
	}
	if len(fields) == 0 {
		return record
	}
	if err := r.store.UpdateFields(ctx, record.ID, fields); err != nil {
		r.logger.Warn("identity profile refresh failed",
			zap.String("identity_id", record.ID),
			zap.Error(err))
	}
	return record
}
