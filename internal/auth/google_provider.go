package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Impulsible/book-collection-api/internal/identity"
	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const defaultGoogleIssuer = "https://accounts.google.com"

// CallbackParams carries the provider callback query values relevant to
// completing a login.
type CallbackParams struct {
	Code             string
	ErrorCode        string
	ErrorDescription string
}

// GoogleProviderConfig bundles configuration for the Google OAuth handshake.
// Empty credentials construct a disabled provider rather than failing.
type GoogleProviderConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	IssuerURL    string
	Logger       *zap.Logger
}

// GoogleProvider performs the authorization-code handshake against Google
// and normalizes the verified profile into an identity.Assertion. Provider
// tokens never leave this type.
type GoogleProvider struct {
	config GoogleProviderConfig
	logger *zap.Logger

	mu       sync.Mutex
	oauthCfg *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogleProvider constructs the provider. OIDC discovery is deferred to
// the first login attempt so an unreachable issuer at boot does not prevent
// startup.
func NewGoogleProvider(cfg GoogleProviderConfig) *GoogleProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.CallbackURL = strings.TrimSpace(cfg.CallbackURL)
	if cfg.IssuerURL == "" {
		cfg.IssuerURL = defaultGoogleIssuer
	}
	return &GoogleProvider{config: cfg, logger: logger}
}

// Enabled reports whether credentials are configured.
func (p *GoogleProvider) Enabled() bool {
	return p.config.ClientID != "" && p.config.ClientSecret != ""
}

// BeginLogin returns the provider authorization URL for the given state.
func (p *GoogleProvider) BeginLogin(ctx context.Context, state string) (string, error) {
	oauthCfg, _, err := p.handshake(ctx)
	if err != nil {
		return "", err
	}
	return oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// CompleteLogin exchanges the callback parameters for a verified profile and
// returns the normalized assertion.
func (p *GoogleProvider) CompleteLogin(ctx context.Context, params CallbackParams) (identity.Assertion, error) {
	if params.ErrorCode != "" {
		p.logger.Warn("provider callback returned error",
			zap.String("error", params.ErrorCode),
			zap.String("description", params.ErrorDescription))
		return identity.Assertion{}, fmt.Errorf("%w: provider error %s", ErrAssertionInvalid, params.ErrorCode)
	}
	if strings.TrimSpace(params.Code) == "" {
		return identity.Assertion{}, fmt.Errorf("%w: missing authorization code", ErrAssertionInvalid)
	}

	oauthCfg, verifier, err := p.handshake(ctx)
	if err != nil {
		return identity.Assertion{}, err
	}

	token, err := oauthCfg.Exchange(ctx, params.Code)
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("%w: code exchange failed: %v", ErrAssertionInvalid, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return identity.Assertion{}, fmt.Errorf("%w: provider did not return an id token", ErrAssertionInvalid)
	}
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("%w: id token verification failed: %v", ErrAssertionInvalid, err)
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return identity.Assertion{}, fmt.Errorf("%w: claims parse failed: %v", ErrAssertionInvalid, err)
	}
	return assertionFromClaims(claims)
}

type googleClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// assertionFromClaims enforces the boundary contract: a login without a
// subject or a deliverable email cannot be resolved to an account and is
// rejected here, not deeper in the pipeline.
func assertionFromClaims(claims googleClaims) (identity.Assertion, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return identity.Assertion{}, fmt.Errorf("%w: profile missing subject", ErrAssertionInvalid)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return identity.Assertion{}, fmt.Errorf("%w: profile missing email", ErrAssertionInvalid)
	}
	return identity.Assertion{
		ExternalID:  claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		AvatarURL:   claims.Picture,
	}, nil
}

// handshake returns the cached oauth config and verifier, running OIDC
// discovery on first use. Discovery failures are not cached so the next
// attempt retries.
func (p *GoogleProvider) handshake(ctx context.Context) (*oauth2.Config, *oidc.IDTokenVerifier, error) {
	if !p.Enabled() {
		return nil, nil, fmt.Errorf("%w: oauth credentials not configured", ErrProviderUnavailable)
	}
	if p.config.CallbackURL == "" {
		return nil, nil, fmt.Errorf("%w: callback url not configured", ErrProviderUnavailable)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.oauthCfg != nil {
		return p.oauthCfg, p.verifier, nil
	}

	oidcProvider, err := oidc.NewProvider(ctx, p.config.IssuerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: oidc discovery failed: %v", ErrProviderUnavailable, err)
	}

	p.verifier = oidcProvider.Verifier(&oidc.Config{ClientID: p.config.ClientID})
	p.oauthCfg = &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		RedirectURL:  p.config.CallbackURL,
		Endpoint:     oidcProvider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	p.logger.Info("oauth provider initialized",
		zap.String("issuer", p.config.IssuerURL),
		zap.String("callback_url", p.config.CallbackURL))
	return p.oauthCfg, p.verifier, nil
}
