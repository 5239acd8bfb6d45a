package auth

import "errors"

var (
	// ErrProviderUnavailable indicates the identity provider is not
	// configured or not reachable. Login is a disabled feature in that
	// state, not a crash.
	ErrProviderUnavailable = errors.New("auth: identity provider unavailable")
	// ErrAssertionInvalid indicates the provider returned an error or an
	// incomplete profile for this login attempt. The caller may retry.
	ErrAssertionInvalid = errors.New("auth: provider assertion invalid")
)
