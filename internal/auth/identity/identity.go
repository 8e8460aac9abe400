// Package identity verifies credentials issued by external providers.
package identity

import (
	"context"
	"errors"
)

var (
	ErrInvalidAssertion = errors.New("invalid_assertion")
	ErrProviderDown     = errors.New("provider_unreachable")
)

// SocialProfile is the subset of a provider profile the authorize flow needs.
type SocialProfile struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
	Verified  bool
}

// SocialVerifier validates a provider issued credential and returns the
// profile it attests to.
type SocialVerifier interface {
	Verify(ctx context.Context, credential string) (SocialProfile, error)
}

// PasskeyVerifier validates a WebAuthn assertion against the challenge that
// was handed out for it and returns the credential id that signed it.
type PasskeyVerifier interface {
	Verify(ctx context.Context, assertion, challenge string) (credentialID string, err error)
}
