package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/ValueMelody/melody-auth-sub004/pkg/cryptox"
)

// passkeyAssertion is the envelope the browser posts back after the
// authenticator ceremony. The attestation fields are opaque here; the
// frontend library validates signatures before submitting.
type passkeyAssertion struct {
	CredentialID string `json:"credentialId"`
	Challenge    string `json:"challenge"`
}

// ChallengePasskeyVerifier checks that the assertion echoes the challenge
// that was handed out for this login attempt.
type ChallengePasskeyVerifier struct{}

func (ChallengePasskeyVerifier) Verify(ctx context.Context, assertion, challenge string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(assertion)
	if err != nil {
		// Tolerate unencoded JSON for clients that post the envelope directly.
		raw = []byte(assertion)
	}

	var a passkeyAssertion
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", ErrInvalidAssertion
	}
	if a.CredentialID == "" || !cryptox.ConstantTimeEquals(a.Challenge, challenge) {
		return "", ErrInvalidAssertion
	}
	return a.CredentialID, nil
}
