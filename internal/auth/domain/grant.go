package domain

import (
	"encoding/json"
	"time"
)

// Step is how far through the authorization flow a grant has progressed.
// The orchestrator's gates are all "step < stage", so resubmitting a
// completed step never re-triggers it.
type Step int

const (
	StepCredential Step = iota // a credential check passed, nothing else yet
	StepConsent                // consent recorded (or not required)
	StepOtpMFA                 // OTP factor satisfied (or not required)
	StepEmailMFA               // email/SMS factor satisfied; terminal
)

// AuthCodeGrant is the central ephemeral aggregate, stored in the kv store
// under its high-entropy code. The same code is reused across consent and
// every MFA step; it is consumed only by the final token exchange or by TTL
// expiry. It is a capability for "this login attempt", not a one-shot nonce.
type AuthCodeGrant struct {
	ClientUID  string           `json:"clientUid"` // internal client row id
	ClientName string           `json:"clientName"`
	User       UserSnapshot     `json:"user"`
	Request    AuthorizeRequest `json:"request"`
	Step       Step             `json:"step"`

	// PendingVerify parks a passwordless grant on the verify page until
	// the emailed sign-in code is proven. The code is the credential for
	// that flow; while this is set the grant neither advances nor
	// exchanges.
	PendingVerify bool `json:"pendingVerify,omitempty"`

	// ExpiresAt is fixed when the attempt opens. Re-saves keep the
	// remaining window rather than restarting it.
	ExpiresAt time.Time `json:"expiresAt"`
}

// EncodeGrant serializes a grant for the kv store.
func EncodeGrant(g AuthCodeGrant) (string, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeGrant deserializes a grant from the kv store.
func DecodeGrant(raw string) (AuthCodeGrant, error) {
	var g AuthCodeGrant
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return AuthCodeGrant{}, err
	}
	return g, nil
}
