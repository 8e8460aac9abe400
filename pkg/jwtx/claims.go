package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authentication Method Reference values used in the "amr" claim.
//
//	"pwd": password-based authentication
//	"otp": time-based one-time password
//	"mfa": some multi-factor step was completed
//	"swk": software key (passkey assertion)
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMRMFA      = "mfa"
	AMRPasskey  = "swk"
)

// Claims are the token claims used across the service. Access tokens and ID
// tokens share the struct; ID tokens carry the profile fields, access tokens
// carry scopes. Keeping changes additive preserves compatibility.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID established at the end of an authorization flow.
	SID string `json:"sid,omitempty"`

	// Permission scopes, e.g. ["openid", "profile", "offline_access"].
	Scopes []string `json:"scope,omitempty"`

	// Authentication Methods Reference, e.g. ["pwd","otp"].
	AMR []string `json:"amr,omitempty"`

	// AuthTime is when the end user actually authenticated.
	AuthTime int64 `json:"auth_time,omitempty"`

	// ID-token profile fields.
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Locale    string `json:"locale,omitempty"`

	// Org is the slug of the user's current organization.
	Org string `json:"org,omitempty"`

	// ImpersonatedBy is set on impersonation access tokens and names the
	// operator account the token was minted for.
	ImpersonatedBy string `json:"impersonated_by,omitempty"`
}

// NewClaims builds minimally-correct registered claims.
func NewClaims(issuer, subject string, audience []string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}
