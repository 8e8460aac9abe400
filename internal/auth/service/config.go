package service

import (
	"time"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
)

// Config is the immutable feature and policy snapshot injected into every
// service. It is built once at startup from the environment; tests construct
// their own per case, so toggles never leak between cases.
type Config struct {
	Issuer    string
	OTPIssuer string

	// Flow lifetimes.
	CodeTTL           time.Duration // authorization code / grant
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	IDTokenTTL        time.Duration
	SessionTTL        time.Duration
	OneTimeCodeTTL    time.Duration // emailed and texted codes
	ResetCodeTTL      time.Duration
	RememberDeviceTTL time.Duration

	// MFA policy.
	RequireOTPMFA   bool
	RequireEmailMFA bool
	RequireSMSMFA   bool

	// EnforceOneMFA lists factors of which at least one must be completed
	// when no factor is individually required.
	EnforceOneMFA []domain.Factor

	// MFAFallback maps a factor to the set of other factors its success
	// also satisfies. One-directional and explicit, never symmetric.
	MFAFallback map[domain.Factor][]domain.Factor

	AllowRememberDevice bool

	// Lockout thresholds and windows, per purpose. A zero threshold
	// disables the check for that purpose.
	SignInThreshold      int
	SignInWindow         time.Duration
	ResetThreshold       int
	ResetWindow          time.Duration
	OTPMFAThreshold      int
	OTPMFAWindow         time.Duration
	EmailMFAThreshold    int
	EmailMFAWindow       time.Duration
	SMSMFAThreshold      int
	SMSMFAWindow         time.Duration
	ChangeEmailThreshold int
	ChangeEmailWindow    time.Duration

	// Feature toggles.
	EnablePasswordSignIn     bool
	EnablePasswordlessSignIn bool
	EnableGoogleSignIn       bool
	EnablePasskeySignIn      bool
	EnablePasswordReset      bool
	UnlockOnPasswordReset    bool

	// Org features. Switch happens during sign-in, change post-login; each
	// can be blocked independently while the org feature stays on.
	EnableOrg        bool
	BlockedSwitchOrg bool
	BlockedChangeOrg bool

	// PropagateSendFailure surfaces email/SMS delivery errors instead of
	// swallowing them at the notify boundary.
	PropagateSendFailure bool
}

// DefaultConfig returns the policy defaults a fresh deployment starts from.
func DefaultConfig() Config {
	return Config{
		Issuer:    "http://localhost:8080",
		OTPIssuer: "melody-auth",

		CodeTTL:           5 * time.Minute,
		AccessTokenTTL:    30 * time.Minute,
		RefreshTokenTTL:   30 * 24 * time.Hour,
		IDTokenTTL:        30 * time.Minute,
		SessionTTL:        24 * time.Hour,
		OneTimeCodeTTL:    5 * time.Minute,
		ResetCodeTTL:      10 * time.Minute,
		RememberDeviceTTL: 30 * 24 * time.Hour,

		SignInThreshold:      5,
		SignInWindow:         1800 * time.Second,
		ResetThreshold:       5,
		ResetWindow:          86400 * time.Second,
		OTPMFAThreshold:      5,
		OTPMFAWindow:         1800 * time.Second,
		EmailMFAThreshold:    10,
		EmailMFAWindow:       1800 * time.Second,
		SMSMFAThreshold:      10,
		SMSMFAWindow:         1800 * time.Second,
		ChangeEmailThreshold: 5,
		ChangeEmailWindow:    1800 * time.Second,

		EnablePasswordSignIn: true,
		EnablePasswordReset:  true,
		AllowRememberDevice:  true,
	}
}
