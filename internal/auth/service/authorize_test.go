package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/identity"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
)

func TestPasswordFlowCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, DefaultConfig())
	e.seedUser(t)

	res, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, testPassword, "203.0.113.1", DeviceInfo{})
	require.NoError(t, err)
	require.True(t, res.RequireConsent)
	require.Equal(t, PageConsent, res.NextPage)
	require.Equal(t, testRedirect, res.RedirectURI)
	require.Equal(t, "af0ifjsldkj", res.State)

	done, err := e.auth.ProcessConsent(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, done.Complete())

	// The same code is carried through every step.
	require.Equal(t, res.Code, done.Code)
	require.Equal(t, res.RedirectURI, done.RedirectURI)
	require.Equal(t, res.State, done.State)
	require.Equal(t, res.Scopes, done.Scopes)
}

func TestPasswordWrongCredential(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, DefaultConfig())
	e.seedUser(t)

	t.Run("wrong password", func(t *testing.T) {
		_, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, "nope", "203.0.113.1", DeviceInfo{})
		require.ErrorIs(t, err, ErrWrongCredential)
	})

	t.Run("unknown email looks identical", func(t *testing.T) {
		_, err := e.auth.AuthorizePassword(ctx, authReq(), "ghost@example.com", testPassword, "203.0.113.1", DeviceInfo{})
		require.ErrorIs(t, err, ErrWrongCredential)
	})

	t.Run("disabled feature is an operator error", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EnablePasswordSignIn = false
		disabled := newEnv(t, cfg)
		_, err := disabled.auth.AuthorizePassword(ctx, authReq(), testEmail, testPassword, "203.0.113.1", DeviceInfo{})
		require.ErrorIs(t, err, ErrConfig)
	})
}

func TestPasswordLockoutPerOrigin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.SignInThreshold = 3
	e := newEnv(t, cfg)
	e.seedUser(t)

	for range 3 {
		_, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, "nope", "203.0.113.9", DeviceInfo{})
		require.ErrorIs(t, err, ErrWrongCredential)
	}

	// Fourth attempt from the same origin is locked, even with the right
	// password.
	_, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, testPassword, "203.0.113.9", DeviceInfo{})
	require.ErrorIs(t, err, ErrLockedOut)

	// A different origin for the same identifier is not.
	_, err = e.auth.AuthorizePassword(ctx, authReq(), testEmail, "nope", "198.51.100.7", DeviceInfo{})
	require.ErrorIs(t, err, ErrWrongCredential)

	locked, err := e.guard.LockedOrigins(ctx, PurposeSignIn, testEmail)
	require.NoError(t, err)
	require.Equal(t, []string{"203.0.113.9"}, locked)
}

func TestPasswordlessCreatesUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.EnablePasswordlessSignIn = true
	e := newEnv(t, cfg)

	res, err := e.auth.AuthorizePasswordless(ctx, authReq(), "test@email.com")
	require.NoError(t, err)
	require.Equal(t, PagePasswordlessVerify, res.NextPage)

	grant, err := loadGrant(ctx, e.kvs, res.Code)
	require.NoError(t, err)
	require.Equal(t, "test@email.com", grant.User.Email)
	require.False(t, grant.User.HasPassword)

	// Resending without force reuses the outstanding code.
	sent := e.emails.count()
	require.NoError(t, e.auth.SendPasswordlessCode(ctx, res.Code, false))
	require.Equal(t, sent, e.emails.count())

	code := e.emails.last(t).Code
	require.Len(t, code, 6)

	next, err := e.auth.ProcessPasswordlessCode(ctx, res.Code, code, "203.0.113.1", DeviceInfo{})
	require.NoError(t, err)
	require.True(t, next.RequireConsent)

	// Receiving the code verified the address.
	user, err := e.store.Users().GetUserByEmail(ctx, "test@email.com")
	require.NoError(t, err)
	require.True(t, user.EmailVerified)
}

func TestPasswordlessWrongCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.EnablePasswordlessSignIn = true
	e := newEnv(t, cfg)

	res, err := e.auth.AuthorizePasswordless(ctx, authReq(), "test@email.com")
	require.NoError(t, err)

	_, err = e.auth.ProcessPasswordlessCode(ctx, res.Code, "000000", "203.0.113.1", DeviceInfo{})
	require.ErrorIs(t, err, ErrWrongCode)
}

func TestPasswordlessHoldsUntilCodeProven(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.EnablePasswordlessSignIn = true
	e := newEnv(t, cfg)

	res, err := e.auth.AuthorizePasswordless(ctx, authReq(), "test@email.com")
	require.NoError(t, err)
	require.Equal(t, PagePasswordlessVerify, res.NextPage)

	// Consent cannot run ahead of the emailed sign-in code; the flow stays
	// parked on the verify page and no consent is recorded.
	state, err := e.auth.ProcessConsent(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.False(t, state.Complete())
	require.Equal(t, PagePasswordlessVerify, state.NextPage)

	grant, err := loadGrant(ctx, e.kvs, res.Code)
	require.NoError(t, err)
	has, err := e.store.Consents().HasConsent(ctx, grant.User.ID, grant.ClientUID)
	require.NoError(t, err)
	require.False(t, has)

	state, err = e.auth.GetState(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.Equal(t, PagePasswordlessVerify, state.NextPage)

	// The held code never exchanges, even with the right PKCE verifier.
	_, err = e.tokens.ExchangeCode(ctx, res.Code, testVerifier, testClientID)
	require.ErrorIs(t, err, ErrInvalidGrant)

	// Proving the code releases the grant and the normal steps resume.
	next, err := e.auth.ProcessPasswordlessCode(ctx, res.Code, e.emails.last(t).Code, "203.0.113.1", DeviceInfo{})
	require.NoError(t, err)
	require.True(t, next.RequireConsent)

	done, err := e.auth.ProcessConsent(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, done.Complete())

	_, err = e.tokens.ExchangeCode(ctx, res.Code, testVerifier, testClientID)
	require.NoError(t, err)
}

func TestIdempotentEmailMfaReentry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequireEmailMFA = true
	e := newEnv(t, cfg)
	user := e.seedUser(t)

	res, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, testPassword, "203.0.113.1", DeviceInfo{})
	require.NoError(t, err)
	res, err = e.auth.ProcessConsent(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, res.RequireEmailMfa)
	require.Equal(t, 1, e.emails.count())

	// Re-entering the pending step re-emits the same requirements without
	// resending the code.
	again, err := e.auth.GetState(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.Equal(t, res, again)
	require.Equal(t, 1, e.emails.count())

	done, err := e.auth.ProcessEmailMfa(ctx, res.Code, e.emails.last(t).Code, "203.0.113.1", false)
	require.NoError(t, err)
	require.True(t, done.Complete())

	// Resubmitting the completed step returns the same terminal result and
	// increments nothing, whatever the payload says.
	repeat, err := e.auth.ProcessEmailMfa(ctx, res.Code, "000000", "203.0.113.1", false)
	require.NoError(t, err)
	require.Equal(t, done, repeat)

	count, err := e.guard.Count(ctx, PurposeEmailMFA, user.ID, "203.0.113.1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestMonotonicGating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequireOTPMFA = true
	e := newEnv(t, cfg)
	user := e.seedUser(t)
	secret := e.enrollOtp(t, user.ID)

	res, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, testPassword, "203.0.113.1", DeviceInfo{})
	require.NoError(t, err)
	res, err = e.auth.ProcessConsent(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, res.RequireOtpMfa)
	require.False(t, res.RequireOtpSetup)
	require.Equal(t, PageOtpMfa, res.NextPage)

	done, err := e.auth.ProcessOtpMfa(ctx, res.Code, totpCode(t, secret), "203.0.113.1", false)
	require.NoError(t, err)
	require.True(t, done.Complete())

	// Even with the stamp gone, a completed stage is never re-emitted; the
	// gate is the step value, not the stamp.
	require.NoError(t, e.kvs.Delete(ctx, kv.MFAStampKey("otp", res.Code)))
	state, err := e.auth.GetState(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, state.Complete())
}

func TestOtpSetupFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequireOTPMFA = true
	e := newEnv(t, cfg)
	user := e.seedUser(t)

	res, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, testPassword, "203.0.113.1", DeviceInfo{})
	require.NoError(t, err)
	res, err = e.auth.ProcessConsent(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, res.RequireOtpSetup)
	require.Equal(t, PageOtpSetup, res.NextPage)

	// The secret was pre-generated at credential time.
	stored, err := e.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.OtpSecret)
	require.False(t, stored.OtpVerified)

	done, err := e.auth.ProcessOtpSetup(ctx, res.Code, totpCode(t, stored.OtpSecret), "203.0.113.1", false)
	require.NoError(t, err)
	require.True(t, done.Complete())

	stored, err = e.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, stored.OtpVerified)

	// The grant snapshot was refreshed after the mutation.
	grant, err := loadGrant(ctx, e.kvs, res.Code)
	require.NoError(t, err)
	require.True(t, grant.User.OtpVerified)
}

func TestFallbackSubstitution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequireOTPMFA = true
	cfg.RequireEmailMFA = true
	cfg.MFAFallback = map[domain.Factor][]domain.Factor{
		domain.FactorEmail: {domain.FactorOTP},
	}
	e := newEnv(t, cfg)
	user := e.seedUser(t)
	e.enrollOtp(t, user.ID)

	res, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, testPassword, "203.0.113.1", DeviceInfo{})
	require.NoError(t, err)
	res, err = e.auth.ProcessConsent(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, res.RequireOtpMfa)

	// One successful email verification writes both stamps and the flow
	// falls through both MFA stages.
	grant, err := loadGrant(ctx, e.kvs, res.Code)
	require.NoError(t, err)
	require.NoError(t, e.kvs.Put(ctx, kv.OneTimeCodeKey("email", res.Code), "135790", cfg.OneTimeCodeTTL))
	require.NoError(t, e.mfa.VerifyCode(ctx, domain.FactorEmail, res.Code, grant.User, "135790", "203.0.113.1"))

	for _, factor := range []string{"email", "otp"} {
		_, err := e.kvs.Get(ctx, kv.MFAStampKey(factor, res.Code))
		require.NoError(t, err, factor)
	}

	done, err := e.auth.GetState(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, done.Complete())
}

func TestRememberDeviceBypass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequireOTPMFA = true
	e := newEnv(t, cfg)
	user := e.seedUser(t)
	secret := e.enrollOtp(t, user.ID)

	res, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, testPassword, "203.0.113.1", DeviceInfo{})
	require.NoError(t, err)
	res, err = e.auth.ProcessConsent(ctx, res.Code, DeviceInfo{})
	require.NoError(t, err)

	done, err := e.auth.ProcessOtpMfa(ctx, res.Code, totpCode(t, secret), "203.0.113.1", true)
	require.NoError(t, err)
	require.True(t, done.Complete())
	require.NotEmpty(t, done.DeviceID)
	require.NotEmpty(t, done.DeviceToken)

	// A second sign-in from the remembered device skips the OTP prompt.
	device := DeviceInfo{ID: done.DeviceID, Token: done.DeviceToken}
	res2, err := e.auth.AuthorizePassword(ctx, authReq(), testEmail, testPassword, "203.0.113.1", device)
	require.NoError(t, err)
	res2, err = e.auth.ProcessConsent(ctx, res2.Code, device)
	require.NoError(t, err)
	require.True(t, res2.Complete())
}

func TestGoogleSignInProvisionsUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.EnableGoogleSignIn = true
	e := newEnv(t, cfg)
	e.auth.Social = stubSocial{profile: identity.SocialProfile{
		Subject:   "10042",
		Email:     "social@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Verified:  true,
	}}

	res, err := e.auth.AuthorizeGoogle(ctx, authReq(), "opaque-id-token", DeviceInfo{})
	require.NoError(t, err)
	require.True(t, res.RequireConsent)

	user, err := e.store.Users().GetUserByAuthID(ctx, "google:10042")
	require.NoError(t, err)
	require.Equal(t, "social@example.com", user.Email)
	require.True(t, user.EmailVerified)

	// Second sign-in reuses the record.
	_, err = e.auth.AuthorizeGoogle(ctx, authReq(), "opaque-id-token", DeviceInfo{})
	require.NoError(t, err)
	_, err = e.store.Users().GetUserByEmail(ctx, "social@example.com")
	require.NoError(t, err)
}

func TestPasskeySignIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.EnablePasskeySignIn = true
	e := newEnv(t, cfg)
	e.seedUser(t)

	challenge, err := e.auth.IssuePasskeyChallenge(ctx, testEmail)
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]string{
		"credentialId": "cred-1",
		"challenge":    challenge,
	})
	require.NoError(t, err)
	assertion := base64.RawURLEncoding.EncodeToString(raw)

	res, err := e.auth.AuthorizePasskey(ctx, authReq(), testEmail, assertion, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, res.RequireConsent)

	// The challenge is single use.
	_, err = e.auth.AuthorizePasskey(ctx, authReq(), testEmail, assertion, DeviceInfo{})
	require.ErrorIs(t, err, ErrWrongCredential)
}

func TestExpiredCodeIsInvalidGrant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, DefaultConfig())

	_, err := e.auth.GetState(ctx, "no-such-code", DeviceInfo{})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestValidateRequestRejectsBadClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, DefaultConfig())
	e.seedUser(t)

	t.Run("unknown client", func(t *testing.T) {
		req := authReq()
		req.ClientID = "nope"
		_, err := e.auth.AuthorizePassword(ctx, req, testEmail, testPassword, "203.0.113.1", DeviceInfo{})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unregistered redirect", func(t *testing.T) {
		req := authReq()
		req.RedirectURI = "https://evil.example.com/cb"
		_, err := e.auth.AuthorizePassword(ctx, req, testEmail, testPassword, "203.0.113.1", DeviceInfo{})
		require.ErrorIs(t, err, domain.ErrInvalidAuthorizeRequest)
	})

	t.Run("missing pkce", func(t *testing.T) {
		req := authReq()
		req.CodeChallenge = ""
		_, err := e.auth.AuthorizePassword(ctx, req, testEmail, testPassword, "203.0.113.1", DeviceInfo{})
		require.ErrorIs(t, err, domain.ErrInvalidAuthorizeRequest)
	})

	t.Run("overreaching scope", func(t *testing.T) {
		req := authReq()
		req.Scopes = []string{"admin"}
		_, err := e.auth.AuthorizePassword(ctx, req, testEmail, testPassword, "203.0.113.1", DeviceInfo{})
		require.ErrorIs(t, err, domain.ErrInvalidAuthorizeRequest)
	})
}
