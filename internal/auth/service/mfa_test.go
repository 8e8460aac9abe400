package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
)

func TestRequiredFactors(t *testing.T) {
	t.Parallel()

	base := domain.UserSnapshot{ID: "u1", Email: testEmail}
	enrolled := base
	enrolled.OtpVerified = true

	t.Run("nothing configured", func(t *testing.T) {
		e := newEnv(t, DefaultConfig())
		require.Empty(t, e.mfa.RequiredFactors(base))
	})

	t.Run("individual toggles", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RequireOTPMFA = true
		cfg.RequireEmailMFA = true
		e := newEnv(t, cfg)
		require.Equal(t, []domain.Factor{domain.FactorOTP, domain.FactorEmail}, e.mfa.RequiredFactors(base))
	})

	t.Run("enforce one prefers enrolled otp", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EnforceOneMFA = []domain.Factor{domain.FactorOTP, domain.FactorEmail}
		e := newEnv(t, cfg)
		require.Equal(t, []domain.Factor{domain.FactorOTP}, e.mfa.RequiredFactors(enrolled))
		require.Equal(t, []domain.Factor{domain.FactorEmail}, e.mfa.RequiredFactors(base))
	})

	t.Run("enforce one without email falls back to first", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EnforceOneMFA = []domain.Factor{domain.FactorSMS}
		e := newEnv(t, cfg)
		require.Equal(t, []domain.Factor{domain.FactorSMS}, e.mfa.RequiredFactors(base))
	})
}

func TestVerifyOtp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequireOTPMFA = true
	cfg.OTPMFAThreshold = 2
	e := newEnv(t, cfg)
	user := e.seedUser(t)
	secret := e.enrollOtp(t, user.ID)

	stored, err := e.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	snap := stored.Snapshot()

	t.Run("wrong code counts toward lockout", func(t *testing.T) {
		require.ErrorIs(t, e.mfa.VerifyOtp(ctx, "code-a", snap, "000000", "1.1.1.1", false), ErrWrongCode)
		require.ErrorIs(t, e.mfa.VerifyOtp(ctx, "code-a", snap, "000000", "1.1.1.1", false), ErrWrongCode)
		require.ErrorIs(t, e.mfa.VerifyOtp(ctx, "code-a", snap, totpCode(t, secret), "1.1.1.1", false), ErrLockedOut)
	})

	t.Run("success stamps and clears the counter", func(t *testing.T) {
		require.NoError(t, e.mfa.VerifyOtp(ctx, "code-b", snap, totpCode(t, secret), "2.2.2.2", false))
		stamped, err := e.mfa.FactorStamped(ctx, domain.FactorOTP, "code-b")
		require.NoError(t, err)
		require.True(t, stamped)
	})

	t.Run("missing secret is an operator error", func(t *testing.T) {
		bare := domain.UserSnapshot{ID: "u-none", Email: testEmail}
		require.ErrorIs(t, e.mfa.VerifyOtp(ctx, "code-c", bare, "000000", "3.3.3.3", false), ErrConfig)
	})
}

func TestVerifyOtpSetupMarksVerified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RequireOTPMFA = true
	e := newEnv(t, cfg)
	user := e.seedUser(t)

	loaded, err := e.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, e.mfa.EnsureOtpSecret(ctx, &loaded))
	require.NotEmpty(t, loaded.OtpSecret)

	require.NoError(t, e.mfa.VerifyOtp(ctx, "code-s", loaded.Snapshot(), totpCode(t, loaded.OtpSecret), "1.1.1.1", true))

	after, err := e.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, after.OtpVerified)
}

func TestSendCodeReuseAndForce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, DefaultConfig())
	snap := domain.UserSnapshot{ID: "u1", Email: testEmail}

	require.NoError(t, e.mfa.SendCode(ctx, domain.FactorEmail, "code-1", snap, false))
	require.Equal(t, 1, e.emails.count())
	first := e.emails.last(t).Code

	// Outstanding code is reused.
	require.NoError(t, e.mfa.SendCode(ctx, domain.FactorEmail, "code-1", snap, false))
	require.Equal(t, 1, e.emails.count())

	// Force regenerates.
	require.NoError(t, e.mfa.SendCode(ctx, domain.FactorEmail, "code-1", snap, true))
	require.Equal(t, 2, e.emails.count())
	stored, err := e.kvs.Get(ctx, kv.OneTimeCodeKey("email", "code-1"))
	require.NoError(t, err)
	require.Equal(t, e.emails.last(t).Code, stored)
	require.Len(t, first, 6)
}

func TestSendCodeSwallowsDeliveryFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, DefaultConfig())
	e.emails.fail = context.DeadlineExceeded
	snap := domain.UserSnapshot{ID: "u1", Email: testEmail}

	require.NoError(t, e.mfa.SendCode(ctx, domain.FactorEmail, "code-1", snap, false))

	cfg := DefaultConfig()
	cfg.PropagateSendFailure = true
	strict := newEnv(t, cfg)
	strict.emails.fail = context.DeadlineExceeded
	require.Error(t, strict.mfa.SendCode(ctx, domain.FactorEmail, "code-1", snap, false))
}

func TestVerifyCodeConsumesStoredCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, DefaultConfig())
	snap := domain.UserSnapshot{ID: "u1", Email: testEmail}

	require.NoError(t, e.kvs.Put(ctx, kv.OneTimeCodeKey("email", "code-1"), "246802", e.cfg.OneTimeCodeTTL))
	require.ErrorIs(t, e.mfa.VerifyCode(ctx, domain.FactorEmail, "code-1", snap, "000000", "1.1.1.1"), ErrWrongCode)
	require.NoError(t, e.mfa.VerifyCode(ctx, domain.FactorEmail, "code-1", snap, "246802", "1.1.1.1"))

	// Consumed: a replay of the right code now misses.
	require.ErrorIs(t, e.mfa.VerifyCode(ctx, domain.FactorEmail, "code-1", snap, "246802", "1.1.1.1"), ErrWrongCode)
}

func TestRememberDeviceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, DefaultConfig())

	deviceID, token, err := e.mfa.RememberDevice(ctx, domain.FactorOTP, "u1")
	require.NoError(t, err)

	t.Run("wrong token does not stamp", func(t *testing.T) {
		ok, err := e.mfa.BypassWithDevice(ctx, domain.FactorOTP, "code-1", "u1", deviceID, "forged")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("match stamps the factor", func(t *testing.T) {
		ok, err := e.mfa.BypassWithDevice(ctx, domain.FactorOTP, "code-1", "u1", deviceID, token)
		require.NoError(t, err)
		require.True(t, ok)
		stamped, err := e.mfa.FactorStamped(ctx, domain.FactorOTP, "code-1")
		require.NoError(t, err)
		require.True(t, stamped)
	})

	t.Run("disabled by config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AllowRememberDevice = false
		off := newEnv(t, cfg)
		_, _, err := off.mfa.RememberDevice(ctx, domain.FactorOTP, "u1")
		require.ErrorIs(t, err, ErrConfig)
	})
}
