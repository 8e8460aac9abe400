package service

import (
	"context"
	"errors"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/notify"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store"
	"github.com/ValueMelody/melody-auth-sub004/pkg/cryptox"
	"github.com/ValueMelody/melody-auth-sub004/pkg/slogx"
)

// ResetService handles the password-reset code round trip. Code requests
// are throttled per address with the long reset window; a completed reset
// can optionally clear the address's sign-in lockout.
type ResetService struct {
	Store  store.Store
	KV     kv.Store
	Guard  *Guard
	Email  notify.EmailSender
	Config Config
}

// SendResetCode emails a reset code. The response is identical whether or
// not an account exists for the address.
func (s *ResetService) SendResetCode(ctx context.Context, email string) error {
	if !s.Config.EnablePasswordReset {
		return ErrConfig
	}
	email = normalizeEmail(email)

	if err := s.Guard.Acquire(ctx, PurposeReset, email, ""); err != nil {
		return err
	}

	if _, err := s.Store.Users().GetUserByEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	code, err := cryptox.GenerateDigits(oneTimeCodeLength)
	if err != nil {
		return err
	}
	if err := s.KV.Put(ctx, kv.ResetCodeKey(email), code, s.Config.ResetCodeTTL); err != nil {
		return err
	}

	if err := s.Email.SendCode(ctx, email, "Reset your password", code); err != nil {
		if s.Config.PropagateSendFailure {
			return err
		}
		slogx.FromContext(ctx).Warn("reset code delivery failed", "error", err)
	}
	return nil
}

// ResetPassword verifies the emailed code and replaces the password. All of
// the user's sessions are torn down; when configured, the address's failed
// sign-in counters are cleared across every origin.
func (s *ResetService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if !s.Config.EnablePasswordReset {
		return ErrConfig
	}
	email = normalizeEmail(email)

	stored, err := s.KV.Get(ctx, kv.ResetCodeKey(email))
	if kv.IsNotFound(err) {
		return ErrWrongCode
	}
	if err != nil {
		return err
	}
	if !cryptox.ConstantTimeEquals(stored, code) {
		return ErrWrongCode
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return ErrWrongCode
	}
	if err != nil {
		return err
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := s.KV.Delete(ctx, kv.ResetCodeKey(email)); err != nil {
		return err
	}
	if err := s.Store.Sessions().DeleteSessionsByUser(ctx, user.ID); err != nil {
		return err
	}

	if s.Config.UnlockOnPasswordReset {
		if err := s.Guard.ResetAll(ctx, PurposeSignIn, email); err != nil {
			return err
		}
	}
	return nil
}
