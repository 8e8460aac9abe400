package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
)

// Purpose names an attempt counter family. Each purpose carries its own
// threshold and window from Config.
type Purpose string

const (
	PurposeSignIn      Purpose = "signin"
	PurposeReset       Purpose = "reset"
	PurposeOTPMFA      Purpose = "otp_mfa"
	PurposeSMSMFA      Purpose = "sms_mfa"
	PurposeEmailMFA    Purpose = "email_mfa"
	PurposeChangeEmail Purpose = "change_email"
)

// Guard counts attempts per (purpose, identifier, origin) in the kv store
// and locks above the configured threshold until the window lapses.
//
// Increments are last-write-wins at the store level. Thresholds are checked
// strictly greater than, so a rare lost increment under concurrency only
// weakens lockout, it never lets a wrong code pass.
type Guard struct {
	KV     kv.Store
	Config Config
}

func (g *Guard) threshold(p Purpose) (int, time.Duration) {
	switch p {
	case PurposeSignIn:
		return g.Config.SignInThreshold, g.Config.SignInWindow
	case PurposeReset:
		return g.Config.ResetThreshold, g.Config.ResetWindow
	case PurposeOTPMFA:
		return g.Config.OTPMFAThreshold, g.Config.OTPMFAWindow
	case PurposeSMSMFA:
		return g.Config.SMSMFAThreshold, g.Config.SMSMFAWindow
	case PurposeEmailMFA:
		return g.Config.EmailMFAThreshold, g.Config.EmailMFAWindow
	case PurposeChangeEmail:
		return g.Config.ChangeEmailThreshold, g.Config.ChangeEmailWindow
	}
	return 0, 0
}

// Count returns the current attempt count for the tuple.
func (g *Guard) Count(ctx context.Context, p Purpose, id, origin string) (int, error) {
	raw, err := g.KV.Get(ctx, kv.RateLimitKey(string(p), id, origin))
	if kv.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Increment bumps the counter and returns the new count. The window TTL is
// reapplied on every write.
func (g *Guard) Increment(ctx context.Context, p Purpose, id, origin string) (int, error) {
	n, err := g.Count(ctx, p, id, origin)
	if err != nil {
		return 0, err
	}
	n++
	_, window := g.threshold(p)
	key := kv.RateLimitKey(string(p), id, origin)
	if err := g.KV.Put(ctx, key, strconv.Itoa(n), window); err != nil {
		return 0, err
	}
	return n, nil
}

// Locked reports whether the tuple has already used up its attempts. Used
// as a pre-check before verifying a credential or code.
func (g *Guard) Locked(ctx context.Context, p Purpose, id, origin string) (bool, error) {
	limit, _ := g.threshold(p)
	if limit <= 0 {
		return false, nil
	}
	n, err := g.Count(ctx, p, id, origin)
	if err != nil {
		return false, err
	}
	return n >= limit, nil
}

// Acquire counts one attempt up front and fails with ErrLockedOut once the
// count passes the threshold. Used for send-style operations where the act
// itself is what is limited (reset codes, SMS sends).
func (g *Guard) Acquire(ctx context.Context, p Purpose, id, origin string) error {
	limit, _ := g.threshold(p)
	if limit <= 0 {
		return nil
	}
	n, err := g.Increment(ctx, p, id, origin)
	if err != nil {
		return err
	}
	if n > limit {
		return ErrLockedOut
	}
	return nil
}

// Reset clears the counter for one tuple.
func (g *Guard) Reset(ctx context.Context, p Purpose, id, origin string) error {
	return g.KV.Delete(ctx, kv.RateLimitKey(string(p), id, origin))
}

// ResetAll clears every origin-scoped counter for an identifier along with
// its unscoped counter. Used when a password reset is configured to unlock
// the account.
func (g *Guard) ResetAll(ctx context.Context, p Purpose, id string) error {
	keys, err := g.KV.List(ctx, kv.RateLimitPrefix(string(p), id))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := g.KV.Delete(ctx, key); err != nil {
			return err
		}
	}
	return g.KV.Delete(ctx, kv.RateLimitKey(string(p), id, ""))
}

// LockedOrigins enumerates the origins currently at or above the threshold
// for an identifier.
func (g *Guard) LockedOrigins(ctx context.Context, p Purpose, id string) ([]string, error) {
	limit, _ := g.threshold(p)
	if limit <= 0 {
		return nil, nil
	}

	prefix := kv.RateLimitPrefix(string(p), id)
	keys, err := g.KV.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var locked []string
	for _, key := range keys {
		raw, err := g.KV.Get(ctx, key)
		if kv.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		if n >= limit {
			locked = append(locked, strings.TrimPrefix(key, prefix))
		}
	}
	return locked, nil
}
