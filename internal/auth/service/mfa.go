package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/pquerna/otp/totp"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/notify"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store"
	"github.com/ValueMelody/melody-auth-sub004/pkg/cryptox"
	"github.com/ValueMelody/melody-auth-sub004/pkg/idx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/slogx"
)

const oneTimeCodeLength = 6

// MFAService decides which verification factors a login still needs and
// adjudicates submitted codes, including cross-factor fallback stamping.
type MFAService struct {
	KV     kv.Store
	Store  store.Store
	Guard  *Guard
	Email  notify.EmailSender
	SMS    notify.SMSSender
	Config Config
}

// RequiredFactors returns the factors this user must complete, derived from
// the policy toggles and the user's enrollment state. When no factor is
// individually required but an enforce-one-of set is configured, exactly one
// factor from that set is picked, preferring one the user already enrolled.
func (s *MFAService) RequiredFactors(snap domain.UserSnapshot) []domain.Factor {
	var required []domain.Factor
	if s.Config.RequireOTPMFA {
		required = append(required, domain.FactorOTP)
	}
	if s.Config.RequireEmailMFA {
		required = append(required, domain.FactorEmail)
	}
	if s.Config.RequireSMSMFA {
		required = append(required, domain.FactorSMS)
	}
	if len(required) == 0 && len(s.Config.EnforceOneMFA) > 0 {
		required = append(required, s.enforcedFactor(snap))
	}
	return required
}

func (s *MFAService) enforcedFactor(snap domain.UserSnapshot) domain.Factor {
	set := s.Config.EnforceOneMFA
	if snap.OtpVerified && slices.Contains(set, domain.FactorOTP) {
		return domain.FactorOTP
	}
	if slices.Contains(set, domain.FactorEmail) {
		return domain.FactorEmail
	}
	return set[0]
}

// OtpRequired reports whether the OTP factor is among the required set.
func (s *MFAService) OtpRequired(snap domain.UserSnapshot) bool {
	return slices.Contains(s.RequiredFactors(snap), domain.FactorOTP)
}

// MessageFactor returns the required email or SMS factor, if any. Both are
// gated by the final flow stage.
func (s *MFAService) MessageFactor(snap domain.UserSnapshot) (domain.Factor, bool) {
	required := s.RequiredFactors(snap)
	if slices.Contains(required, domain.FactorEmail) {
		return domain.FactorEmail, true
	}
	if slices.Contains(required, domain.FactorSMS) {
		return domain.FactorSMS, true
	}
	return "", false
}

// EnsureOtpSecret pre-generates an OTP secret at credential time when OTP
// will be required, so the setup page can render immediately. The secret is
// written unverified; verification happens at setup.
func (s *MFAService) EnsureOtpSecret(ctx context.Context, user *domain.User) error {
	if !s.OtpRequired(user.Snapshot()) || user.OtpSecret != "" {
		return nil
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Config.OTPIssuer,
		AccountName: user.Email,
	})
	if err != nil {
		return fmt.Errorf("generate otp secret: %w", err)
	}
	if err := s.Store.Users().UpdateOtpSecret(ctx, user.ID, key.Secret()); err != nil {
		return err
	}
	user.OtpSecret = key.Secret()
	user.OtpVerified = false
	return nil
}

// Enrollment returns what the hosted setup page needs to render a QR code
// for the snapshot's pending secret.
func (s *MFAService) Enrollment(snap domain.UserSnapshot) domain.OtpEnrollment {
	otpauth := fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		s.Config.OTPIssuer, snap.Email, snap.OtpSecret, s.Config.OTPIssuer)
	return domain.OtpEnrollment{
		Secret:  snap.OtpSecret,
		OtpAuth: otpauth,
		Issuer:  s.Config.OTPIssuer,
		Account: snap.Email,
	}
}

// VerifyOtp checks a submitted TOTP code against the snapshot's secret.
// setup additionally marks the secret verified in durable storage. Success
// stamps the otp factor (and its fallbacks) for the code; failure counts
// toward the otp lockout.
func (s *MFAService) VerifyOtp(ctx context.Context, code string, snap domain.UserSnapshot, submitted, origin string, setup bool) error {
	locked, err := s.Guard.Locked(ctx, PurposeOTPMFA, snap.ID, origin)
	if err != nil {
		return err
	}
	if locked {
		return ErrLockedOut
	}

	if snap.OtpSecret == "" {
		return ErrConfig
	}
	if !totp.Validate(submitted, snap.OtpSecret) {
		if _, err := s.Guard.Increment(ctx, PurposeOTPMFA, snap.ID, origin); err != nil {
			return err
		}
		return ErrWrongCode
	}

	if setup {
		if err := s.Store.Users().MarkOtpVerified(ctx, snap.ID); err != nil {
			return err
		}
	}
	if err := s.Guard.Reset(ctx, PurposeOTPMFA, snap.ID, origin); err != nil {
		return err
	}
	return s.StampFactor(ctx, domain.FactorOTP, code)
}

// SendCode generates and delivers the one-time code for a message factor.
// A code already outstanding for this auth code is not regenerated unless
// force is set, which keeps step re-entry from resending. Delivery failures
// are swallowed so the response never leaks whether an address exists.
func (s *MFAService) SendCode(ctx context.Context, factor domain.Factor, code string, snap domain.UserSnapshot, force bool) error {
	key := kv.OneTimeCodeKey(string(factor), code)
	if !force {
		if _, err := s.KV.Get(ctx, key); err == nil {
			return nil
		} else if !kv.IsNotFound(err) {
			return err
		}
	}

	purpose := PurposeEmailMFA
	if factor == domain.FactorSMS {
		purpose = PurposeSMSMFA
	}
	if err := s.Guard.Acquire(ctx, purpose, snap.Email, ""); err != nil {
		return err
	}

	oneTime, err := cryptox.GenerateDigits(oneTimeCodeLength)
	if err != nil {
		return err
	}
	if err := s.KV.Put(ctx, key, oneTime, s.Config.OneTimeCodeTTL); err != nil {
		return err
	}

	if factor == domain.FactorSMS {
		err = s.SMS.SendCode(ctx, snap.Phone, oneTime)
	} else {
		err = s.Email.SendCode(ctx, snap.Email, "Your verification code", oneTime)
	}
	if err != nil {
		if s.Config.PropagateSendFailure {
			return err
		}
		slogx.FromContext(ctx).Warn("code delivery failed",
			"factor", string(factor),
			"error", err,
		)
	}
	return nil
}

// VerifyCode checks a submitted email/SMS code against the stored one.
// Success stamps the factor plus its configured fallbacks and consumes the
// stored code; failure counts toward that factor's lockout.
func (s *MFAService) VerifyCode(ctx context.Context, factor domain.Factor, code string, snap domain.UserSnapshot, submitted, origin string) error {
	purpose := PurposeEmailMFA
	if factor == domain.FactorSMS {
		purpose = PurposeSMSMFA
	}

	locked, err := s.Guard.Locked(ctx, purpose, snap.ID, origin)
	if err != nil {
		return err
	}
	if locked {
		return ErrLockedOut
	}

	key := kv.OneTimeCodeKey(string(factor), code)
	stored, err := s.KV.Get(ctx, key)
	if kv.IsNotFound(err) {
		return ErrWrongCode
	}
	if err != nil {
		return err
	}

	if !cryptox.ConstantTimeEquals(stored, submitted) {
		if _, err := s.Guard.Increment(ctx, purpose, snap.ID, origin); err != nil {
			return err
		}
		return ErrWrongCode
	}

	if err := s.KV.Delete(ctx, key); err != nil {
		return err
	}
	return s.StampFactor(ctx, factor, code)
}

// StampFactor writes the satisfied marker for a factor, plus the markers of
// every factor it is configured to also satisfy. Stamps are idempotent
// writes of a fixed sentinel, so concurrent verifications cannot conflict.
func (s *MFAService) StampFactor(ctx context.Context, factor domain.Factor, code string) error {
	ttl := s.Config.CodeTTL
	if err := s.KV.Put(ctx, kv.MFAStampKey(string(factor), code), domain.StampValue, ttl); err != nil {
		return err
	}
	for _, satisfied := range s.Config.MFAFallback[factor] {
		if err := s.KV.Put(ctx, kv.MFAStampKey(string(satisfied), code), domain.StampValue, ttl); err != nil {
			return err
		}
	}
	return nil
}

// FactorStamped reports whether a factor has been satisfied for this code.
func (s *MFAService) FactorStamped(ctx context.Context, factor domain.Factor, code string) (bool, error) {
	_, err := s.KV.Get(ctx, kv.MFAStampKey(string(factor), code))
	if kv.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RememberDevice mints a device token letting this device skip the factor
// for the next thirty days (configurable). The caller sets it as a cookie.
func (s *MFAService) RememberDevice(ctx context.Context, factor domain.Factor, userID string) (deviceID, token string, err error) {
	if !s.Config.AllowRememberDevice {
		return "", "", ErrConfig
	}
	deviceID = idx.New().String()
	token, err = cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", "", err
	}
	key := kv.RememberDeviceKey(string(factor), userID, deviceID)
	if err := s.KV.Put(ctx, key, token, s.Config.RememberDeviceTTL); err != nil {
		return "", "", err
	}
	return deviceID, token, nil
}

// BypassWithDevice stamps a factor without a fresh code when the presented
// device token matches the remembered one. A miss is not an error; the
// caller just prompts normally.
func (s *MFAService) BypassWithDevice(ctx context.Context, factor domain.Factor, code, userID, deviceID, token string) (bool, error) {
	if !s.Config.AllowRememberDevice || deviceID == "" || token == "" {
		return false, nil
	}
	stored, err := s.KV.Get(ctx, kv.RememberDeviceKey(string(factor), userID, deviceID))
	if kv.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !cryptox.ConstantTimeEquals(stored, token) {
		return false, nil
	}
	if err := s.StampFactor(ctx, factor, code); err != nil {
		return false, err
	}
	return true, nil
}
