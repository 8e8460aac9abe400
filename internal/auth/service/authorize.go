package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/identity"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store"
	"github.com/ValueMelody/melody-auth-sub004/pkg/cryptox"
	"github.com/ValueMelody/melody-auth-sub004/pkg/idx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/slogx"
)

// Hosted pages the caller renders for whichever step is still pending.
const (
	PagePasswordlessVerify = "passwordless_verify"
	PageConsent            = "consent"
	PageOtpSetup           = "otp_setup"
	PageOtpMfa             = "otp_mfa"
	PageEmailMfa           = "email_mfa"
	PageSmsMfa             = "sms_mfa"
)

// DeviceInfo is the remember-device cookie pair a returning client presents
// to skip a previously completed factor.
type DeviceInfo struct {
	ID    string
	Token string
}

// StepResult is the response every flow step returns. The code, redirect
// target, state and scopes are identical on every step of one attempt; the
// require flags shrink monotonically as the flow advances.
type StepResult struct {
	Code        string   `json:"code"`
	RedirectURI string   `json:"redirectUri"`
	State       string   `json:"state"`
	Scopes      []string `json:"scopes"`

	RequireConsent  bool `json:"requireConsent,omitempty"`
	RequireOtpSetup bool `json:"requireOtpSetup,omitempty"`
	RequireOtpMfa   bool `json:"requireOtpMfa,omitempty"`
	RequireEmailMfa bool `json:"requireEmailMfa,omitempty"`
	RequireSmsMfa   bool `json:"requireSmsMfa,omitempty"`

	NextPage string `json:"nextPage,omitempty"`

	// Set when a remember-device enrollment was minted during this step.
	DeviceID    string `json:"deviceId,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
}

// Complete reports whether the flow reached its terminal state and the code
// is ready for token exchange.
func (r StepResult) Complete() bool {
	return !r.RequireConsent && !r.RequireOtpSetup && !r.RequireOtpMfa &&
		!r.RequireEmailMfa && !r.RequireSmsMfa && r.NextPage == ""
}

// AuthorizeService is the flow state machine. Each step's POST loads the
// grant by code, consults the MFA policy and the rate-limit guard, advances
// the step when its stage is satisfied, and re-emits the outstanding
// requirements. Nothing here blocks on another in-flight request; all
// shared state lives in the kv store.
type AuthorizeService struct {
	Store   store.Store
	KV      kv.Store
	MFA     *MFAService
	Guard   *Guard
	Social  identity.SocialVerifier
	Passkey identity.PasskeyVerifier
	Config  Config
}

// AuthorizePassword is the password credential entry point.
func (s *AuthorizeService) AuthorizePassword(ctx context.Context, req domain.AuthorizeRequest, email, password, origin string, device DeviceInfo) (StepResult, error) {
	if !s.Config.EnablePasswordSignIn {
		return StepResult{}, ErrConfig
	}
	client, err := s.validateRequest(ctx, &req)
	if err != nil {
		return StepResult{}, err
	}

	email = normalizeEmail(email)
	locked, err := s.Guard.Locked(ctx, PurposeSignIn, email, origin)
	if err != nil {
		return StepResult{}, err
	}
	if locked {
		return StepResult{}, ErrLockedOut
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return StepResult{}, s.failCredential(ctx, email, origin)
	}
	if err != nil {
		return StepResult{}, err
	}
	if !user.IsActive || user.PasswordHash == "" {
		return StepResult{}, s.failCredential(ctx, email, origin)
	}
	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		return StepResult{}, s.failCredential(ctx, email, origin)
	}
	if err := s.Guard.Reset(ctx, PurposeSignIn, email, origin); err != nil {
		return StepResult{}, err
	}

	if err := s.MFA.EnsureOtpSecret(ctx, &user); err != nil {
		return StepResult{}, err
	}
	code, grant, err := s.createGrant(ctx, client, user, req, false)
	if err != nil {
		return StepResult{}, err
	}
	return s.nextSteps(ctx, code, grant, device)
}

func (s *AuthorizeService) failCredential(ctx context.Context, email, origin string) error {
	if _, err := s.Guard.Increment(ctx, PurposeSignIn, email, origin); err != nil {
		return err
	}
	return ErrWrongCredential
}

// AuthorizePasswordless opens a passwordless flow: the grant is created up
// front, a sign-in code is emailed, and the caller is pointed at the verify
// page. A user record is provisioned when none exists for the address.
func (s *AuthorizeService) AuthorizePasswordless(ctx context.Context, req domain.AuthorizeRequest, email string) (StepResult, error) {
	if !s.Config.EnablePasswordlessSignIn {
		return StepResult{}, ErrConfig
	}
	client, err := s.validateRequest(ctx, &req)
	if err != nil {
		return StepResult{}, err
	}

	email = normalizeEmail(email)
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.provisionUser(ctx, newUserParams{
			Email:  email,
			Locale: req.Locale,
			Org:    req.Org,
		})
	}
	if err != nil {
		return StepResult{}, err
	}

	if err := s.MFA.EnsureOtpSecret(ctx, &user); err != nil {
		return StepResult{}, err
	}
	code, grant, err := s.createGrant(ctx, client, user, req, true)
	if err != nil {
		return StepResult{}, err
	}
	if err := s.SendPasswordlessCode(ctx, code, false); err != nil {
		return StepResult{}, err
	}
	return s.nextSteps(ctx, code, grant, DeviceInfo{})
}

// SendPasswordlessCode emails the sign-in code for an open passwordless
// flow. An outstanding code is reused unless force is set.
func (s *AuthorizeService) SendPasswordlessCode(ctx context.Context, code string, force bool) error {
	grant, err := s.loadGrant(ctx, code)
	if err != nil {
		return err
	}

	key := kv.PasswordlessCodeKey(code)
	if !force {
		if _, err := s.KV.Get(ctx, key); err == nil {
			return nil
		} else if !kv.IsNotFound(err) {
			return err
		}
	}

	if err := s.Guard.Acquire(ctx, PurposeEmailMFA, grant.User.Email, ""); err != nil {
		return err
	}
	oneTime, err := cryptox.GenerateDigits(oneTimeCodeLength)
	if err != nil {
		return err
	}
	if err := s.KV.Put(ctx, key, oneTime, s.Config.OneTimeCodeTTL); err != nil {
		return err
	}

	if err := s.MFA.Email.SendCode(ctx, grant.User.Email, "Your sign-in code", oneTime); err != nil {
		if s.Config.PropagateSendFailure {
			return err
		}
		slogx.FromContext(ctx).Warn("passwordless code delivery failed", "error", err)
	}
	return nil
}

// ProcessPasswordlessCode verifies the emailed sign-in code, which is the
// credential for this flow, and computes the remaining steps.
func (s *AuthorizeService) ProcessPasswordlessCode(ctx context.Context, code, submitted, origin string, device DeviceInfo) (StepResult, error) {
	grant, err := s.loadGrant(ctx, code)
	if err != nil {
		return StepResult{}, err
	}

	locked, err := s.Guard.Locked(ctx, PurposeSignIn, grant.User.Email, origin)
	if err != nil {
		return StepResult{}, err
	}
	if locked {
		return StepResult{}, ErrLockedOut
	}

	stored, err := s.KV.Get(ctx, kv.PasswordlessCodeKey(code))
	if kv.IsNotFound(err) {
		return StepResult{}, ErrWrongCode
	}
	if err != nil {
		return StepResult{}, err
	}
	if !cryptox.ConstantTimeEquals(stored, submitted) {
		if _, err := s.Guard.Increment(ctx, PurposeSignIn, grant.User.Email, origin); err != nil {
			return StepResult{}, err
		}
		return StepResult{}, ErrWrongCode
	}

	if err := s.KV.Delete(ctx, kv.PasswordlessCodeKey(code)); err != nil {
		return StepResult{}, err
	}
	if err := s.Guard.Reset(ctx, PurposeSignIn, grant.User.Email, origin); err != nil {
		return StepResult{}, err
	}

	// Receiving the code proves control of the address.
	if err := s.Store.Users().MarkEmailVerified(ctx, grant.User.ID); err != nil {
		return StepResult{}, err
	}

	// Only this proof releases the grant for the remaining steps.
	grant.PendingVerify = false
	if err := s.saveGrant(ctx, code, grant); err != nil {
		return StepResult{}, err
	}
	return s.nextSteps(ctx, code, grant, device)
}

// AuthorizeGoogle verifies a Google issued credential and opens a flow for
// the attested identity, provisioning a user on first sign-in.
func (s *AuthorizeService) AuthorizeGoogle(ctx context.Context, req domain.AuthorizeRequest, credential string, device DeviceInfo) (StepResult, error) {
	if !s.Config.EnableGoogleSignIn {
		return StepResult{}, ErrConfig
	}
	client, err := s.validateRequest(ctx, &req)
	if err != nil {
		return StepResult{}, err
	}

	profile, err := s.Social.Verify(ctx, credential)
	if err != nil {
		return StepResult{}, ErrWrongCredential
	}

	authID := "google:" + profile.Subject
	user, err := s.Store.Users().GetUserByAuthID(ctx, authID)
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.provisionUser(ctx, newUserParams{
			AuthID:        authID,
			Email:         normalizeEmail(profile.Email),
			FirstName:     profile.FirstName,
			LastName:      profile.LastName,
			Locale:        req.Locale,
			Org:           req.Org,
			EmailVerified: profile.Verified,
		})
	}
	if err != nil {
		return StepResult{}, err
	}

	if err := s.MFA.EnsureOtpSecret(ctx, &user); err != nil {
		return StepResult{}, err
	}
	code, grant, err := s.createGrant(ctx, client, user, req, false)
	if err != nil {
		return StepResult{}, err
	}
	return s.nextSteps(ctx, code, grant, device)
}

// IssuePasskeyChallenge hands out the challenge the authenticator must sign
// for this email's next passkey sign-in.
func (s *AuthorizeService) IssuePasskeyChallenge(ctx context.Context, email string) (string, error) {
	if !s.Config.EnablePasskeySignIn {
		return "", ErrConfig
	}
	challenge, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", err
	}
	email = normalizeEmail(email)
	if err := s.KV.Put(ctx, kv.PasskeyChallengeKey(email), challenge, s.Config.CodeTTL); err != nil {
		return "", err
	}
	return challenge, nil
}

// AuthorizePasskey verifies a passkey assertion against the outstanding
// challenge and opens a flow for the user. Passkeys count as a possession
// factor, so the OTP stage is stamped up front.
func (s *AuthorizeService) AuthorizePasskey(ctx context.Context, req domain.AuthorizeRequest, email, assertion string, device DeviceInfo) (StepResult, error) {
	if !s.Config.EnablePasskeySignIn {
		return StepResult{}, ErrConfig
	}
	client, err := s.validateRequest(ctx, &req)
	if err != nil {
		return StepResult{}, err
	}

	email = normalizeEmail(email)
	challenge, err := s.KV.Get(ctx, kv.PasskeyChallengeKey(email))
	if kv.IsNotFound(err) {
		return StepResult{}, ErrWrongCredential
	}
	if err != nil {
		return StepResult{}, err
	}
	if _, err := s.Passkey.Verify(ctx, assertion, challenge); err != nil {
		return StepResult{}, ErrWrongCredential
	}
	if err := s.KV.Delete(ctx, kv.PasskeyChallengeKey(email)); err != nil {
		return StepResult{}, err
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return StepResult{}, ErrWrongCredential
	}
	if err != nil {
		return StepResult{}, err
	}

	code, grant, err := s.createGrant(ctx, client, user, req, false)
	if err != nil {
		return StepResult{}, err
	}
	if err := s.MFA.StampFactor(ctx, domain.FactorOTP, code); err != nil {
		return StepResult{}, err
	}
	return s.nextSteps(ctx, code, grant, device)
}

// GetState recomputes the outstanding requirements for an open flow. Used
// by the GET variant of every step page.
func (s *AuthorizeService) GetState(ctx context.Context, code string, device DeviceInfo) (StepResult, error) {
	grant, err := s.loadGrant(ctx, code)
	if err != nil {
		return StepResult{}, err
	}
	return s.nextSteps(ctx, code, grant, device)
}

// ProcessConsent records the user's approval of the client's requested
// access and advances past the consent stage. Resubmission is a no-op.
func (s *AuthorizeService) ProcessConsent(ctx context.Context, code string, device DeviceInfo) (StepResult, error) {
	grant, err := s.loadGrant(ctx, code)
	if err != nil {
		return StepResult{}, err
	}

	// An unproven passwordless attempt records nothing; the caller is sent
	// back to the verify page.
	if grant.PendingVerify {
		return s.nextSteps(ctx, code, grant, device)
	}

	if grant.Step < domain.StepConsent {
		err := s.Store.Consents().CreateConsent(ctx, domain.Consent{
			UserID:    grant.User.ID,
			ClientUID: grant.ClientUID,
		})
		if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return StepResult{}, err
		}
	}
	return s.nextSteps(ctx, code, grant, device)
}

// ProcessOtpSetup verifies the first TOTP code against a pending secret,
// marking the enrollment verified. The snapshot inside the grant is
// re-read from durable storage afterwards so the rest of this same flow
// sees the mutation.
func (s *AuthorizeService) ProcessOtpSetup(ctx context.Context, code, submitted, origin string, remember bool) (StepResult, error) {
	return s.processOtp(ctx, code, submitted, origin, remember, true)
}

// ProcessOtpMfa verifies a TOTP code for an already enrolled user.
func (s *AuthorizeService) ProcessOtpMfa(ctx context.Context, code, submitted, origin string, remember bool) (StepResult, error) {
	return s.processOtp(ctx, code, submitted, origin, remember, false)
}

func (s *AuthorizeService) processOtp(ctx context.Context, code, submitted, origin string, remember, setup bool) (StepResult, error) {
	grant, err := s.loadGrant(ctx, code)
	if err != nil {
		return StepResult{}, err
	}

	// Already past this stage: idempotent re-entry, no counter, no check.
	if grant.Step >= domain.StepOtpMFA {
		return s.nextSteps(ctx, code, grant, DeviceInfo{})
	}

	if err := s.MFA.VerifyOtp(ctx, code, grant.User, submitted, origin, setup); err != nil {
		return StepResult{}, err
	}
	if setup {
		if err := s.refreshSnapshot(ctx, &grant); err != nil {
			return StepResult{}, err
		}
	}

	res, err := s.nextSteps(ctx, code, grant, DeviceInfo{})
	if err != nil {
		return StepResult{}, err
	}
	if remember {
		res.DeviceID, res.DeviceToken, err = s.MFA.RememberDevice(ctx, domain.FactorOTP, grant.User.ID)
		if err != nil {
			return StepResult{}, err
		}
	}
	return res, nil
}

// ProcessEmailMfa verifies the emailed one-time code for the final stage.
func (s *AuthorizeService) ProcessEmailMfa(ctx context.Context, code, submitted, origin string, remember bool) (StepResult, error) {
	return s.processMessageMfa(ctx, domain.FactorEmail, code, submitted, origin, remember)
}

// ProcessSmsMfa verifies the texted one-time code for the final stage.
func (s *AuthorizeService) ProcessSmsMfa(ctx context.Context, code, submitted, origin string, remember bool) (StepResult, error) {
	return s.processMessageMfa(ctx, domain.FactorSMS, code, submitted, origin, remember)
}

func (s *AuthorizeService) processMessageMfa(ctx context.Context, factor domain.Factor, code, submitted, origin string, remember bool) (StepResult, error) {
	grant, err := s.loadGrant(ctx, code)
	if err != nil {
		return StepResult{}, err
	}
	if grant.Step >= domain.StepEmailMFA {
		return s.nextSteps(ctx, code, grant, DeviceInfo{})
	}

	if err := s.MFA.VerifyCode(ctx, factor, code, grant.User, submitted, origin); err != nil {
		return StepResult{}, err
	}

	res, err := s.nextSteps(ctx, code, grant, DeviceInfo{})
	if err != nil {
		return StepResult{}, err
	}
	if remember {
		res.DeviceID, res.DeviceToken, err = s.MFA.RememberDevice(ctx, factor, grant.User.ID)
		if err != nil {
			return StepResult{}, err
		}
	}
	return res, nil
}

// OtpSetupInfo returns what the setup page renders for an open flow's
// pending enrollment.
func (s *AuthorizeService) OtpSetupInfo(ctx context.Context, code string) (domain.OtpEnrollment, error) {
	grant, err := s.loadGrant(ctx, code)
	if err != nil {
		return domain.OtpEnrollment{}, err
	}
	if grant.User.OtpSecret == "" {
		return domain.OtpEnrollment{}, ErrConfig
	}
	return s.MFA.Enrollment(grant.User), nil
}

// ResendMfaCode forces a fresh one-time code for the pending message factor.
func (s *AuthorizeService) ResendMfaCode(ctx context.Context, code string) error {
	grant, err := s.loadGrant(ctx, code)
	if err != nil {
		return err
	}
	factor, need := s.MFA.MessageFactor(grant.User)
	if !need {
		return ErrConfig
	}
	return s.MFA.SendCode(ctx, factor, code, grant.User, true)
}

// nextSteps is the heart of the state machine. It advances the step past
// every satisfied stage, persists the grant when it moved, establishes the
// durable session on the terminal transition, and reports what is still
// outstanding. Every gate is "step < stage", which makes re-entry
// idempotent and gating monotonic.
func (s *AuthorizeService) nextSteps(ctx context.Context, code string, grant domain.AuthCodeGrant, device DeviceInfo) (StepResult, error) {
	// A passwordless grant whose sign-in code is unproven stays parked on
	// the verify page no matter which step handler re-entered here. Only
	// ProcessPasswordlessCode clears the hold.
	if grant.PendingVerify {
		return StepResult{
			Code:        code,
			RedirectURI: grant.Request.RedirectURI,
			State:       grant.Request.State,
			Scopes:      grant.Request.Scopes,
			NextPage:    PagePasswordlessVerify,
		}, nil
	}

	before := grant.Step
	snap := grant.User

	if grant.Step < domain.StepConsent {
		has, err := s.Store.Consents().HasConsent(ctx, snap.ID, grant.ClientUID)
		if err != nil {
			return StepResult{}, err
		}
		if has {
			grant.Step = domain.StepConsent
		}
	}

	if grant.Step == domain.StepConsent {
		done, err := s.stageSatisfied(ctx, domain.FactorOTP, code, snap, device, !s.MFA.OtpRequired(snap))
		if err != nil {
			return StepResult{}, err
		}
		if done {
			grant.Step = domain.StepOtpMFA
		}
	}

	if grant.Step == domain.StepOtpMFA {
		factor, need := s.MFA.MessageFactor(snap)
		done := true
		if need {
			var err error
			done, err = s.stageSatisfied(ctx, factor, code, snap, device, false)
			if err != nil {
				return StepResult{}, err
			}
		}
		if done {
			grant.Step = domain.StepEmailMFA
		}
	}

	res := StepResult{
		Code:        code,
		RedirectURI: grant.Request.RedirectURI,
		State:       grant.Request.State,
		Scopes:      grant.Request.Scopes,
	}

	switch {
	case grant.Step < domain.StepConsent:
		res.RequireConsent = true
		res.NextPage = PageConsent

	case grant.Step < domain.StepOtpMFA:
		res.RequireOtpMfa = true
		if !snap.OtpVerified {
			res.RequireOtpSetup = true
			res.NextPage = PageOtpSetup
		} else {
			res.NextPage = PageOtpMfa
		}

	case grant.Step < domain.StepEmailMFA:
		factor, _ := s.MFA.MessageFactor(snap)
		if factor == domain.FactorSMS {
			res.RequireSmsMfa = true
			res.NextPage = PageSmsMfa
		} else {
			res.RequireEmailMfa = true
			res.NextPage = PageEmailMfa
		}
		// The stage just became the frontmost pending one; an already
		// outstanding code is reused, so retries never resend.
		if err := s.MFA.SendCode(ctx, factor, code, snap, false); err != nil {
			return StepResult{}, err
		}
	}

	if grant.Step != before {
		if err := s.saveGrant(ctx, code, grant); err != nil {
			return StepResult{}, err
		}
	}

	if grant.Step == domain.StepEmailMFA && before < domain.StepEmailMFA {
		if err := s.establishSession(ctx, grant); err != nil {
			return StepResult{}, err
		}
	}
	return res, nil
}

// stageSatisfied reports whether a factor stage can be passed: not required
// at all, already stamped, or satisfied by a remembered device.
func (s *AuthorizeService) stageSatisfied(ctx context.Context, factor domain.Factor, code string, snap domain.UserSnapshot, device DeviceInfo, notRequired bool) (bool, error) {
	if notRequired {
		return true, nil
	}
	stamped, err := s.MFA.FactorStamped(ctx, factor, code)
	if err != nil {
		return false, err
	}
	if stamped {
		return true, nil
	}
	return s.MFA.BypassWithDevice(ctx, factor, code, snap.ID, device.ID, device.Token)
}

func (s *AuthorizeService) establishSession(ctx context.Context, grant domain.AuthCodeGrant) error {
	now := time.Now()
	return s.Store.Sessions().CreateSession(ctx, domain.Session{
		ID:        idx.New().String(),
		UserID:    grant.User.ID,
		ClientUID: grant.ClientUID,
		Scopes:    grant.Request.Scopes,
		ExpiresAt: now.Add(s.Config.SessionTTL),
	})
}

// validateRequest normalizes and validates the request, resolves the client
// and pins the granted scopes to the client's registered set.
func (s *AuthorizeService) validateRequest(ctx context.Context, req *domain.AuthorizeRequest) (domain.Client, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.Client{}, err
	}

	client, err := s.Store.Clients().GetClientByClientID(ctx, req.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, ErrNotFound
	}
	if err != nil {
		return domain.Client{}, err
	}
	if !client.IsActive {
		return domain.Client{}, ErrNotFound
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		return domain.Client{}, domain.ErrInvalidAuthorizeRequest
	}

	if len(req.Scopes) == 0 {
		req.Scopes = slices.Clone(client.Scopes)
	} else {
		for _, scope := range req.Scopes {
			if !slices.Contains(client.Scopes, scope) {
				return domain.Client{}, domain.ErrInvalidAuthorizeRequest
			}
		}
	}
	return client, nil
}

func (s *AuthorizeService) createGrant(ctx context.Context, client domain.Client, user domain.User, req domain.AuthorizeRequest, pendingVerify bool) (string, domain.AuthCodeGrant, error) {
	code, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", domain.AuthCodeGrant{}, err
	}
	grant := domain.AuthCodeGrant{
		ClientUID:     client.ID,
		ClientName:    client.Name,
		User:          user.Snapshot(),
		Request:       req,
		Step:          domain.StepCredential,
		PendingVerify: pendingVerify,
		ExpiresAt:     time.Now().Add(s.Config.CodeTTL),
	}
	if err := s.saveGrant(ctx, code, grant); err != nil {
		return "", domain.AuthCodeGrant{}, err
	}
	return code, grant, nil
}

func (s *AuthorizeService) loadGrant(ctx context.Context, code string) (domain.AuthCodeGrant, error) {
	return loadGrant(ctx, s.KV, code)
}

func (s *AuthorizeService) saveGrant(ctx context.Context, code string, grant domain.AuthCodeGrant) error {
	return saveGrant(ctx, s.KV, code, grant)
}

func loadGrant(ctx context.Context, kvs kv.Store, code string) (domain.AuthCodeGrant, error) {
	raw, err := kvs.Get(ctx, kv.AuthCodeKey(code))
	if kv.IsNotFound(err) {
		return domain.AuthCodeGrant{}, ErrInvalidGrant
	}
	if err != nil {
		return domain.AuthCodeGrant{}, err
	}
	grant, err := domain.DecodeGrant(raw)
	if err != nil {
		return domain.AuthCodeGrant{}, ErrInvalidGrant
	}
	return grant, nil
}

// saveGrant rewrites the grant under its code for whatever is left of the
// attempt's window. Step transitions and mid-flow snapshot updates never
// extend the deadline.
func saveGrant(ctx context.Context, kvs kv.Store, code string, grant domain.AuthCodeGrant) error {
	ttl := time.Until(grant.ExpiresAt)
	if ttl <= 0 {
		return ErrInvalidGrant
	}
	raw, err := domain.EncodeGrant(grant)
	if err != nil {
		return err
	}
	return kvs.Put(ctx, kv.AuthCodeKey(code), raw, ttl)
}

// refreshSnapshot re-reads the user from durable storage into the grant
// after a mutating sub-step, so the remainder of the flow sees it.
func (s *AuthorizeService) refreshSnapshot(ctx context.Context, grant *domain.AuthCodeGrant) error {
	user, err := s.Store.Users().GetUserByID(ctx, grant.User.ID)
	if err != nil {
		return err
	}
	grant.User = user.Snapshot()
	return nil
}

type newUserParams struct {
	AuthID        string
	Email         string
	FirstName     string
	LastName      string
	Locale        string
	Org           string
	EmailVerified bool
}

// provisionUser creates a user record for passwordless and social first
// sign-ins. The requested org slug is honored only when the org exists,
// allows public registration and is not branding-only.
func (s *AuthorizeService) provisionUser(ctx context.Context, p newUserParams) (domain.User, error) {
	user := domain.User{
		ID:            idx.New().String(),
		AuthID:        p.AuthID,
		Email:         p.Email,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Locale:        p.Locale,
		EmailVerified: p.EmailVerified,
		IsActive:      true,
	}
	if user.AuthID == "" {
		user.AuthID = idx.New().String()
	}
	if user.Locale == "" {
		user.Locale = "en"
	}

	var org domain.Org
	if p.Org != "" && s.Config.EnableOrg {
		found, err := s.Store.Orgs().GetOrgBySlug(ctx, p.Org)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.User{}, err
		}
		if err == nil && found.AllowPublicRegistration && !found.OnlyUseForBrandingOverride {
			org = found
			user.OrgSlug = org.Slug
		}
	}

	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	if user.OrgSlug != "" {
		if err := s.Store.Orgs().AddMembership(ctx, user.ID, org.ID); err != nil {
			return domain.User{}, err
		}
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
