package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"slices"
	"time"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store"
	"github.com/ValueMelody/melody-auth-sub004/pkg/cryptox"
	"github.com/ValueMelody/melody-auth-sub004/pkg/idx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/jwtx"
)

const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// TokenService exchanges completed authorization codes and refresh tokens
// for signed tokens. Refresh rotation deletes the old record before minting
// the new one, so concurrent reuse of a rotated token fails closed.
type TokenService struct {
	Store  store.Store
	KV     kv.Store
	Keys   *jwtx.KeyManager
	Config Config
}

// ExchangeCode consumes a completed authorization code. The grant must have
// reached the terminal step; an in-flight code is indistinguishable from an
// unknown one.
func (s *TokenService) ExchangeCode(ctx context.Context, code, verifier, clientID string) (domain.TokenPair, error) {
	grant, err := loadGrant(ctx, s.KV, code)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if grant.Request.ClientID != clientID {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if grant.PendingVerify || grant.Step < domain.StepEmailMFA {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if !verifyPKCE(verifier, grant.Request.CodeChallenge, grant.Request.CodeChallengeMethod) {
		return domain.TokenPair{}, ErrInvalidGrant
	}

	amr, err := s.collectAMR(ctx, code, grant.User.HasPassword)
	if err != nil {
		return domain.TokenPair{}, err
	}

	// Consume the grant. The code was reusable across steps; the exchange
	// is the one-shot end of its life.
	if err := s.KV.Delete(ctx, kv.AuthCodeKey(code)); err != nil {
		return domain.TokenPair{}, err
	}

	return s.mint(ctx, tokenSubject{
		UserID:    grant.User.ID,
		AuthID:    grant.User.AuthID,
		Email:     grant.User.Email,
		FirstName: grant.User.FirstName,
		LastName:  grant.User.LastName,
		Locale:    grant.User.Locale,
		Org:       grant.User.OrgSlug,
	}, grant.ClientUID, clientID, grant.Request.Scopes, amr)
}

// Refresh rotates a refresh token: the presented token's record is deleted
// first, then a fresh pair is minted against the user's current state.
func (s *TokenService) Refresh(ctx context.Context, refreshToken, clientID string) (domain.TokenPair, error) {
	key := kv.RefreshTokenKey(cryptox.FingerprintToken(refreshToken))
	raw, err := s.KV.Get(ctx, key)
	if kv.IsNotFound(err) {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if err != nil {
		return domain.TokenPair{}, err
	}
	rec, err := domain.DecodeRefreshRecord(raw)
	if err != nil {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if err := s.KV.Delete(ctx, key); err != nil {
		return domain.TokenPair{}, err
	}

	user, err := s.Store.Users().GetUserByID(ctx, rec.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if err != nil {
		return domain.TokenPair{}, err
	}
	if !user.IsActive {
		return domain.TokenPair{}, ErrInvalidGrant
	}

	return s.mint(ctx, tokenSubject{
		UserID:    user.ID,
		AuthID:    user.AuthID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Locale:    user.Locale,
		Org:       user.OrgSlug,
	}, rec.ClientUID, clientID, rec.Scopes, nil)
}

// Impersonate mints an access token for the target user on behalf of an
// operator. Impersonation tokens carry the operator's identity and never
// come with a refresh token.
func (s *TokenService) Impersonate(ctx context.Context, impersonatorAuthID, targetAuthID, clientID string, scopes []string) (string, error) {
	target, err := s.Store.Users().GetUserByAuthID(ctx, targetAuthID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwtx.NewClaims(s.Config.Issuer, target.AuthID, []string{clientID}, s.Config.AccessTokenTTL, now)
	claims.Scopes = scopes
	claims.Org = target.OrgSlug
	claims.ImpersonatedBy = impersonatorAuthID
	return s.Keys.Sign(claims)
}

// Logout revokes the presented refresh token and tears down the user's
// durable sessions. Revoking an unknown token is not an error.
func (s *TokenService) Logout(ctx context.Context, refreshToken string) error {
	key := kv.RefreshTokenKey(cryptox.FingerprintToken(refreshToken))
	raw, err := s.KV.Get(ctx, key)
	if kv.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	rec, err := domain.DecodeRefreshRecord(raw)
	if err != nil {
		return s.KV.Delete(ctx, key)
	}
	if err := s.KV.Delete(ctx, key); err != nil {
		return err
	}
	return s.Store.Sessions().DeleteSessionsByUser(ctx, rec.UserID)
}

// Revoke invalidates a single refresh token without touching sessions.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	return s.KV.Delete(ctx, kv.RefreshTokenKey(cryptox.FingerprintToken(refreshToken)))
}

type tokenSubject struct {
	UserID    string
	AuthID    string
	Email     string
	FirstName string
	LastName  string
	Locale    string
	Org       string
}

func (s *TokenService) mint(ctx context.Context, sub tokenSubject, clientUID, clientID string, scopes, amr []string) (domain.TokenPair, error) {
	now := time.Now()
	sessionID := idx.New().String()

	access := jwtx.NewClaims(s.Config.Issuer, sub.AuthID, []string{clientID}, s.Config.AccessTokenTTL, now)
	access.SID = sessionID
	access.Scopes = scopes
	access.AMR = amr
	access.AuthTime = now.Unix()
	access.Org = sub.Org

	accessToken, err := s.Keys.Sign(access)
	if err != nil {
		return domain.TokenPair{}, err
	}

	pair := domain.TokenPair{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   s.Config.AccessTokenTTL,
		Scopes:      scopes,
	}

	if slices.Contains(scopes, ScopeOpenID) {
		id := jwtx.NewClaims(s.Config.Issuer, sub.AuthID, []string{clientID}, s.Config.IDTokenTTL, now)
		id.SID = sessionID
		id.AuthTime = now.Unix()
		id.Email = sub.Email
		id.FirstName = sub.FirstName
		id.LastName = sub.LastName
		id.Locale = sub.Locale
		id.Org = sub.Org
		pair.IDToken, err = s.Keys.Sign(id)
		if err != nil {
			return domain.TokenPair{}, err
		}
	}

	if slices.Contains(scopes, ScopeOfflineAccess) {
		refreshToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return domain.TokenPair{}, err
		}
		rec := domain.RefreshTokenRecord{
			UserID:    sub.UserID,
			AuthID:    sub.AuthID,
			ClientUID: clientUID,
			Scopes:    scopes,
			SessionID: sessionID,
			IssuedAt:  now.Unix(),
		}
		raw, err := domain.EncodeRefreshRecord(rec)
		if err != nil {
			return domain.TokenPair{}, err
		}
		key := kv.RefreshTokenKey(cryptox.FingerprintToken(refreshToken))
		if err := s.KV.Put(ctx, key, raw, s.Config.RefreshTokenTTL); err != nil {
			return domain.TokenPair{}, err
		}
		pair.RefreshToken = refreshToken
	}

	return pair, nil
}

// collectAMR derives the authentication-methods claim from the stamps still
// live for this code. Read before the grant is consumed.
func (s *TokenService) collectAMR(ctx context.Context, code string, hasPassword bool) ([]string, error) {
	var amr []string
	if hasPassword {
		amr = append(amr, jwtx.AMRPassword)
	}

	mfaDone := false
	for _, factor := range domain.Factors {
		_, err := s.KV.Get(ctx, kv.MFAStampKey(string(factor), code))
		if kv.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mfaDone = true
		if factor == domain.FactorOTP {
			amr = append(amr, jwtx.AMROTP)
		}
	}
	if mfaDone {
		amr = append(amr, jwtx.AMRMFA)
	}
	return amr, nil
}

func verifyPKCE(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	if method == "plain" {
		return cryptox.ConstantTimeEquals(verifier, challenge)
	}
	sum := sha256.Sum256([]byte(verifier))
	return cryptox.ConstantTimeEquals(base64.RawURLEncoding.EncodeToString(sum[:]), challenge)
}
