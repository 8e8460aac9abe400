package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/identity"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store/drivers/sqlite"
	"github.com/ValueMelody/melody-auth-sub004/pkg/cryptox"
	"github.com/ValueMelody/melody-auth-sub004/pkg/idx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/jwtx"
)

const (
	testEmail    = "user@example.com"
	testPassword = "correct horse battery staple"
	testVerifier = "0123456789abcdefghijklmnopqrstuvwxyz-_ABCDE"
	testClientID = "hosted-spa"
	testRedirect = "https://app.example.com/callback"
)

type sentMessage struct {
	To      string
	Subject string
	Code    string
}

type captureEmail struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

func (c *captureEmail) SendCode(_ context.Context, to, subject, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, sentMessage{To: to, Subject: subject, Code: code})
	return nil
}

func (c *captureEmail) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *captureEmail) last(t *testing.T) sentMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	return c.sent[len(c.sent)-1]
}

type captureSMS struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (c *captureSMS) SendCode(_ context.Context, phone, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{To: phone, Code: code})
	return nil
}

type stubSocial struct {
	profile identity.SocialProfile
	err     error
}

func (s stubSocial) Verify(context.Context, string) (identity.SocialProfile, error) {
	return s.profile, s.err
}

type env struct {
	cfg    Config
	store  store.Store
	kvs    kv.Store
	guard  *Guard
	mfa    *MFAService
	auth   *AuthorizeService
	orgs   *OrgService
	tokens *TokenService
	reset  *ResetService
	keys   *jwtx.KeyManager
	emails *captureEmail
	sms    *captureSMS
	client domain.Client
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	keys, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmES256})
	require.NoError(t, err)

	mem := kv.NewMemory()
	emails := &captureEmail{}
	sms := &captureSMS{}
	guard := &Guard{KV: mem, Config: cfg}
	mfa := &MFAService{KV: mem, Store: st, Guard: guard, Email: emails, SMS: sms, Config: cfg}

	e := &env{
		cfg:    cfg,
		store:  st,
		kvs:    mem,
		guard:  guard,
		mfa:    mfa,
		keys:   keys,
		emails: emails,
		sms:    sms,
	}
	e.auth = &AuthorizeService{
		Store:   st,
		KV:      mem,
		MFA:     mfa,
		Guard:   guard,
		Social:  stubSocial{},
		Passkey: identity.ChallengePasskeyVerifier{},
		Config:  cfg,
	}
	e.orgs = &OrgService{Store: st, KV: mem, Config: cfg}
	e.tokens = &TokenService{Store: st, KV: mem, Keys: keys, Config: cfg}
	e.reset = &ResetService{Store: st, KV: mem, Guard: guard, Email: emails, Config: cfg}

	e.client = domain.Client{
		ID:           idx.New().String(),
		ClientID:     testClientID,
		Name:         "Hosted Pages",
		Type:         "spa",
		RedirectURIs: []string{testRedirect},
		Scopes:       []string{"openid", "profile", "offline_access"},
		IsActive:     true,
	}
	require.NoError(t, st.Clients().CreateClient(context.Background(), e.client))
	return e
}

func (e *env) seedUser(t *testing.T) domain.User {
	t.Helper()
	hash, err := cryptox.HashPassword(testPassword)
	require.NoError(t, err)

	u := domain.User{
		ID:            idx.New().String(),
		AuthID:        idx.New().String(),
		Email:         testEmail,
		PasswordHash:  hash,
		Locale:        "en",
		EmailVerified: true,
		IsActive:      true,
	}
	require.NoError(t, e.store.Users().CreateUser(context.Background(), u))
	return u
}

// enrollOtp gives the user a verified TOTP enrollment and returns the secret.
func (e *env) enrollOtp(t *testing.T, userID string) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: testEmail})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.store.Users().UpdateOtpSecret(ctx, userID, key.Secret()))
	require.NoError(t, e.store.Users().MarkOtpVerified(ctx, userID))
	return key.Secret()
}

func (e *env) seedOrg(t *testing.T, slug string, member domain.User) domain.Org {
	t.Helper()
	org := domain.Org{
		ID:                      idx.New().String(),
		Name:                    slug,
		Slug:                    slug,
		AllowPublicRegistration: true,
	}
	ctx := context.Background()
	require.NoError(t, e.store.Orgs().CreateOrg(ctx, org))
	if member.ID != "" {
		require.NoError(t, e.store.Orgs().AddMembership(ctx, member.ID, org.ID))
	}
	return org
}

func authReq() domain.AuthorizeRequest {
	sum := sha256.Sum256([]byte(testVerifier))
	return domain.AuthorizeRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirect,
		ResponseType:        "code",
		Scopes:              []string{"openid", "profile", "offline_access"},
		State:               "af0ifjsldkj",
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(sum[:]),
		CodeChallengeMethod: "S256",
	}
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}
