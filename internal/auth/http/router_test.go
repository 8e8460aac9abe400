package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/identity"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store/drivers/sqlite"
	"github.com/ValueMelody/melody-auth-sub004/pkg/cryptox"
	"github.com/ValueMelody/melody-auth-sub004/pkg/idx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/jwtx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/slogx"
)

const (
	testEmail    = "user@example.com"
	testPassword = "correct horse battery staple"
	testVerifier = "0123456789abcdefghijklmnopqrstuvwxyz-_ABCDE"
	testClientID = "hosted-spa"
	testRedirect = "https://app.example.com/callback"
)

type recordedEmail struct {
	To   string
	Code string
}

type recordEmailSender struct {
	mu   sync.Mutex
	sent []recordedEmail
}

func (s *recordEmailSender) SendCode(_ context.Context, to, _, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recordedEmail{To: to, Code: code})
	return nil
}

type noopSMSSender struct{}

func (noopSMSSender) SendCode(context.Context, string, string) error { return nil }

type routerEnv struct {
	router *Router
	keys   *jwtx.KeyManager
	emails *recordEmailSender
}

func newRouterEnv(t *testing.T, cfg service.Config) *routerEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	keys, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmES256})
	require.NoError(t, err)

	mem := kv.NewMemory()
	emails := &recordEmailSender{}
	guard := &service.Guard{KV: mem, Config: cfg}
	mfa := &service.MFAService{KV: mem, Store: st, Guard: guard, Email: emails, SMS: noopSMSSender{}, Config: cfg}

	router := NewRouter(keys, jwtx.NewVerifier(keys, cfg.Issuer), "test", st, mem, slogx.Discard())
	router.AuthorizeService = &service.AuthorizeService{
		Store:   st,
		KV:      mem,
		MFA:     mfa,
		Guard:   guard,
		Social:  identity.NewGoogleVerifier("unused"),
		Passkey: identity.ChallengePasskeyVerifier{},
		Config:  cfg,
	}
	router.TokenService = &service.TokenService{Store: st, KV: mem, Keys: keys, Config: cfg}
	router.OrgService = &service.OrgService{Store: st, KV: mem, Config: cfg}
	router.ResetService = &service.ResetService{Store: st, KV: mem, Guard: guard, Email: emails, Config: cfg}
	router.ApplyRoutes()

	ctx := context.Background()
	require.NoError(t, st.Clients().CreateClient(ctx, domain.Client{
		ID:           idx.New().String(),
		ClientID:     testClientID,
		Name:         "Hosted Pages",
		Type:         "spa",
		RedirectURIs: []string{testRedirect},
		Scopes:       []string{"openid", "profile", "offline_access"},
		IsActive:     true,
	}))

	hash, err := cryptox.HashPassword(testPassword)
	require.NoError(t, err)
	require.NoError(t, st.Users().CreateUser(ctx, domain.User{
		ID:            idx.New().String(),
		AuthID:        idx.New().String(),
		Email:         testEmail,
		PasswordHash:  hash,
		Locale:        "en",
		EmailVerified: true,
		IsActive:      true,
	}))

	return &routerEnv{router: router, keys: keys, emails: emails}
}

func (e *routerEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:40000"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *routerEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.7:40000"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *routerEnv) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "203.0.113.7:40000"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func authorizeBody(extra map[string]any) map[string]any {
	sum := sha256.Sum256([]byte(testVerifier))
	body := map[string]any{
		"clientId":            testClientID,
		"redirectUri":         testRedirect,
		"responseType":        "code",
		"scopes":              []string{"openid", "profile", "offline_access"},
		"state":               "af0ifjsldkj",
		"codeChallenge":       base64.RawURLEncoding.EncodeToString(sum[:]),
		"codeChallengeMethod": "S256",
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func decodeStep(t *testing.T, rec *httptest.ResponseRecorder) service.StepResult {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.StepResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestPasswordFlowOverHTTP(t *testing.T) {
	t.Parallel()
	e := newRouterEnv(t, service.DefaultConfig())

	rec := e.postJSON(t, "/authorize-password", authorizeBody(map[string]any{
		"email":    testEmail,
		"password": testPassword,
	}))
	step := decodeStep(t, rec)
	require.NotEmpty(t, step.Code)
	require.True(t, step.RequireConsent)

	rec = e.postJSON(t, "/authorize-consent", map[string]any{"code": step.Code})
	final := decodeStep(t, rec)
	require.True(t, final.Complete())

	// Exchange the completed code for tokens.
	rec = e.postForm(t, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {final.Code},
		"code_verifier": {testVerifier},
		"client_id":     {testClientID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens["access_token"])
	require.NotEmpty(t, tokens["id_token"])
	require.NotEmpty(t, tokens["refresh_token"])
	require.Equal(t, "Bearer", tokens["token_type"])
}

func TestWrongPasswordReturns401(t *testing.T) {
	t.Parallel()
	e := newRouterEnv(t, service.DefaultConfig())

	rec := e.postJSON(t, "/authorize-password", authorizeBody(map[string]any{
		"email":    testEmail,
		"password": "wrong",
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "wrong_credential")
}

func TestMalformedAuthorizeRequestReturns400(t *testing.T) {
	t.Parallel()
	e := newRouterEnv(t, service.DefaultConfig())

	body := authorizeBody(map[string]any{"email": testEmail, "password": testPassword})
	delete(body, "codeChallenge")
	rec := e.postJSON(t, "/authorize-password", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_request")
}

func TestEmailMfaOverHTTP(t *testing.T) {
	t.Parallel()
	cfg := service.DefaultConfig()
	cfg.RequireEmailMFA = true
	e := newRouterEnv(t, cfg)

	rec := e.postJSON(t, "/authorize-password", authorizeBody(map[string]any{
		"email":    testEmail,
		"password": testPassword,
	}))
	step := decodeStep(t, rec)
	require.True(t, step.RequireConsent)

	rec = e.postJSON(t, "/authorize-consent", map[string]any{"code": step.Code})
	step = decodeStep(t, rec)
	require.True(t, step.RequireEmailMfa)
	require.Equal(t, service.PageEmailMfa, step.NextPage)
	require.Len(t, e.emails.sent, 1)

	rec = e.postJSON(t, "/authorize-email-mfa", map[string]any{
		"code":    step.Code,
		"mfaCode": e.emails.sent[0].Code,
	})
	final := decodeStep(t, rec)
	require.True(t, final.Complete())
}

func TestResendMfaCodeOverHTTP(t *testing.T) {
	t.Parallel()
	cfg := service.DefaultConfig()
	cfg.RequireEmailMFA = true
	e := newRouterEnv(t, cfg)

	rec := e.postJSON(t, "/authorize-password", authorizeBody(map[string]any{
		"email":    testEmail,
		"password": testPassword,
	}))
	step := decodeStep(t, rec)
	rec = e.postJSON(t, "/authorize-consent", map[string]any{"code": step.Code})
	step = decodeStep(t, rec)
	require.True(t, step.RequireEmailMfa)

	rec = e.postJSON(t, "/resend-mfa-code", map[string]any{"code": step.Code})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, e.emails.sent, 2)
}

func TestResetPasswordOverHTTP(t *testing.T) {
	t.Parallel()
	e := newRouterEnv(t, service.DefaultConfig())

	rec := e.postJSON(t, "/reset-password-code", map[string]any{"email": testEmail})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, e.emails.sent, 1)

	rec = e.postJSON(t, "/authorize-reset", map[string]any{
		"email":    testEmail,
		"code":     e.emails.sent[0].Code,
		"password": "a fresh password",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The old password no longer signs in.
	rec = e.postJSON(t, "/authorize-password", authorizeBody(map[string]any{
		"email":    testEmail,
		"password": testPassword,
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWKSAndHealthEndpoints(t *testing.T) {
	t.Parallel()
	e := newRouterEnv(t, service.DefaultConfig())

	rec := e.get(t, "/.well-known/jwks.json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "keys")

	rec = e.get(t, "/livez")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.get(t, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"database":"ok"`)
}

func TestKeyRotationRequiresAdminScope(t *testing.T) {
	t.Parallel()
	cfg := service.DefaultConfig()
	e := newRouterEnv(t, cfg)

	// No bearer token.
	rec := e.postJSON(t, "/keys/rotate", map[string]any{})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	mintToken := func(scopes []string) string {
		claims := jwtx.NewClaims(cfg.Issuer, "operator", []string{testClientID}, cfg.AccessTokenTTL, time.Now())
		claims.Scopes = scopes
		token, err := e.keys.Sign(claims)
		require.NoError(t, err)
		return token
	}

	post := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/keys/rotate", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = "203.0.113.7:40000"
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		return rec
	}

	// Wrong scope.
	rec = post(mintToken([]string{"profile"}))
	require.Equal(t, http.StatusForbidden, rec.Code)

	// admin:write rotates; the displaced key stays verifiable.
	before := e.keys.ActiveKID()
	rec = post(mintToken([]string{"admin:write"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotEqual(t, before, e.keys.ActiveKID())
	require.Equal(t, before, e.keys.DeprecatedKID())
}

func TestDeviceCookiesSetOnRemember(t *testing.T) {
	t.Parallel()
	cfg := service.DefaultConfig()
	cfg.RequireOTPMFA = true
	e := newRouterEnv(t, cfg)
	// The user signs in and walks to the OTP setup stage; remember-device
	// enrollment is exercised at the service level, here we only check the
	// cookie plumbing on a completed step result.
	rec := e.postJSON(t, "/authorize-password", authorizeBody(map[string]any{
		"email":    testEmail,
		"password": testPassword,
	}))
	step := decodeStep(t, rec)
	require.True(t, step.RequireConsent)
	require.Empty(t, rec.Result().Cookies())
}
