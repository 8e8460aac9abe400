package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store"
	"github.com/ValueMelody/melody-auth-sub004/pkg/httpx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/jwtx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyManager
	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	kv    kv.Store

	SecureCookies bool
	RememberAge   int

	AuthorizeService *service.AuthorizeService
	TokenService     *service.TokenService
	OrgService       *service.OrgService
	ResetService     *service.ResetService
}

func NewRouter(
	keys *jwtx.KeyManager,
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	kvs kv.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		kv:           kvs,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerIdentity()
	r.registerSteps()
	r.registerOrgs()
	r.registerReset()
	r.registerTokens()
	r.registerKeys()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerIdentity() {
	h := &AuthorizeHandler{
		Authorize:     r.AuthorizeService,
		SecureCookies: r.SecureCookies,
		RememberAge:   r.RememberAge,
	}

	// Credential submission endpoints carry the brute-force surface, so
	// every POST here is strictly limited by IP.
	r.Mux.Handle("POST /authorize-password",
		httpx.Chain(http.HandlerFunc(h.HandlePassword),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /authorize-passwordless",
		httpx.Chain(http.HandlerFunc(h.HandlePasswordless),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /send-passwordless-code",
		httpx.Chain(http.HandlerFunc(h.HandleSendPasswordlessCode),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /process-passwordless-code",
		httpx.Chain(http.HandlerFunc(h.HandleProcessPasswordlessCode),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /authorize-google",
		httpx.Chain(http.HandlerFunc(h.HandleGoogle),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("GET /authorize-passkey",
		httpx.Chain(http.HandlerFunc(h.HandlePasskeyChallenge),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /authorize-passkey",
		httpx.Chain(http.HandlerFunc(h.HandlePasskey),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerSteps() {
	h := &StepsHandler{
		Authorize:     r.AuthorizeService,
		SecureCookies: r.SecureCookies,
		RememberAge:   r.RememberAge,
	}

	// GETs re-render the current state for hosted pages; lenient limits.
	state := httpx.Chain(http.HandlerFunc(h.HandleGetState),
		httpx.RateLimitByIP(httpx.LenientLimit),
	)
	r.Mux.Handle("GET /authorize-state", state)
	r.Mux.Handle("GET /authorize-consent", state)
	r.Mux.Handle("GET /authorize-otp-mfa", state)
	r.Mux.Handle("GET /authorize-email-mfa", state)
	r.Mux.Handle("GET /authorize-sms-mfa", state)

	r.Mux.Handle("GET /authorize-otp-setup",
		httpx.Chain(http.HandlerFunc(h.HandleGetOtpSetup),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	// Code submissions are brute-forceable; strict limits.
	r.Mux.Handle("POST /authorize-consent",
		httpx.Chain(http.HandlerFunc(h.HandleConsent),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /authorize-otp-setup",
		httpx.Chain(http.HandlerFunc(h.HandleOtpSetup),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /authorize-otp-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleOtpMfa),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /authorize-email-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleEmailMfa),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /authorize-sms-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleSmsMfa),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /resend-mfa-code",
		httpx.Chain(http.HandlerFunc(h.HandleResendCode),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerOrgs() {
	h := &OrgHandler{Orgs: r.OrgService, Authorize: r.AuthorizeService}

	// Mid-flow switch authenticates via the open authorization code.
	r.Mux.Handle("POST /process-switch-org",
		httpx.Chain(http.HandlerFunc(h.HandleSwitchOrg),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// Post-login endpoints require a bearer token.
	securedChange := httpx.Chain(http.HandlerFunc(h.HandleChangeOrg),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyScope("profile"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	securedList := httpx.Chain(http.HandlerFunc(h.HandleListOrgs),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyScope("profile"),
		httpx.RateLimitByUser(httpx.LenientLimit),
	)
	r.Mux.Handle("POST /change-org", securedChange)
	r.Mux.Handle("GET /orgs", securedList)
}

func (r *Router) registerReset() {
	h := &ResetHandler{Reset: r.ResetService}

	r.Mux.Handle("POST /reset-password-code",
		httpx.Chain(http.HandlerFunc(h.HandleSendCode),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /authorize-reset",
		httpx.Chain(http.HandlerFunc(h.HandleReset),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerTokens() {
	tokenHandler := &TokenHandler{Tokens: r.TokenService}
	r.Mux.Handle("POST /token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	revokeHandler := &RevokeHandler{Tokens: r.TokenService}
	r.Mux.Handle("POST /revoke",
		httpx.Chain(revokeHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	logoutHandler := &LogoutHandler{Tokens: r.TokenService}
	r.Mux.Handle("POST /logout",
		httpx.Chain(logoutHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	impersonateHandler := &ImpersonateHandler{Tokens: r.TokenService}
	securedImpersonate := httpx.Chain(impersonateHandler,
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyScope("admin:write"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	r.Mux.Handle("POST /impersonate", securedImpersonate)
}

func (r *Router) registerKeys() {
	keysHandler := &KeysHandler{Keys: r.keys}

	securedRotate := httpx.Chain(http.HandlerFunc(keysHandler.HandleRotate),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyScope("admin:write"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	securedCleanup := httpx.Chain(http.HandlerFunc(keysHandler.HandleCleanup),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyScope("admin:write"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	r.Mux.Handle("POST /keys/rotate", securedRotate)
	r.Mux.Handle("POST /keys/cleanup", securedCleanup)

	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.kv, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
