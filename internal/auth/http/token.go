package http

import (
	"net/http"
	"strings"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
	"github.com/ValueMelody/melody-auth-sub004/pkg/httpx"
)

// TokenHandler serves the OAuth2 token endpoint. Requests arrive as
// form-encoded bodies per RFC 6749; responses carry the standard snake_case
// token fields.
type TokenHandler struct {
	Tokens *service.TokenService
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		h.handleAuthorizationCode(w, r)
	case "refresh_token":
		h.handleRefreshToken(w, r)
	default:
		httpx.WriteError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

func (h *TokenHandler) handleAuthorizationCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")
	verifier := r.PostForm.Get("code_verifier")
	clientID := r.PostForm.Get("client_id")
	if code == "" || verifier == "" || clientID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code, code_verifier and client_id are required")
		return
	}

	pair, err := h.Tokens.ExchangeCode(r.Context(), code, verifier, clientID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeTokenPair(w, pair)
}

func (h *TokenHandler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.PostForm.Get("refresh_token")
	clientID := r.PostForm.Get("client_id")
	if refreshToken == "" || clientID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token and client_id are required")
		return
	}

	pair, err := h.Tokens.Refresh(r.Context(), refreshToken, clientID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeTokenPair(w, pair)
}

func writeTokenPair(w http.ResponseWriter, pair domain.TokenPair) {
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
		RefreshToken: pair.RefreshToken,
		IDToken:      pair.IDToken,
		Scope:        strings.Join(pair.Scopes, " "),
	})
}

// RevokeHandler serves POST /revoke per RFC 7009: always 200, even for
// tokens that were never issued.
type RevokeHandler struct {
	Tokens *service.TokenService
}

func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	if err := h.Tokens.Revoke(r.Context(), token); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LogoutHandler revokes the refresh token and tears down the user's
// durable sessions.
type LogoutHandler struct {
	Tokens *service.TokenService
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Tokens.Logout(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ImpersonateHandler mints an access token for a target user on behalf of
// the authenticated operator. No refresh token is ever issued this way.
type ImpersonateHandler struct {
	Tokens *service.TokenService
}

type impersonateRequest struct {
	TargetAuthID string   `json:"targetAuthId"`
	ClientID     string   `json:"clientId"`
	Scopes       []string `json:"scopes"`
}

func (h *ImpersonateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req impersonateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TargetAuthID == "" || req.ClientID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "targetAuthId and clientId are required")
		return
	}

	operator := httpx.UserIDFromContext(r.Context())
	token, err := h.Tokens.Impersonate(r.Context(), operator, req.TargetAuthID, req.ClientID, req.Scopes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "Bearer"})
}
