package http

import (
	"net/http"
	"strings"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
	"github.com/ValueMelody/melody-auth-sub004/pkg/httpx"
)

// AuthorizeHandler serves the credential entry points. Every endpoint
// accepts a JSON body carrying the OAuth2 request parameters plus the
// credential for its type, and responds with the step envelope.
type AuthorizeHandler struct {
	Authorize     *service.AuthorizeService
	SecureCookies bool
	RememberAge   int
}

type passwordRequest struct {
	domain.AuthorizeRequest
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandlePassword serves POST /authorize-password.
func (h *AuthorizeHandler) HandlePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Authorize.AuthorizePassword(r.Context(), req.AuthorizeRequest,
		req.Email, req.Password, httpx.GetRemoteIP(r), deviceInfo(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeStep(w, res)
}

type passwordlessRequest struct {
	domain.AuthorizeRequest
	Email string `json:"email"`
}

// HandlePasswordless serves POST /authorize-passwordless.
func (h *AuthorizeHandler) HandlePasswordless(w http.ResponseWriter, r *http.Request) {
	var req passwordlessRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Authorize.AuthorizePasswordless(r.Context(), req.AuthorizeRequest, req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeStep(w, res)
}

type codeOnlyRequest struct {
	Code string `json:"code"`
}

// HandleSendPasswordlessCode serves POST /send-passwordless-code.
func (h *AuthorizeHandler) HandleSendPasswordlessCode(w http.ResponseWriter, r *http.Request) {
	var req codeOnlyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Authorize.SendPasswordlessCode(r.Context(), req.Code, true); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type submitCodeRequest struct {
	Code           string `json:"code"`
	MfaCode        string `json:"mfaCode"`
	RememberDevice bool   `json:"rememberDevice"`
}

// HandleProcessPasswordlessCode serves POST /process-passwordless-code.
func (h *AuthorizeHandler) HandleProcessPasswordlessCode(w http.ResponseWriter, r *http.Request) {
	var req submitCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Authorize.ProcessPasswordlessCode(r.Context(), req.Code,
		req.MfaCode, httpx.GetRemoteIP(r), deviceInfo(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeStep(w, res)
}

type googleRequest struct {
	domain.AuthorizeRequest
	Credential string `json:"credential"`
}

// HandleGoogle serves POST /authorize-google.
func (h *AuthorizeHandler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Authorize.AuthorizeGoogle(r.Context(), req.AuthorizeRequest,
		req.Credential, deviceInfo(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeStep(w, res)
}

// HandlePasskeyChallenge serves GET /authorize-passkey: it hands out the
// challenge the authenticator must sign.
func (h *AuthorizeHandler) HandlePasskeyChallenge(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	challenge, err := h.Authorize.IssuePasskeyChallenge(r.Context(), email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

type passkeyRequest struct {
	domain.AuthorizeRequest
	Email     string `json:"email"`
	Assertion string `json:"assertion"`
}

// HandlePasskey serves POST /authorize-passkey.
func (h *AuthorizeHandler) HandlePasskey(w http.ResponseWriter, r *http.Request) {
	var req passkeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Authorize.AuthorizePasskey(r.Context(), req.AuthorizeRequest,
		req.Email, req.Assertion, deviceInfo(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeStep(w, res)
}

func (h *AuthorizeHandler) writeStep(w http.ResponseWriter, res service.StepResult) {
	setDeviceCookies(w, res, h.SecureCookies, h.RememberAge)
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, res)
}
