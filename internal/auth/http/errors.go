package http

import (
	"errors"
	"net/http"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
	"github.com/ValueMelody/melody-auth-sub004/pkg/httpx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/slogx"
)

// writeServiceError maps service sentinels onto the wire taxonomy. Locked
// carries a distinct message from a plain wrong code so hosted pages can
// render "try later" versus "try again".
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidGrant):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "authorization code or token is invalid or expired")
	case errors.Is(err, service.ErrWrongCredential):
		httpx.WriteError(w, http.StatusUnauthorized, "wrong_credential", "credential verification failed")
	case errors.Is(err, service.ErrWrongCode):
		httpx.WriteError(w, http.StatusUnauthorized, "wrong_code", "verification code is incorrect")
	case errors.Is(err, service.ErrLockedOut):
		httpx.WriteError(w, http.StatusBadRequest, "locked_out", "too many attempts, try again later")
	case errors.Is(err, service.ErrConfig):
		httpx.WriteError(w, http.StatusBadRequest, "config_error", "feature is disabled or misconfigured")
	case errors.Is(err, service.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "resource does not exist")
	case errors.Is(err, domain.ErrInvalidAuthorizeRequest):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed authorize request")
	default:
		slogx.FromContext(r.Context()).Error("unhandled service error", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeBody(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	return true
}
