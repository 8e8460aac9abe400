package http

import (
	"net/http"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
	"github.com/ValueMelody/melody-auth-sub004/pkg/httpx"
)

// ResetHandler serves the password reset pair. Both endpoints answer the
// same way for known and unknown addresses.
type ResetHandler struct {
	Reset *service.ResetService
}

type resetCodeRequest struct {
	Email string `json:"email"`
}

// HandleSendCode serves POST /reset-password-code.
func (h *ResetHandler) HandleSendCode(w http.ResponseWriter, r *http.Request) {
	var req resetCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Reset.SendResetCode(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// HandleReset serves POST /authorize-reset.
func (h *ResetHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Reset.ResetPassword(r.Context(), req.Email, req.Code, req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
