package http

import (
	"context"
	"net/http"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
	"github.com/ValueMelody/melody-auth-sub004/pkg/httpx"
)

// StepsHandler serves the hosted step pages of an open flow: consent, OTP
// setup, OTP MFA and the message-code stages. GETs recompute the current
// state without side effects beyond sending a pending message code; POSTs
// submit the step's input.
type StepsHandler struct {
	Authorize     *service.AuthorizeService
	SecureCookies bool
	RememberAge   int
}

func (h *StepsHandler) flowCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := r.URL.Query().Get("code")
	if code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return "", false
	}
	return code, true
}

// HandleGetState serves the GET variant of every step page.
func (h *StepsHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	code, ok := h.flowCode(w, r)
	if !ok {
		return
	}

	res, err := h.Authorize.GetState(r.Context(), code, deviceInfo(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeStep(w, res)
}

// HandleGetOtpSetup serves GET /authorize-otp-setup: the secret and
// otpauth URI the enrollment page renders as a QR code.
func (h *StepsHandler) HandleGetOtpSetup(w http.ResponseWriter, r *http.Request) {
	code, ok := h.flowCode(w, r)
	if !ok {
		return
	}

	enrollment, err := h.Authorize.OtpSetupInfo(r.Context(), code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, enrollment)
}

// HandleConsent serves POST /authorize-consent.
func (h *StepsHandler) HandleConsent(w http.ResponseWriter, r *http.Request) {
	var req codeOnlyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Authorize.ProcessConsent(r.Context(), req.Code, deviceInfo(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeStep(w, res)
}

// HandleOtpSetup serves POST /authorize-otp-setup.
func (h *StepsHandler) HandleOtpSetup(w http.ResponseWriter, r *http.Request) {
	h.submitStep(w, r, h.Authorize.ProcessOtpSetup)
}

// HandleOtpMfa serves POST /authorize-otp-mfa.
func (h *StepsHandler) HandleOtpMfa(w http.ResponseWriter, r *http.Request) {
	h.submitStep(w, r, h.Authorize.ProcessOtpMfa)
}

// HandleEmailMfa serves POST /authorize-email-mfa.
func (h *StepsHandler) HandleEmailMfa(w http.ResponseWriter, r *http.Request) {
	h.submitStep(w, r, h.Authorize.ProcessEmailMfa)
}

// HandleSmsMfa serves POST /authorize-sms-mfa.
func (h *StepsHandler) HandleSmsMfa(w http.ResponseWriter, r *http.Request) {
	h.submitStep(w, r, h.Authorize.ProcessSmsMfa)
}

// HandleResendCode serves POST /resend-mfa-code. Forces a fresh one-time
// code for whichever message factor is still pending.
func (h *StepsHandler) HandleResendCode(w http.ResponseWriter, r *http.Request) {
	var req codeOnlyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Authorize.ResendMfaCode(r.Context(), req.Code); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type stepFunc func(ctx context.Context, code, submitted, origin string, remember bool) (service.StepResult, error)

func (h *StepsHandler) submitStep(w http.ResponseWriter, r *http.Request, process stepFunc) {
	var req submitCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := process(r.Context(), req.Code, req.MfaCode, httpx.GetRemoteIP(r), req.RememberDevice)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeStep(w, res)
}

func (h *StepsHandler) writeStep(w http.ResponseWriter, res service.StepResult) {
	setDeviceCookies(w, res, h.SecureCookies, h.RememberAge)
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, res)
}
