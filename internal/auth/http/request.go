package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
)

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return errors.New("unsupported content type")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

// deviceInfo pulls the remember-device cookie pair, when present. Absence
// just means the factor is prompted normally.
func deviceInfo(r *http.Request) service.DeviceInfo {
	id, err := r.Cookie("device_id")
	if err != nil {
		return service.DeviceInfo{}
	}
	token, err := r.Cookie("device_token")
	if err != nil {
		return service.DeviceInfo{}
	}
	return service.DeviceInfo{ID: id.Value, Token: token.Value}
}

// setDeviceCookies installs a freshly minted remember-device pair.
func setDeviceCookies(w http.ResponseWriter, res service.StepResult, secure bool, maxAge int) {
	if res.DeviceID == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "device_id",
		Value:    res.DeviceID,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "device_token",
		Value:    res.DeviceToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
