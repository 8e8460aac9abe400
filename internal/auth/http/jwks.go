package http

import (
	"net/http"

	"github.com/ValueMelody/melody-auth-sub004/pkg/httpx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/jwtx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/slogx"
)

// JWKSHandler exposes the JSON Web Key Set for public key discovery. During
// a rotation window the set carries the active key and the deprecated one,
// so tokens signed before the rotation stay verifiable.
func JWKSHandler(keys *jwtx.KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := keys.JWKS()
		if err != nil {
			slogx.FromContext(r.Context()).Error("jwks export failed", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, jwks)
	}
}

// KeysHandler serves the admin key rotation endpoints.
type KeysHandler struct {
	Keys *jwtx.KeyManager
}

// HandleRotate serves POST /keys/rotate. The displaced active key becomes
// deprecated and stays verify-only until cleanup.
func (h *KeysHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	if err := h.Keys.Rotate(); err != nil {
		slogx.FromContext(r.Context()).Error("key rotation failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "rotation failed")
		return
	}
	slogx.FromContext(r.Context()).Info("signing key rotated", "kid", h.Keys.ActiveKID())
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"activeKid":     h.Keys.ActiveKID(),
		"deprecatedKid": h.Keys.DeprecatedKID(),
	})
}

// HandleCleanup serves POST /keys/cleanup. Dropping the deprecated key ends
// the verification window for tokens it signed.
func (h *KeysHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if err := h.Keys.CleanupDeprecated(); err != nil {
		slogx.FromContext(r.Context()).Error("key cleanup failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "cleanup failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"activeKid": h.Keys.ActiveKID()})
}
