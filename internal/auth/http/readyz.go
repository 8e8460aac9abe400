package http

import (
	"net/http"
	"time"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store"
	"github.com/ValueMelody/melody-auth-sub004/pkg/httpx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/jwtx"
)

// ReadyzHandler is the readiness probe. It checks the relational store, the
// kv store and the signing keys, and degrades to 503 when any of them is
// unavailable.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	kvs kv.Store,
	keys *jwtx.KeyManager,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"kv":       "ok",
			"signer":   "ok",
		}
		status := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks["database"] = "error: " + err.Error()
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		if err := kvs.Ping(r.Context()); err != nil {
			checks["kv"] = "error: " + err.Error()
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		if !keys.IsReady() {
			checks["signer"] = "error: no keys loaded"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, healthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
