package service

import "errors"

// Service level errors. Handlers map these to OAuth2-style JSON payloads;
// anything not listed here is treated as a server error.
var (
	// ErrInvalidGrant means the authorization code or refresh token is
	// unknown, expired or already consumed. Never retried internally.
	ErrInvalidGrant = errors.New("invalid_grant")

	// ErrWrongCredential is a bad password or unverifiable assertion.
	// Counted toward lockout.
	ErrWrongCredential = errors.New("wrong_credential")

	// ErrWrongCode is a bad MFA or one-time code. Counted toward lockout.
	ErrWrongCode = errors.New("wrong_code")

	// ErrLockedOut means an attempt threshold was exceeded. Distinct from
	// ErrWrongCode so clients can render "try later" versus "try again".
	ErrLockedOut = errors.New("locked_out")

	// ErrConfig means a required feature is disabled or misconfigured.
	// An operator error, never counted toward lockout.
	ErrConfig = errors.New("config_error")

	// ErrNotFound means no such org, client or user.
	ErrNotFound = errors.New("not_found")
)
