package kv

import "fmt"

// Key builders. Every subsystem keys its artifacts under its own prefix so
// List(prefix) can enumerate related entries, e.g. all origins currently
// counted against one email.

// AuthCodeKey stores the serialized AuthCodeGrant for an in-flight flow.
func AuthCodeKey(code string) string {
	return "ac:" + code
}

// MFAStampKey marks one verification factor as satisfied for a code.
func MFAStampKey(factor, code string) string {
	return fmt.Sprintf("stamp:%s:%s", factor, code)
}

// OneTimeCodeKey stores the emailed/texted code for a factor and auth code.
func OneTimeCodeKey(factor, code string) string {
	return fmt.Sprintf("otc:%s:%s", factor, code)
}

// PasswordlessCodeKey stores the sign-in code sent for a passwordless flow.
func PasswordlessCodeKey(code string) string {
	return "plc:" + code
}

// RateLimitKey counts attempts for a purpose and identifier, optionally
// scoped by origin (an IP, typically).
func RateLimitKey(purpose, id, origin string) string {
	if origin == "" {
		return fmt.Sprintf("rl:%s:%s", purpose, id)
	}
	return fmt.Sprintf("rl:%s:%s:%s", purpose, id, origin)
}

// RateLimitPrefix enumerates every origin counted for a purpose+identifier.
func RateLimitPrefix(purpose, id string) string {
	return fmt.Sprintf("rl:%s:%s:", purpose, id)
}

// RememberDeviceKey stores the opaque verification value a trusted device
// presents to skip a previously completed factor.
func RememberDeviceKey(factor, userID, deviceID string) string {
	return fmt.Sprintf("remember:%s:%s:%s", factor, userID, deviceID)
}

// PasskeyChallengeKey stores the outstanding WebAuthn challenge for a user.
func PasskeyChallengeKey(email string) string {
	return "challenge:" + email
}

// RefreshTokenKey stores the refresh token record by token fingerprint.
func RefreshTokenKey(fingerprint string) string {
	return "refresh:" + fingerprint
}

// ResetCodeKey stores the emailed password-reset code for an email address.
func ResetCodeKey(email string) string {
	return "reset:" + email
}
