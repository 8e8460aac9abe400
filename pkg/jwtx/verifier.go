package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// KeyVerifier verifies tokens against a KeyManager's active and deprecated
// public keys, enforcing algorithm, kid and issuer.
type KeyVerifier struct {
	Keys   *KeyManager
	Issuer string
}

// NewVerifier wires a verifier to the manager's key set.
func NewVerifier(keys *KeyManager, issuer string) *KeyVerifier {
	return &KeyVerifier{Keys: keys, Issuer: issuer}
}

// Verify parses and validates a compact JWT.
func (v *KeyVerifier) Verify(token string) (Claims, error) {
	claims := Claims{}

	parsed, err := jwt.ParseWithClaims(token, &claims, v.keyfunc,
		jwt.WithValidMethods([]string{AlgorithmRS256, AlgorithmES256, AlgorithmEdDSA}),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Claims{}, ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Claims{}, ErrMalformed
	case err != nil:
		return Claims{}, err
	}

	if !parsed.Valid {
		return Claims{}, ErrInvalidSig
	}

	if v.Issuer != "" && claims.Issuer != v.Issuer {
		return Claims{}, ErrIssuer
	}

	return claims, nil
}

func (v *KeyVerifier) keyfunc(token *jwt.Token) (any, error) {
	if token.Method.Alg() != v.Keys.Algorithm() {
		return nil, fmt.Errorf("%w: token uses %s, keys use %s",
			ErrAlgMismatch, token.Method.Alg(), v.Keys.Algorithm())
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid header", ErrMalformed)
	}

	return v.Keys.PublicKey(kid)
}
