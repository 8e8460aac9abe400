package jwtx

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ValueMelody/melody-auth-sub004/pkg/cryptox"
)

var (
	ErrNoDeprecatedKey = errors.New("jwtx: no deprecated key to clean up")
	ErrUnknownKID      = errors.New("jwtx: unknown kid")
)

// deprecatedKey is a rotated-out public key kept for verification only. The
// private half is discarded at rotation time, so old tokens verify but a new
// signature can never be produced with an old key.
type deprecatedKey struct {
	kid       string
	algorithm string
	public    any
	jwk       JWK
}

// KeyManager holds the active signing key plus at most one deprecated
// verify-only public key. Rotation replaces the active key and demotes its
// public half; cleanup drops the deprecated key, after which tokens signed
// before rotation stop verifying.
type KeyManager struct {
	mu         sync.RWMutex
	algorithm  string
	rsaBits    int
	active     *Signer
	deprecated *deprecatedKey
}

// KeyManagerOptions configures a KeyManager.
type KeyManagerOptions struct {
	// Algorithm is one of RS256, ES256, EdDSA.
	Algorithm string

	// RSABits is only used for RS256. Defaults to 4096.
	RSABits int

	// PrivateKeyPEM optionally seeds the active key from an existing PEM
	// block instead of generating a fresh one.
	PrivateKeyPEM []byte

	// KID optionally fixes the active key's identifier. A random one is
	// generated when empty.
	KID string
}

// NewKeyManager creates a manager with a single active signing key.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = AlgorithmES256
	}

	km := &KeyManager{algorithm: algorithm, rsaBits: opts.RSABits}

	pemKey := opts.PrivateKeyPEM
	if pemKey == nil {
		generated, err := GenerateKeyPEM(algorithm, opts.RSABits)
		if err != nil {
			return nil, err
		}
		pemKey = generated
	}

	kid := opts.KID
	if kid == "" {
		var err error
		kid, err = randomKID()
		if err != nil {
			return nil, err
		}
	}

	signer, err := NewSigner(algorithm, kid, pemKey)
	if err != nil {
		return nil, err
	}

	km.active = signer
	return km, nil
}

// Algorithm returns the signing algorithm in use.
func (km *KeyManager) Algorithm() string {
	return km.algorithm
}

// ActiveKID returns the kid tokens are currently signed with.
func (km *KeyManager) ActiveKID() string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.active.KID()
}

// DeprecatedKID returns the verify-only kid, or "" when none is retained.
func (km *KeyManager) DeprecatedKID() string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.deprecated == nil {
		return ""
	}
	return km.deprecated.kid
}

// Sign signs claims with the active key.
func (km *KeyManager) Sign(claims Claims) (string, error) {
	km.mu.RLock()
	signer := km.active
	km.mu.RUnlock()
	return signer.Sign(claims)
}

// Rotate generates a new active key pair. The previous active key's public
// half becomes the deprecated verify-only key, displacing any key already in
// that slot.
func (km *KeyManager) Rotate() error {
	pemKey, err := GenerateKeyPEM(km.algorithm, km.rsaBits)
	if err != nil {
		return err
	}
	kid, err := randomKID()
	if err != nil {
		return err
	}
	next, err := NewSigner(km.algorithm, kid, pemKey)
	if err != nil {
		return err
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	oldJWK, err := km.active.PublicJWK()
	if err != nil {
		return err
	}
	km.deprecated = &deprecatedKey{
		kid:       km.active.KID(),
		algorithm: km.active.Alg(),
		public:    km.active.public,
		jwk:       oldJWK,
	}
	km.active = next
	return nil
}

// CleanupDeprecated drops the verify-only key. Tokens signed before the last
// rotation stop verifying once this returns.
func (km *KeyManager) CleanupDeprecated() error {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.deprecated == nil {
		return ErrNoDeprecatedKey
	}
	km.deprecated = nil
	return nil
}

// PublicKey returns the verification key for a kid, checking the active key
// first and then the deprecated one.
func (km *KeyManager) PublicKey(kid string) (any, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	if km.active.KID() == kid {
		return km.active.public, nil
	}
	if km.deprecated != nil && km.deprecated.kid == kid {
		return km.deprecated.public, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKID, kid)
}

// JWKS returns exactly the currently-verifiable public key set.
func (km *KeyManager) JWKS() (JWKS, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	activeJWK, err := km.active.PublicJWK()
	if err != nil {
		return JWKS{}, err
	}

	set := JWKS{Keys: []JWK{activeJWK}}
	if km.deprecated != nil {
		set.Keys = append(set.Keys, km.deprecated.jwk)
	}
	return set, nil
}

// IsReady reports whether a signing key is loaded.
func (km *KeyManager) IsReady() bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.active != nil
}

func randomKID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: failed to generate kid: %w", err)
	}
	return "melody-" + token, nil
}
