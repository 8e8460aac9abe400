package jwtx

import (
	"crypto"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs claims with a single private key, tagging the JWT header with
// its kid so verifiers can pick the right public key.
type Signer struct {
	kid       string
	algorithm string
	method    jwt.SigningMethod
	private   crypto.PrivateKey
	public    any
}

// NewSigner parses the PEM private key and wires up the signing method for
// the given algorithm.
func NewSigner(algorithm, kid string, pemKey []byte) (*Signer, error) {
	if kid == "" {
		return nil, fmt.Errorf("jwtx: kid is required")
	}

	priv, err := parsePrivateKeyPEM(algorithm, pemKey)
	if err != nil {
		return nil, err
	}
	pub, err := publicKeyOf(priv)
	if err != nil {
		return nil, err
	}

	var method jwt.SigningMethod
	switch algorithm {
	case AlgorithmRS256:
		method = jwt.SigningMethodRS256
	case AlgorithmES256:
		method = jwt.SigningMethodES256
	case AlgorithmEdDSA:
		method = jwt.SigningMethodEdDSA
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q", algorithm)
	}

	return &Signer{
		kid:       kid,
		algorithm: algorithm,
		method:    method,
		private:   priv,
		public:    pub,
	}, nil
}

// KID returns the key identifier.
func (s *Signer) KID() string { return s.kid }

// Alg returns the signing algorithm.
func (s *Signer) Alg() string { return s.algorithm }

// Sign produces a compact serialized JWT for the claims.
func (s *Signer) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	token.Header["kid"] = s.kid

	signed, err := token.SignedString(s.private)
	if err != nil {
		return "", fmt.Errorf("jwtx: signing failed: %w", err)
	}
	return signed, nil
}

// PublicJWK returns the signer's public key as a JWK.
func (s *Signer) PublicJWK() (JWK, error) {
	return publicJWK(s.kid, s.algorithm, s.public)
}
