package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Supported JWT signing algorithms.
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// GenerateKeyPEM creates a fresh private key for the given algorithm and
// returns it as a PKCS8 PEM block. RS256 uses rsaBits (minimum 2048,
// default 4096 when zero).
func GenerateKeyPEM(algorithm string, rsaBits int) ([]byte, error) {
	var (
		priv crypto.PrivateKey
		err  error
	)

	switch algorithm {
	case AlgorithmRS256:
		bits := rsaBits
		if bits == 0 {
			bits = 4096
		}
		if bits < 2048 {
			return nil, fmt.Errorf("jwtx: RSA key size %d is below 2048", bits)
		}
		priv, err = rsa.GenerateKey(rand.Reader, bits)

	case AlgorithmES256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	case AlgorithmEdDSA:
		_, priv, err = ed25519.GenerateKey(rand.Reader)

	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("jwtx: key generation failed: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("jwtx: PKCS8 marshal failed: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// parsePrivateKeyPEM decodes a PKCS8 (or PKCS1 for RSA) PEM private key and
// checks it matches the requested algorithm.
func parsePrivateKeyPEM(algorithm string, pemKey []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, fmt.Errorf("jwtx: no PEM block found")
	}

	var (
		priv any
		err  error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		priv, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("jwtx: failed to parse private key: %w", err)
	}

	switch algorithm {
	case AlgorithmRS256:
		if _, ok := priv.(*rsa.PrivateKey); !ok {
			return nil, fmt.Errorf("jwtx: key is %T, want RSA for RS256", priv)
		}
	case AlgorithmES256:
		if _, ok := priv.(*ecdsa.PrivateKey); !ok {
			return nil, fmt.Errorf("jwtx: key is %T, want ECDSA for ES256", priv)
		}
	case AlgorithmEdDSA:
		if _, ok := priv.(ed25519.PrivateKey); !ok {
			return nil, fmt.Errorf("jwtx: key is %T, want Ed25519 for EdDSA", priv)
		}
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q", algorithm)
	}

	return priv, nil
}

// publicKeyOf extracts the public half of a parsed private key.
func publicKeyOf(priv crypto.PrivateKey) (any, error) {
	switch key := priv.(type) {
	case *rsa.PrivateKey:
		return &key.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &key.PublicKey, nil
	case ed25519.PrivateKey:
		return key.Public().(ed25519.PublicKey), nil
	default:
		return nil, fmt.Errorf("jwtx: unsupported private key type %T", priv)
	}
}
