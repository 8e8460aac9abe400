// Package kv is the keyed TTL store every short-lived artifact goes through:
// authorization code grants, MFA stamps, attempt counters, one-time codes,
// remember-device tokens and refresh token records. Expiry is the store's
// responsibility; callers never check timestamps themselves.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the TTL key-value contract. Implementable over anything with
// per-key expiry: the in-memory map here, Redis, or a managed KV service.
type Store interface {
	// Put stores a value under key. A zero ttl means no expiry.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value, or ErrNotFound when absent/expired.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all live keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// IsNotFound reports whether err means the key was absent or expired.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
