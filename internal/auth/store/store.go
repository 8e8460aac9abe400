package store

import (
	"context"
	"errors"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface over the durable relational store.
// The core only reads/writes the minimal fields it needs; migrations for the
// wider schema belong to the admin surface.
type Store interface {
	Users() Users
	Orgs() Orgs
	Clients() Clients
	Consents() Consents
	Sessions() Sessions

	ApplyMigrations() error

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store.
type Tx interface {
	Users() Users
	Orgs() Orgs
	Clients() Clients
	Consents() Consents
	Sessions() Sessions
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByAuthID(ctx context.Context, authID string) (domain.User, error)
	CreateUser(ctx context.Context, u domain.User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	// UpdateOtpSecret replaces the secret and clears the verified flag.
	UpdateOtpSecret(ctx context.Context, userID, secret string) error
	MarkOtpVerified(ctx context.Context, userID string) error
	MarkEmailVerified(ctx context.Context, userID string) error
	UpdateOrgSlug(ctx context.Context, userID, slug string) error
}

type Orgs interface {
	GetOrgBySlug(ctx context.Context, slug string) (domain.Org, error)
	CreateOrg(ctx context.Context, o domain.Org) error
	ListOrgsByUser(ctx context.Context, userID string) ([]domain.Org, error)
	IsMember(ctx context.Context, userID, orgID string) (bool, error)
	AddMembership(ctx context.Context, userID, orgID string) error
}

type Clients interface {
	GetClientByClientID(ctx context.Context, clientID string) (domain.Client, error)
	CreateClient(ctx context.Context, c domain.Client) error
}

type Consents interface {
	HasConsent(ctx context.Context, userID, clientUID string) (bool, error)
	CreateConsent(ctx context.Context, c domain.Consent) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error
	DeleteSessionsByUser(ctx context.Context, userID string) error
}
