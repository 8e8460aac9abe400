package sqlite

import (
	"context"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
)

type clientsRepo struct {
	q querier
}

func (r *clientsRepo) GetClientByClientID(ctx context.Context, clientID string) (domain.Client, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, client_id, name, type, secret_hash, redirect_uris, scopes,
			is_active, created_at, updated_at
		 FROM clients WHERE client_id = ?`, clientID)

	var (
		c            domain.Client
		redirectURIs string
		scopes       string
	)
	err := row.Scan(
		&c.ID, &c.ClientID, &c.Name, &c.Type, &c.SecretHash, &redirectURIs,
		&scopes, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}

	c.RedirectURIs = splitList(redirectURIs)
	c.Scopes = splitList(scopes)
	return c, nil
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO clients (id, client_id, name, type, secret_hash,
			redirect_uris, scopes, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClientID, c.Name, c.Type, c.SecretHash,
		joinList(c.RedirectURIs), joinList(c.Scopes), c.IsActive,
	)
	return err
}
