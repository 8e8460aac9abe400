package sqlite

import (
	"context"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
)

type orgsRepo struct {
	q querier
}

const orgColumns = `id, name, slug, allow_public_registration,
	only_use_for_branding_override, created_at, updated_at`

func (r *orgsRepo) GetOrgBySlug(ctx context.Context, slug string) (domain.Org, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM orgs WHERE slug = ?`, slug)
	return scanOrg(row)
}

func (r *orgsRepo) CreateOrg(ctx context.Context, o domain.Org) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO orgs (id, name, slug, allow_public_registration,
			only_use_for_branding_override)
		 VALUES (?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.Slug, o.AllowPublicRegistration, o.OnlyUseForBrandingOverride,
	)
	return err
}

func (r *orgsRepo) ListOrgsByUser(ctx context.Context, userID string) ([]domain.Org, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT o.id, o.name, o.slug, o.allow_public_registration,
			o.only_use_for_branding_override, o.created_at, o.updated_at
		 FROM orgs o
		 JOIN user_orgs uo ON uo.org_id = o.id
		 WHERE uo.user_id = ?
		 ORDER BY o.slug`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []domain.Org
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

func (r *orgsRepo) IsMember(ctx context.Context, userID, orgID string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM user_orgs WHERE user_id = ? AND org_id = ?`,
		userID, orgID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *orgsRepo) AddMembership(ctx context.Context, userID, orgID string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_orgs (user_id, org_id) VALUES (?, ?)`,
		userID, orgID)
	return err
}

func scanOrg(row rowScanner) (domain.Org, error) {
	var o domain.Org
	err := row.Scan(
		&o.ID, &o.Name, &o.Slug, &o.AllowPublicRegistration,
		&o.OnlyUseForBrandingOverride, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Org{}, mapNotFound(err)
	}
	return o, nil
}
