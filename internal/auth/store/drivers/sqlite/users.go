package sqlite

import (
	"context"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
)

type usersRepo struct {
	q querier
}

const userColumns = `id, auth_id, email, password_hash, first_name, last_name,
	locale, phone, org_slug, otp_secret, otp_verified, email_verified,
	is_active, created_at, updated_at`

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *usersRepo) GetUserByAuthID(ctx context.Context, authID string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE auth_id = ?`, authID)
	return scanUser(row)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (id, auth_id, email, password_hash, first_name,
			last_name, locale, phone, org_slug, otp_secret, otp_verified,
			email_verified, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.AuthID, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		u.Locale, u.Phone, u.OrgSlug, u.OtpSecret, u.OtpVerified,
		u.EmailVerified, u.IsActive,
	)
	return err
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		hash, userID)
	return err
}

func (r *usersRepo) UpdateOtpSecret(ctx context.Context, userID, secret string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE users SET otp_secret = ?, otp_verified = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		secret, userID)
	return err
}

func (r *usersRepo) MarkOtpVerified(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE users SET otp_verified = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		userID)
	return err
}

func (r *usersRepo) MarkEmailVerified(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE users SET email_verified = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		userID)
	return err
}

func (r *usersRepo) UpdateOrgSlug(ctx context.Context, userID, slug string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE users SET org_slug = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		slug, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.AuthID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Locale, &u.Phone, &u.OrgSlug, &u.OtpSecret, &u.OtpVerified,
		&u.EmailVerified, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}
