package sqlite

import (
	"context"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
)

type consentsRepo struct {
	q querier
}

func (r *consentsRepo) HasConsent(ctx context.Context, userID, clientUID string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM consents WHERE user_id = ? AND client_uid = ?`,
		userID, clientUID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *consentsRepo) CreateConsent(ctx context.Context, c domain.Consent) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO consents (user_id, client_uid) VALUES (?, ?)`,
		c.UserID, c.ClientUID)
	return err
}
