package sqlite

import (
	"context"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
)

type sessionsRepo struct {
	q querier
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, client_uid, scopes, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.ClientUID, joinList(s.Scopes), s.ExpiresAt,
	)
	return err
}

func (r *sessionsRepo) DeleteSessionsByUser(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}
