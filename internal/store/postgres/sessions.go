package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/yourusername/esobb/internal/store"
)

// SessionRepository は auth_sessions テーブルを扱います。
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository は接続に紐づくリポジトリを作成します。
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*store.AuthSession, error) {
	var (
		s         store.AuthSession
		updatedAt int64
	)
	row := r.db.QueryRowContext(ctx, `SELECT session_id, member_id, token_hash, updated_at FROM auth_sessions WHERE session_id = $1`, id)
	if err := row.Scan(&s.ID, &s.MemberID, &s.TokenHash, &updatedAt); err != nil {
		return nil, mapError(err)
	}
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

const upsertSession = `
	INSERT INTO auth_sessions (session_id, member_id, token_hash, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (session_id)
	DO UPDATE SET member_id = EXCLUDED.member_id, token_hash = EXCLUDED.token_hash, updated_at = EXCLUDED.updated_at
`

func (r *SessionRepository) Put(ctx context.Context, s *store.AuthSession) error {
	if _, err := r.db.ExecContext(ctx, upsertSession, s.ID, s.MemberID, s.TokenHash, s.UpdatedAt.Unix()); err != nil {
		return mapError(err)
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE session_id = $1`, id); err != nil {
		return mapError(err)
	}
	return nil
}

func (r *SessionRepository) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE updated_at < $1`, before.Unix())
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}
