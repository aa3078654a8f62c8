package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/yourusername/esobb/internal/dbx"
	"github.com/yourusername/esobb/internal/store"
)

const memberColumns = `member_id, name, email, password, salt, color, account, language,
	avatar_alignment, avatar_format, email_verified, last_seen, last_action, reset_password`

// MemberRepository は members テーブルを扱います。
type MemberRepository struct {
	db dbx.DBTX
}

// NewMemberRepository は DBTX に紐づくリポジトリを作成します。
func NewMemberRepository(db dbx.DBTX) *MemberRepository {
	return &MemberRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*store.Member, error) {
	var (
		m            store.Member
		account      string
		avatarFormat sql.NullString
		lastSeen     sql.NullInt64
		lastAction   sql.NullString
		reset        sql.NullString
	)
	err := row.Scan(&m.ID, &m.Name, &m.Email, &m.Password, &m.Salt, &m.Color, &account, &m.Language,
		&m.AvatarAlignment, &avatarFormat, &m.EmailVerified, &lastSeen, &lastAction, &reset)
	if err != nil {
		return nil, mapError(err)
	}
	m.Account = store.Account(account)
	m.AvatarFormat = avatarFormat.String
	m.LastSeen = lastSeen.Int64
	m.LastAction = lastAction.String
	m.ResetPassword = reset.String
	return &m, nil
}

func (r *MemberRepository) FindByID(ctx context.Context, id int64) (*store.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE member_id = $1`
	return scanMember(r.db.QueryRowContext(ctx, query, id))
}

func (r *MemberRepository) FindByName(ctx context.Context, name string) (*store.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE lower(name) = lower($1)
		ORDER BY (account = 'Unvalidated'), member_id LIMIT 1`
	return scanMember(r.db.QueryRowContext(ctx, query, name))
}

func (r *MemberRepository) FindByEmail(ctx context.Context, email string) (*store.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE lower(email) = lower($1)
		ORDER BY (account = 'Unvalidated'), member_id LIMIT 1`
	return scanMember(r.db.QueryRowContext(ctx, query, email))
}

func (r *MemberRepository) FindByResetToken(ctx context.Context, token string) (*store.Member, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	query := `SELECT ` + memberColumns + ` FROM members WHERE reset_password = $1`
	return scanMember(r.db.QueryRowContext(ctx, query, token))
}

func (r *MemberRepository) exists(ctx context.Context, query string, arg string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapError(err)
	}
	return true, nil
}

func (r *MemberRepository) NameTaken(ctx context.Context, name string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM members WHERE lower(name) = lower($1) AND account <> 'Unvalidated' LIMIT 1`, name)
}

func (r *MemberRepository) EmailTaken(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM members WHERE lower(email) = lower($1) AND account <> 'Unvalidated' LIMIT 1`, email)
}

func (r *MemberRepository) Create(ctx context.Context, m *store.Member) error {
	query := `
		INSERT INTO members (name, email, password, salt, color, account, language,
			avatar_alignment, email_verified, reset_password)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING member_id
	`
	alignment := m.AvatarAlignment
	if alignment == "" {
		alignment = "alternate"
	}
	err := r.db.QueryRowContext(ctx, query, m.Name, m.Email, m.Password, m.Salt, m.Color, string(m.Account),
		m.Language, alignment, m.EmailVerified, nullString(m.ResetPassword)).Scan(&m.ID)
	if err != nil {
		return mapError(err)
	}
	m.AvatarAlignment = alignment
	return nil
}

// exec は1行を更新するクエリを実行し、対象が無ければ ErrNotFound を返します。
func (r *MemberRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *MemberRepository) UpdatePassword(ctx context.Context, id int64, hash, salt string) error {
	return r.exec(ctx, `UPDATE members SET password = $1, salt = $2 WHERE member_id = $3`, hash, salt, id)
}

func (r *MemberRepository) UpdateEmail(ctx context.Context, id int64, email string) error {
	return r.exec(ctx, `UPDATE members SET email = $1 WHERE member_id = $2`, email, id)
}

func (r *MemberRepository) UpdateAccount(ctx context.Context, id int64, account store.Account) error {
	return r.exec(ctx, `UPDATE members SET account = $1 WHERE member_id = $2`, string(account), id)
}

func (r *MemberRepository) SetResetToken(ctx context.Context, id int64, token string) error {
	return r.exec(ctx, `UPDATE members SET reset_password = $1 WHERE member_id = $2`, nullString(token), id)
}

func (r *MemberRepository) ConsumeResetToken(ctx context.Context, token, hash, salt string) (int64, error) {
	if token == "" {
		return 0, store.ErrNotFound
	}
	query := `
		UPDATE members SET password = $1, salt = $2, reset_password = NULL
		WHERE reset_password = $3
		RETURNING member_id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, hash, salt, token).Scan(&id); err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func (r *MemberRepository) MarkEmailVerified(ctx context.Context, id int64, account store.Account) error {
	return r.exec(ctx, `UPDATE members SET email_verified = TRUE, account = $1, reset_password = NULL WHERE member_id = $2`,
		string(account), id)
}

func (r *MemberRepository) UpdateLastAction(ctx context.Context, id int64, action string, seen time.Time) error {
	return r.exec(ctx, `UPDATE members SET last_action = $1, last_seen = $2 WHERE member_id = $3`,
		nullString(action), seen.Unix(), id)
}
