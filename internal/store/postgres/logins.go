package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/yourusername/esobb/internal/dbx"
	"github.com/yourusername/esobb/internal/store"
)

const loginColumns = `login_id, cookie, ip, user_agent, member_id, first_time, last_time`

// LoginRepository は logins テーブルを扱います。
// Upsert は部分ユニークインデックス (cookie, member_id) / (ip, member_id) を自然キーとして使います。
type LoginRepository struct {
	db *sql.DB
}

// NewLoginRepository は接続に紐づくリポジトリを作成します。
func NewLoginRepository(db *sql.DB) *LoginRepository {
	return &LoginRepository{db: db}
}

func scanLogin(row rowScanner) (*store.Login, error) {
	var (
		l                   store.Login
		cookie              sql.NullString
		firstTime, lastTime int64
	)
	if err := row.Scan(&l.ID, &cookie, &l.IP, &l.UserAgent, &l.MemberID, &firstTime, &lastTime); err != nil {
		return nil, mapError(err)
	}
	l.Cookie = cookie.String
	l.FirstTime = time.Unix(firstTime, 0)
	l.LastTime = time.Unix(lastTime, 0)
	return &l, nil
}

func (r *LoginRepository) FindByCookie(ctx context.Context, cookie string) (*store.Login, error) {
	if cookie == "" {
		return nil, store.ErrNotFound
	}
	query := `SELECT ` + loginColumns + ` FROM logins WHERE cookie = $1 LIMIT 1`
	return scanLogin(r.db.QueryRowContext(ctx, query, cookie))
}

func (r *LoginRepository) FindByCookieMember(ctx context.Context, cookie string, memberID int64) (*store.Login, error) {
	if cookie == "" {
		return nil, store.ErrNotFound
	}
	query := `SELECT ` + loginColumns + ` FROM logins WHERE cookie = $1 AND member_id = $2`
	return scanLogin(r.db.QueryRowContext(ctx, query, cookie, memberID))
}

func (r *LoginRepository) FindByIP(ctx context.Context, ip string, memberID int64) (*store.Login, error) {
	query := `SELECT ` + loginColumns + ` FROM logins WHERE cookie IS NULL AND ip = $1 AND member_id = $2`
	return scanLogin(r.db.QueryRowContext(ctx, query, ip, memberID))
}

func (r *LoginRepository) FindAnyByIP(ctx context.Context, ip string, memberID int64) (*store.Login, error) {
	query := `SELECT ` + loginColumns + ` FROM logins WHERE ip = $1 AND member_id = $2 ORDER BY login_id LIMIT 1`
	return scanLogin(r.db.QueryRowContext(ctx, query, ip, memberID))
}

const upsertCookieLogin = `
	INSERT INTO logins (cookie, ip, user_agent, member_id, first_time, last_time)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (cookie, member_id) WHERE cookie IS NOT NULL
	DO UPDATE SET ip = EXCLUDED.ip, user_agent = EXCLUDED.user_agent, last_time = EXCLUDED.last_time
	RETURNING login_id, first_time
`

const upsertIPLogin = `
	INSERT INTO logins (cookie, ip, user_agent, member_id, first_time, last_time)
	VALUES (NULL, $1, $2, $3, $4, $4)
	ON CONFLICT (ip, member_id) WHERE cookie IS NULL
	DO UPDATE SET user_agent = EXCLUDED.user_agent, last_time = EXCLUDED.last_time
	RETURNING login_id, first_time
`

func upsertLogin(ctx context.Context, db dbx.DBTX, l *store.Login) error {
	var (
		row       *sql.Row
		firstTime int64
	)
	if l.Cookie != "" {
		row = db.QueryRowContext(ctx, upsertCookieLogin, l.Cookie, l.IP, l.UserAgent, l.MemberID, l.LastTime.Unix())
	} else {
		row = db.QueryRowContext(ctx, upsertIPLogin, l.IP, l.UserAgent, l.MemberID, l.LastTime.Unix())
	}
	if err := row.Scan(&l.ID, &firstTime); err != nil {
		return mapError(err)
	}
	l.FirstTime = time.Unix(firstTime, 0)
	return nil
}

func (r *LoginRepository) Upsert(ctx context.Context, l *store.Login) error {
	return upsertLogin(ctx, r.db, l)
}

func (r *LoginRepository) Replace(ctx context.Context, l *store.Login, staleCookie string) error {
	if staleCookie == "" {
		return upsertLogin(ctx, r.db, l)
	}
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM logins WHERE cookie = $1 AND member_id = $2`, staleCookie, l.MemberID); err != nil {
			return mapError(err)
		}
		return upsertLogin(ctx, tx, l)
	})
}

func (r *LoginRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE logins SET last_time = $1 WHERE login_id = $2`, at.Unix(), id)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *LoginRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM logins WHERE login_id = $1`, id); err != nil {
		return mapError(err)
	}
	return nil
}
