package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/esobb/internal/store"
)

func newLoginRepoWithMock(t *testing.T) (*LoginRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLoginRepository(db), mock
}

var loginRowColumns = []string{"login_id", "cookie", "ip", "user_agent", "member_id", "first_time", "last_time"}

func TestUpsertWithCookieUsesCookieKey(t *testing.T) {
	repo, mock := newLoginRepoWithMock(t)
	now := time.Unix(2_000, 0)

	mock.ExpectQuery(`(?s)INSERT INTO logins .*ON CONFLICT \(cookie, member_id\) WHERE cookie IS NOT NULL.*RETURNING login_id, first_time`).
		WithArgs("abc", "10.0.0.1", "uahash", int64(7), now.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"login_id", "first_time"}).AddRow(int64(3), int64(1_000)))

	l := &store.Login{Cookie: "abc", IP: "10.0.0.1", UserAgent: "uahash", MemberID: 7, LastTime: now}
	require.NoError(t, repo.Upsert(context.Background(), l))
	assert.Equal(t, int64(3), l.ID)
	assert.Equal(t, time.Unix(1_000, 0), l.FirstTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWithoutCookieUsesIPKey(t *testing.T) {
	repo, mock := newLoginRepoWithMock(t)
	now := time.Unix(2_000, 0)

	mock.ExpectQuery(`(?s)VALUES \(NULL, \$1, \$2, \$3, \$4, \$4\).*ON CONFLICT \(ip, member_id\) WHERE cookie IS NULL`).
		WithArgs("10.0.0.1", "uahash", int64(7), now.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"login_id", "first_time"}).AddRow(int64(4), now.Unix()))

	l := &store.Login{IP: "10.0.0.1", UserAgent: "uahash", MemberID: 7, LastTime: now}
	require.NoError(t, repo.Upsert(context.Background(), l))
	assert.Equal(t, int64(4), l.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceDeletesStaleCookieInTransaction(t *testing.T) {
	repo, mock := newLoginRepoWithMock(t)
	now := time.Unix(2_000, 0)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM logins WHERE cookie = \$1 AND member_id = \$2`).
		WithArgs("old", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`ON CONFLICT \(ip, member_id\)`).
		WillReturnRows(sqlmock.NewRows([]string{"login_id", "first_time"}).AddRow(int64(5), now.Unix()))
	mock.ExpectCommit()

	l := &store.Login{IP: "10.0.0.1", UserAgent: "uahash", MemberID: 7, LastTime: now}
	require.NoError(t, repo.Replace(context.Background(), l, "old"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRollsBackOnUpsertFailure(t *testing.T) {
	repo, mock := newLoginRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM logins`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO logins`).WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	l := &store.Login{IP: "10.0.0.1", MemberID: 7, LastTime: time.Unix(1, 0)}
	require.Error(t, repo.Replace(context.Background(), l, "old"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIPOnlyMatchesNullCookie(t *testing.T) {
	repo, mock := newLoginRepoWithMock(t)

	mock.ExpectQuery(`FROM logins WHERE cookie IS NULL AND ip = \$1 AND member_id = \$2`).
		WithArgs("10.0.0.1", int64(7)).
		WillReturnRows(sqlmock.NewRows(loginRowColumns).
			AddRow(int64(1), nil, "10.0.0.1", "uahash", int64(7), int64(100), int64(200)))

	l, err := repo.FindByIP(context.Background(), "10.0.0.1", 7)
	require.NoError(t, err)
	assert.Empty(t, l.Cookie)
	assert.Equal(t, time.Unix(200, 0), l.LastTime)
}

func TestFindByCookieNotFound(t *testing.T) {
	repo, mock := newLoginRepoWithMock(t)

	mock.ExpectQuery(`FROM logins WHERE cookie = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByCookie(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.FindByCookie(context.Background(), "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTouchMissingBinding(t *testing.T) {
	repo, mock := newLoginRepoWithMock(t)

	mock.ExpectExec(`UPDATE logins SET last_time = \$1 WHERE login_id = \$2`).
		WithArgs(int64(50), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Touch(context.Background(), 9, time.Unix(50, 0))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
