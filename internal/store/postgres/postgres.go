// Package postgres は PostgreSQL をバックエンドとする store.Store 実装です。
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/store/postgres/migrations"
)

// Store は PostgreSQL 接続とリポジトリをまとめたものです。
type Store struct {
	db       *sql.DB
	members  *MemberRepository
	logins   *LoginRepository
	sessions *SessionRepository
}

// Open は接続を確立し、マイグレーションを適用した Store を返します。
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return New(db), nil
}

// New は既存の接続から Store を作成します（マイグレーションは行いません）。
func New(db *sql.DB) *Store {
	return &Store{
		db:       db,
		members:  NewMemberRepository(db),
		logins:   NewLoginRepository(db),
		sessions: NewSessionRepository(db),
	}
}

// RunMigrations は埋め込みマイグレーションを適用します。
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Conn は下層の *sql.DB を返します（フラッドコントロール等で共有）。
func (s *Store) Conn() *sql.DB { return s.db }

func (s *Store) Members() store.MemberRepository   { return s.members }
func (s *Store) Logins() store.LoginRepository     { return s.logins }
func (s *Store) Sessions() store.SessionRepository { return s.sessions }
func (s *Store) Close() error                      { return s.db.Close() }

// mapError はドライバのエラーを store のエラーに変換します。
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrConflict
	}
	return fmt.Errorf("db error: %w", err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
