// Package store はメンバーとログイン記録（デバイスバインディング）の永続化モデルとリポジトリを定義します。
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound は対象のレコードが存在しない場合に返されます。
	ErrNotFound = errors.New("not found")
	// ErrConflict は名前やメールアドレスの一意制約に違反した場合に返されます。
	ErrConflict = errors.New("conflict")
)

// Account はメンバーの権限グループです。
type Account string

const (
	AccountAdministrator Account = "Administrator"
	AccountModerator     Account = "Moderator"
	AccountMember        Account = "Member"
	AccountSuspended     Account = "Suspended"
	AccountUnvalidated   Account = "Unvalidated"
)

// Groups は管理者が選択できるグループの一覧です。
var Groups = []Account{AccountAdministrator, AccountModerator, AccountMember, AccountSuspended}

// Valid は既知のグループかどうかを返します。
func (a Account) Valid() bool {
	switch a {
	case AccountAdministrator, AccountModerator, AccountMember, AccountSuspended, AccountUnvalidated:
		return true
	}
	return false
}

// Member はフォーラムのメンバーです。
type Member struct {
	ID              int64
	Name            string
	Email           string
	Password        string
	Salt            string
	Color           int
	Account         Account
	Language        string
	AvatarAlignment string
	AvatarFormat    string
	EmailVerified   bool
	LastSeen        int64 // unix 秒
	LastAction      string
	ResetPassword   string // 空文字は NULL
}

// Login はクッキーまたはIPとメンバーの紐付け（デバイスバインディング）です。
// Cookie が空の場合は (IP, MemberID) がキーになります。
type Login struct {
	ID        int64
	Cookie    string
	IP        string
	UserAgent string
	MemberID  int64
	FirstTime time.Time
	LastTime  time.Time
}

// AuthSession はログイン中のセッションのサーバー側の記録です。
// セッションクッキーには ID だけを持たせ、現在の CSRF トークンは TokenHash で照合します。
type AuthSession struct {
	ID        string
	MemberID  int64
	TokenHash string
	UpdatedAt time.Time
}

// MemberRepository はメンバーの永続化を扱います。
type MemberRepository interface {
	FindByID(ctx context.Context, id int64) (*Member, error)
	// FindByName は大文字小文字を区別せずに検索し、承認済みアカウントを優先します。
	FindByName(ctx context.Context, name string) (*Member, error)
	FindByEmail(ctx context.Context, email string) (*Member, error)
	FindByResetToken(ctx context.Context, token string) (*Member, error)

	// NameTaken / EmailTaken は未承認以外のアカウントとの重複を判定します。
	NameTaken(ctx context.Context, name string) (bool, error)
	EmailTaken(ctx context.Context, email string) (bool, error)

	// Create はメンバーを作成し、m.ID を設定します。
	Create(ctx context.Context, m *Member) error
	UpdatePassword(ctx context.Context, id int64, hash, salt string) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	UpdateAccount(ctx context.Context, id int64, account Account) error
	// SetResetToken はリセット用トークンを設定します。空文字でクリアします。
	SetResetToken(ctx context.Context, id int64, token string) error
	// ConsumeResetToken はトークンに一致するメンバーのパスワードを更新し、トークンをクリアします。
	ConsumeResetToken(ctx context.Context, token, hash, salt string) (int64, error)
	// MarkEmailVerified はメール確認済みにし、グループを更新してトークンをクリアします。
	MarkEmailVerified(ctx context.Context, id int64, account Account) error
	UpdateLastAction(ctx context.Context, id int64, action string, seen time.Time) error
}

// LoginRepository はログイン記録の永続化を扱います。
type LoginRepository interface {
	// FindByCookie はクッキートークンに一致する記録を返します（メンバー不問）。
	FindByCookie(ctx context.Context, cookie string) (*Login, error)
	FindByCookieMember(ctx context.Context, cookie string, memberID int64) (*Login, error)
	// FindByIP はクッキーを持たない (IP, メンバー) の記録を返します。
	FindByIP(ctx context.Context, ip string, memberID int64) (*Login, error)
	// FindAnyByIP はクッキーの有無を問わず (IP, メンバー) の記録を返します。
	FindAnyByIP(ctx context.Context, ip string, memberID int64) (*Login, error)

	// Upsert は自然キーで記録を作成または更新し、l.ID と l.FirstTime を設定します。
	Upsert(ctx context.Context, l *Login) error
	// Replace は (staleCookie, メンバー) の記録を削除したうえで l を Upsert します。
	Replace(ctx context.Context, l *Login, staleCookie string) error
	Touch(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
}

// SessionRepository はログイン中セッションの記録を扱います。
type SessionRepository interface {
	Get(ctx context.Context, id string) (*AuthSession, error)
	// Put は ID をキーに記録を作成または置き換えます。
	Put(ctx context.Context, s *AuthSession) error
	Delete(ctx context.Context, id string) error
	// DeleteIdle は before より前に更新された記録を削除し、削除件数を返します。
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
}

// Store はリポジトリ一式をまとめたものです。
type Store interface {
	Members() MemberRepository
	Logins() LoginRepository
	Sessions() SessionRepository
	Close() error
}
