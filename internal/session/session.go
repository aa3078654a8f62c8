// Package session はクッキーまたはIPとメンバーの紐付け（デバイスバインディング）を管理します。
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/token"
)

// Store はログイン記録の検索・作成・期限判定を行います。
type Store struct {
	logins store.LoginRepository
	now    func() time.Time
}

// NewStore は Store を作成します。
func NewStore(logins store.LoginRepository) *Store {
	return &Store{logins: logins, now: time.Now}
}

// SetClock は現在時刻の取得関数を差し替えます（テスト用）。
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Find はメンバーの記録を探します。
// クッキーがあればクッキーで、無ければクッキー無しの IP で照合します。
// fallback が true の場合、見つからなければクッキーの有無を問わず IP で照合します。
// 見つからない場合は store.ErrNotFound を返します。
func (s *Store) Find(ctx context.Context, cookie, ip string, memberID int64, fallback bool) (*store.Login, error) {
	var (
		l   *store.Login
		err error
	)
	if cookie != "" {
		l, err = s.logins.FindByCookieMember(ctx, cookie, memberID)
	} else {
		l, err = s.logins.FindByIP(ctx, ip, memberID)
	}
	if err == nil || !errors.Is(err, store.ErrNotFound) || !fallback {
		return l, err
	}
	return s.logins.FindAnyByIP(ctx, ip, memberID)
}

// FindByCookie はクッキートークンだけで記録を探します（クッキーログイン用）。
func (s *Store) FindByCookie(ctx context.Context, cookie string) (*store.Login, error) {
	return s.logins.FindByCookie(ctx, cookie)
}

// Touch は記録の最終時刻を現在時刻に更新します。
func (s *Store) Touch(ctx context.Context, l *store.Login) error {
	now := s.now()
	if err := s.logins.Touch(ctx, l.ID, now); err != nil {
		return err
	}
	l.LastTime = now
	return nil
}

// Refresh は既存の記録の IP・UA・最終時刻を更新します。
func (s *Store) Refresh(ctx context.Context, l *store.Login, ip, userAgentHash string) error {
	updated := *l
	updated.IP = ip
	updated.UserAgent = userAgentHash
	updated.LastTime = s.now()
	if err := s.logins.Upsert(ctx, &updated); err != nil {
		return err
	}
	*l = updated
	return nil
}

// Create は新しい記録を作成します。
// rememberMe の場合は新しいクッキートークンをキーにし、
// そうでなければ (IP, メンバー) をキーにして提示されたクッキーの古い記録を削除します。
func (s *Store) Create(ctx context.Context, ip, userAgentHash string, memberID int64, rememberMe bool, presentedCookie string) (*store.Login, error) {
	l := &store.Login{
		IP:        ip,
		UserAgent: userAgentHash,
		MemberID:  memberID,
		LastTime:  s.now(),
	}

	if rememberMe {
		tok, err := token.Generate()
		if err != nil {
			return nil, err
		}
		l.Cookie = tok
		if err := s.logins.Upsert(ctx, l); err != nil {
			return nil, fmt.Errorf("upsert login: %w", err)
		}
		return l, nil
	}

	if err := s.logins.Replace(ctx, l, presentedCookie); err != nil {
		return nil, fmt.Errorf("replace login: %w", err)
	}
	return l, nil
}

// IsExpired は最終時刻から sessionExpire を超えて経過しているかを返します。
func (s *Store) IsExpired(l *store.Login, sessionExpire time.Duration) bool {
	return s.now().Sub(l.LastTime) > sessionExpire
}

// CookieExpired はクッキーの有効期間を作成時刻から超えているかを返します。
func (s *Store) CookieExpired(l *store.Login, cookieExpire time.Duration) bool {
	return s.now().Sub(l.FirstTime) > cookieExpire
}

// Delete は記録を削除します。
func (s *Store) Delete(ctx context.Context, l *store.Login) error {
	return s.logins.Delete(ctx, l.ID)
}
