package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/token"
)

// Registry はログイン中セッションの記録をサーバー側に保持します。
// クライアントが持つセッションの CSRF トークンが記録と一致しない場合、そのセッションは無効です。
type Registry struct {
	sessions store.SessionRepository
	now      func() time.Time
}

// NewRegistry は Registry を作成します。
func NewRegistry(sessions store.SessionRepository) *Registry {
	return &Registry{sessions: sessions, now: time.Now}
}

// SetClock は現在時刻の取得関数を差し替えます（テスト用）。
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// HashToken はトークンを記録用に SHA-256 の16進文字列へ変換します。
func HashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// Open は新しいセッション ID を発行し、tok を現在のトークンとして記録します。
func (r *Registry) Open(ctx context.Context, memberID int64, tok string) (string, error) {
	id, err := token.Generate()
	if err != nil {
		return "", err
	}
	if err := r.Bind(ctx, id, memberID, tok); err != nil {
		return "", err
	}
	return id, nil
}

// Bind は既存のセッションの現在のトークンを tok に更新します。
func (r *Registry) Bind(ctx context.Context, id string, memberID int64, tok string) error {
	return r.sessions.Put(ctx, &store.AuthSession{
		ID:        id,
		MemberID:  memberID,
		TokenHash: HashToken(tok),
		UpdatedAt: r.now(),
	})
}

// Check はセッションが記録と一致するかを返します。
// 記録が無い、メンバーが異なる、トークンが異なる場合は false です。
func (r *Registry) Check(ctx context.Context, id string, memberID int64, tok string) (*store.AuthSession, bool, error) {
	if id == "" || tok == "" {
		return nil, false, nil
	}
	s, err := r.sessions.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if s.MemberID != memberID || subtle.ConstantTimeCompare([]byte(s.TokenHash), []byte(HashToken(tok))) != 1 {
		return s, false, nil
	}
	return s, true, nil
}

// Touch は記録の更新時刻を現在時刻にします。
func (r *Registry) Touch(ctx context.Context, s *store.AuthSession) error {
	s.UpdatedAt = r.now()
	return r.sessions.Put(ctx, s)
}

// Close はセッションの記録を削除します。
func (r *Registry) Close(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return r.sessions.Delete(ctx, id)
}

// Prune は idle より長く使われていない記録を削除します。
func (r *Registry) Prune(ctx context.Context, idle time.Duration) (int64, error) {
	return r.sessions.DeleteIdle(ctx, r.now().Add(-idle))
}
