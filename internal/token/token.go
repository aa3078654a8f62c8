// Package token はセッションに紐づく CSRF トークンの発行・ローテーション・検証を扱います。
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// セッションに保存するキー
const (
	KeyToken     = "token"
	KeyIP        = "token_ip"
	KeyUserAgent = "token_user_agent"
	KeyIssuedAt  = "token_issued_at"
)

// Handle はトークンを保存するセッションの最小インターフェースです。
// gin-contrib/sessions の sessions.Session はこれを満たします。
type Handle interface {
	Get(key interface{}) interface{}
	Set(key interface{}, val interface{})
	Delete(key interface{})
	Save() error
}

// Generate は128ビットのランダム値を32文字の16進文字列で返します。
func Generate() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Manager は CSRF トークンのローテーションを行います。
type Manager struct {
	now func() time.Time
}

// NewManager は Manager を作成します。
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// SetClock は現在時刻の取得関数を差し替えます（テスト用）。
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Rotate は新しいトークンを発行し、IP・UAハッシュ・発行時刻と共にセッションへ保存します。
// 保存に失敗した場合は以前の値に戻してエラーを返します。
func (m *Manager) Rotate(h Handle, ip, userAgentHash string) (string, error) {
	tok, err := Generate()
	if err != nil {
		return "", err
	}
	if err := m.Install(h, tok, ip, userAgentHash); err != nil {
		return "", err
	}
	return tok, nil
}

// Install は発行済みのトークン tok をセッションへ保存します。
// 保存に失敗した場合は以前の値に戻してエラーを返します。
func (m *Manager) Install(h Handle, tok, ip, userAgentHash string) error {
	keys := []string{KeyToken, KeyIP, KeyUserAgent, KeyIssuedAt}
	prev := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		prev[k] = h.Get(k)
	}

	h.Set(KeyToken, tok)
	h.Set(KeyIP, ip)
	h.Set(KeyUserAgent, userAgentHash)
	h.Set(KeyIssuedAt, m.now().Unix())

	if err := h.Save(); err != nil {
		for _, k := range keys {
			if prev[k] == nil {
				h.Delete(k)
				continue
			}
			h.Set(k, prev[k])
		}
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Ensure はトークンが未発行の場合のみ Rotate します。
func (m *Manager) Ensure(h Handle, ip, userAgentHash string) (string, error) {
	if tok := Current(h); tok != "" {
		return tok, nil
	}
	return m.Rotate(h, ip, userAgentHash)
}

// Current は現在のトークンを返します。未発行なら空文字です。
func Current(h Handle) string {
	tok, _ := h.Get(KeyToken).(string)
	return tok
}

// Validate は提示されたトークンが現在のトークンと一致するかを定数時間で比較します。
func Validate(h Handle, presented string) bool {
	current := Current(h)
	if current == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(current), []byte(presented)) == 1
}
