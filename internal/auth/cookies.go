package auth

import (
	"crypto/sha256"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/esobb/internal/config"
)

// SessionCookieName はサーバー側セッションを保持するクッキー名です。
func SessionCookieName(cfg *config.Config) string {
	return cfg.CookieName + "_session"
}

// SessionKeys はセッションクッキーの署名鍵と暗号化鍵を secret から導出します。
// 暗号化鍵は AES-256 用の32バイトです。
func SessionKeys(secret string) [][]byte {
	enc := sha256.Sum256([]byte("esobb session encryption\x00" + secret))
	return [][]byte{[]byte(secret), enc[:]}
}

// SessionOptions はセッションクッキーの属性を返します。ブラウザを閉じるまで有効です。
func SessionOptions(cfg *config.Config) sessions.Options {
	return sessions.Options{
		Path:     "/",
		Domain:   cfg.CookieDomain,
		Secure:   cfg.HTTPS,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// GinCookies は gin.Context を使った CookieTransport です。
// 書き込んだ値は同じリクエスト内の Read にも反映されます。
type GinCookies struct {
	c       *gin.Context
	domain  string
	secure  bool
	written map[string]*string
}

// NewGinCookies は GinCookies を作成します。
func NewGinCookies(c *gin.Context, cfg *config.Config) *GinCookies {
	return &GinCookies{
		c:       c,
		domain:  cfg.CookieDomain,
		secure:  cfg.HTTPS,
		written: make(map[string]*string),
	}
}

func (g *GinCookies) Read(name string) (string, bool) {
	if v, ok := g.written[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	v, err := g.c.Cookie(name)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

func (g *GinCookies) Write(name, value string, expires time.Time) {
	http.SetCookie(g.c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   g.domain,
		Expires:  expires,
		Secure:   g.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	g.written[name] = &value
}

func (g *GinCookies) Clear(name string) {
	http.SetCookie(g.c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   g.domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   g.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	g.written[name] = nil
}
