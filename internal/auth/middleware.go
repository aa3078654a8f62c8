package auth

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/esobb/internal/token"
)

const (
	// CSRFHeader はトークンを受け渡すヘッダー名です。
	CSRFHeader = "X-CSRF-Token"
	csrfField  = "token"

	contextKey = "auth.request"
)

// Middleware はリクエストごとに RequestContext を作成し、
// セッションの検証とクッキーログインを行うミドルウェアです。
// sessions.Sessions の後に登録してください。
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := &RequestContext{
			Config:    m.cfg,
			Session:   sessions.Default(c),
			Cookies:   NewGinCookies(c, m.cfg),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		ctx := c.Request.Context()

		if err := m.ValidateSession(ctx, rc); err != nil {
			m.abort(c, rc, err)
			return
		}

		if rc.User == nil {
			if _, err := m.Login(ctx, rc, LoginRequest{}); err != nil {
				var storeErr *StorageError
				if errors.As(err, &storeErr) {
					m.abort(c, rc, err)
					return
				}
				// 承認待ちなどクッキーログインできない場合は匿名のまま続行
				m.logger.Debug(ctx, "cookie login skipped", "reason", MessageKey(err))
			}
		}

		tok, err := m.EnsureToken(rc)
		if err != nil {
			m.abort(c, rc, err)
			return
		}

		c.Set(contextKey, rc)
		c.Header(CSRFHeader, tok)
		c.Next()
	}
}

// FromContext は Middleware が作成した RequestContext を返します。
func FromContext(c *gin.Context) *RequestContext {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	rc, _ := v.(*RequestContext)
	return rc
}

// RequireLogin はログインしていないリクエストを拒否するミドルウェアです。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := FromContext(c)
		if rc == nil || rc.User == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}
		c.Next()
	}
}

// VerifyCSRF は状態を変更するリクエストのトークンを検証するミドルウェアです。
// トークンは X-CSRF-Token ヘッダーまたは token フォーム値で受け取ります。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		rc := FromContext(c)
		if rc == nil || token.Current(rc.Session) == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		presented := c.GetHeader(CSRFHeader)
		if presented == "" {
			presented = c.PostForm(csrfField)
		}
		if !m.RequireToken(rc, presented) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": MsgNoPermission,
			})
			return
		}

		c.Next()
	}
}

func (m *Manager) abort(c *gin.Context, rc *RequestContext, err error) {
	m.RespondError(c, rc, err)
	c.Abort()
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
