package auth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/esobb/internal/form"
	"github.com/yourusername/esobb/internal/token"
)

type loginBody struct {
	Name       string `json:"name" form:"name"`
	Password   string `json:"password" form:"password"`
	RememberMe *bool  `json:"rememberMe" form:"rememberMe"`
}

// LoginHandler は POST /api/auth/login のハンドラーです。
func (m *Manager) LoginHandler(c *gin.Context) {
	rc := FromContext(c)
	var body loginBody
	if err := c.ShouldBind(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "name と password を送ってください",
		})
		return
	}

	user, err := m.Login(c.Request.Context(), rc, LoginRequest{
		Name:       body.Name,
		Password:   body.Password,
		RememberMe: body.RememberMe,
	})
	if err == nil && user == nil {
		err = &CredentialError{}
	}
	if err != nil {
		m.RespondError(c, rc, err)
		return
	}

	c.Header(CSRFHeader, token.Current(rc.Session))
	c.JSON(http.StatusOK, gin.H{
		"user":     m.CurrentUser(rc),
		"messages": rc.Messages,
	})
}

// LogoutHandler は POST /api/auth/logout のハンドラーです。
func (m *Manager) LogoutHandler(c *gin.Context) {
	rc := FromContext(c)
	if err := m.Logout(c.Request.Context(), rc); err != nil {
		m.RespondError(c, rc, err)
		return
	}
	c.Header(CSRFHeader, token.Current(rc.Session))
	c.Status(http.StatusNoContent)
}

// MeHandler は GET /api/auth/me のハンドラーです。
func (m *Manager) MeHandler(c *gin.Context) {
	rc := FromContext(c)
	if rc.User != nil {
		if _, err := m.IsSuspended(c.Request.Context(), rc); err != nil {
			m.RespondError(c, rc, err)
			return
		}
	}
	c.Header(CSRFHeader, token.Current(rc.Session))
	c.JSON(http.StatusOK, m.CurrentUser(rc))
}

// RespondError はエラーを JSON レスポンスに変換します。
// 想定外のエラーは verboseFatalErrors が有効な場合のみ詳細を返します。
func (m *Manager) RespondError(c *gin.Context, rc *RequestContext, err error) {
	var (
		credErr    *CredentialError
		rateErr    *RateLimitError
		permErr    *PermissionError
		pendingErr *PendingApprovalError
		notFound   *NotFoundError
		invalid    *form.ValidationError
	)

	switch {
	case errors.As(err, &credErr):
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "INVALID_CREDENTIALS",
			"message": credErr.MessageKey(),
		})
	case errors.As(err, &rateErr):
		secs := rateErr.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":       "TOO_MANY_ATTEMPTS",
			"message":    rateErr.MessageKey(),
			"retryAfter": secs,
		})
	case errors.As(err, &permErr):
		c.JSON(http.StatusForbidden, gin.H{
			"code":    "FORBIDDEN",
			"message": permErr.MessageKey(),
		})
	case errors.As(err, &pendingErr):
		body := gin.H{
			"code":    "ACCOUNT_PENDING",
			"message": pendingErr.MessageKey(),
		}
		if pendingErr.ResendLink != "" {
			body["link"] = pendingErr.ResendLink
		}
		c.JSON(http.StatusForbidden, body)
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": notFound.MessageKey(),
		})
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "VALIDATION_FAILED",
			"message": "入力内容を確認してください",
			"fields":  invalid.Results.Messages(),
		})
	default:
		m.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "member_id", memberIDOf(rc), "error", err)
		body := gin.H{
			"code":    "INTERNAL_ERROR",
			"message": MsgFatalError,
		}
		if m.cfg.VerboseFatalErrors {
			body["detail"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}

func memberIDOf(rc *RequestContext) int64 {
	if rc == nil {
		return 0
	}
	return rc.MemberID()
}
