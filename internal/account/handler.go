package account

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/token"
)

type resetBody struct {
	Email string `json:"email" form:"email"`
}

type newPasswordBody struct {
	Password string `json:"password" form:"password"`
	Confirm  string `json:"confirm" form:"confirm"`
}

// RegisterRoutes はアカウント関連のルートを登録します。
func (s *Service) RegisterRoutes(r gin.IRouter) {
	csrf := s.auth.VerifyCSRF()
	r.POST("/join", csrf, s.JoinHandler)
	r.POST("/join/verify/:token", s.VerifyHandler)
	r.POST("/join/sendVerification/:id", s.ResendHandler)
	r.POST("/settings/password-email", s.auth.RequireLogin(), s.SettingsHandler)
	r.POST("/forgot-password", csrf, s.RequestResetHandler)
	r.POST("/forgot-password/:token", csrf, s.ResetPasswordHandler)
}

// JoinHandler は POST /api/join のハンドラーです。
func (s *Service) JoinHandler(c *gin.Context) {
	rc := auth.FromContext(c)
	var req JoinRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c)
		return
	}

	res, err := s.Join(c.Request.Context(), rc, req)
	if err != nil {
		s.auth.RespondError(c, rc, err)
		return
	}

	status := http.StatusCreated
	body := gin.H{
		"memberId": res.Member.ID,
		"messages": rc.Messages,
	}
	if res.Pending != 0 {
		status = http.StatusAccepted
		body["pending"] = true
	} else {
		body["user"] = s.auth.CurrentUser(rc)
	}
	c.Header(auth.CSRFHeader, token.Current(rc.Session))
	c.JSON(status, body)
}

// VerifyHandler は POST /api/join/verify/:token のハンドラーです。
func (s *Service) VerifyHandler(c *gin.Context) {
	rc := auth.FromContext(c)
	user, err := s.Verify(c.Request.Context(), rc, c.Param("token"))
	if err != nil {
		s.auth.RespondError(c, rc, err)
		return
	}

	body := gin.H{"messages": rc.Messages}
	if user != nil {
		body["user"] = s.auth.CurrentUser(rc)
	}
	c.Header(auth.CSRFHeader, token.Current(rc.Session))
	c.JSON(http.StatusOK, body)
}

// ResendHandler は POST /api/join/sendVerification/:id のハンドラーです。
func (s *Service) ResendHandler(c *gin.Context) {
	rc := auth.FromContext(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c)
		return
	}
	if err := s.ResendVerification(c.Request.Context(), rc, id); err != nil {
		s.auth.RespondError(c, rc, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": rc.Messages})
}

// SettingsHandler は POST /api/settings/password-email のハンドラーです。
// トークンはリクエスト本文の token またはヘッダーで受け取ります。
func (s *Service) SettingsHandler(c *gin.Context) {
	rc := auth.FromContext(c)
	var req SettingsRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c)
		return
	}
	if req.Token == "" {
		req.Token = c.GetHeader(auth.CSRFHeader)
	}

	if err := s.ChangePasswordEmail(c.Request.Context(), rc, req); err != nil {
		s.auth.RespondError(c, rc, err)
		return
	}
	c.Header(auth.CSRFHeader, token.Current(rc.Session))
	c.JSON(http.StatusOK, gin.H{"messages": rc.Messages})
}

// RequestResetHandler は POST /api/forgot-password のハンドラーです。
func (s *Service) RequestResetHandler(c *gin.Context) {
	rc := auth.FromContext(c)
	var body resetBody
	if err := c.ShouldBind(&body); err != nil {
		badRequest(c)
		return
	}
	if err := s.RequestReset(c.Request.Context(), rc, body.Email); err != nil {
		s.auth.RespondError(c, rc, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": rc.Messages})
}

// ResetPasswordHandler は POST /api/forgot-password/:token のハンドラーです。
func (s *Service) ResetPasswordHandler(c *gin.Context) {
	rc := auth.FromContext(c)
	var body newPasswordBody
	if err := c.ShouldBind(&body); err != nil {
		badRequest(c)
		return
	}
	if err := s.ResetPassword(c.Request.Context(), rc, c.Param("token"), body.Password, body.Confirm); err != nil {
		s.auth.RespondError(c, rc, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": rc.Messages})
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_INPUT",
		"message": "リクエストの形式が正しくありません",
	})
}
