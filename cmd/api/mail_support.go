package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/config"
	"github.com/yourusername/esobb/internal/logging"
	"github.com/yourusername/esobb/internal/mail"
)

// mailRecordTTL は送信記録を Redis に残す期間です。
const mailRecordTTL = 24 * time.Hour

func setupMail(cfg *config.Config, logger logging.Logger) (*mail.Queue, error) {
	opt, err := redis.ParseURL(cfg.MailQueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	recorder := mail.NewStore(redisClient, mailRecordTTL)

	var sender mail.Sender
	if cfg.SMTPAddr != "" {
		sender = mail.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
	} else {
		sender = mail.NewLogSender(logger)
	}
	return mail.NewQueue(cfg, recorder, sender, logger)
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := auth.FromContext(c)
		if rc == nil || rc.User == nil || !rc.User.Flags.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": auth.MsgNoPermission,
			})
			return
		}
		c.Next()
	}
}

func mailStatusHandler(queue *mail.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if strings.TrimSpace(id) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "id を指定してください。",
			})
			return
		}

		record, err := queue.GetRecord(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "送信記録の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "MAIL_NOT_FOUND",
				"message": "指定された送信記録は存在しません。",
			})
			return
		}

		payload := gin.H{
			"id":        record.ID,
			"kind":      record.Kind,
			"memberId":  record.MemberID,
			"status":    record.Status,
			"attempts":  record.Attempts,
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}
