package mail

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"

	"github.com/yourusername/esobb/internal/logging"
)

// Sender はメールを実際に送信します。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender は SMTP サーバー経由で送信します。
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPSender は SMTPSender を作成します。user が空の場合は認証しません。
func NewSMTPSender(addr, user, pass, from string) *SMTPSender {
	s := &SMTPSender{addr: addr, from: from}
	if user != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		s.auth = smtp.PlainAuth("", user, pass, host)
	}
	return s
}

// Send はメールを送信します。
func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{msg.To}, buildMIME(s.from, msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender は送信せずにログへ出力します（開発用）。
type LogSender struct {
	logger logging.Logger
}

// NewLogSender は LogSender を作成します。
func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send はメールの内容をログに出力します。
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info(ctx, "mail not sent (no smtp server configured)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
