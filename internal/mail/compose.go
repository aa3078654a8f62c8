package mail

import (
	"fmt"

	"github.com/yourusername/esobb/internal/store"
)

// VerificationMessage は新規登録時のメールアドレス確認メールを作ります。
func VerificationMessage(forumTitle string, m *store.Member, link string) Message {
	return Message{
		To:      m.Email,
		Subject: fmt.Sprintf("%s, please validate your account", m.Name),
		Body: fmt.Sprintf("%s, someone (hopefully you!) has signed up to %s with this email address.\n\n"+
			"If this was you, simply visit the following link and your account will be activated:\n%s",
			m.Name, forumTitle, link),
	}
}

// PasswordResetMessage はパスワード再設定メールを作ります。
func PasswordResetMessage(forumTitle string, m *store.Member, link string) Message {
	return Message{
		To:      m.Email,
		Subject: fmt.Sprintf("Did you forget your password, %s?", m.Name),
		Body: fmt.Sprintf("%s, some one (hopefully you!) has submitted a forgotten password request for your account on %s. "+
			"If you do not wish to change your password, just ignore this email and nothing will happen.\n\n"+
			"However, if you did forget your password and wish to set a new one, visit the following link:\n%s",
			m.Name, forumTitle, link),
	}
}
