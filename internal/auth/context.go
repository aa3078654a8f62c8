package auth

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/yourusername/esobb/internal/config"
	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/token"
)

// SessionHandle はリクエストごとのサーバー側セッションです。
// gin-contrib/sessions の sessions.Session はこれを満たします。
type SessionHandle interface {
	token.Handle
	Clear()
}

// CookieTransport はクライアントとのクッキーのやり取りを抽象化します。
type CookieTransport interface {
	Read(name string) (string, bool)
	Write(name, value string, expires time.Time)
	Clear(name string)
}

// Tristate は未確定を含む真偽値です。
type Tristate int

const (
	Unknown Tristate = iota
	False
	True
)

func tristate(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// MarshalJSON は Unknown を null として出力します。
func (t Tristate) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// RoleFlags はログイン中メンバーの権限フラグです。
type RoleFlags struct {
	Admin       bool     `json:"admin"`
	Moderator   bool     `json:"moderator"`
	Member      bool     `json:"member"`
	Suspended   Tristate `json:"suspended"`
	Unvalidated bool     `json:"unvalidated"`
}

// flagsFor はグループから権限フラグを組み立てます。
// suspendedKnown が false の場合、停止中でなければ Suspended は Unknown になります。
func flagsFor(account store.Account, suspendedKnown bool) RoleFlags {
	f := RoleFlags{
		Admin:       account == store.AccountAdministrator,
		Moderator:   account == store.AccountAdministrator || account == store.AccountModerator,
		Unvalidated: account == store.AccountUnvalidated,
	}
	f.Member = f.Moderator || account == store.AccountMember
	switch {
	case account == store.AccountSuspended:
		f.Suspended = True
	case suspendedKnown:
		f.Suspended = False
	default:
		f.Suspended = Unknown
	}
	return f
}

// User はログイン中のメンバーです。
type User struct {
	MemberID   int64
	Name       string
	Account    store.Account
	Color      int
	Language   string
	LastAction string
	Flags      RoleFlags
}

// RequestContext は1リクエストの認証状態をまとめたものです。
type RequestContext struct {
	Config    *config.Config
	Session   SessionHandle
	Cookies   CookieTransport
	IP        string
	UserAgent string

	// User はログイン中のメンバーです。匿名なら nil です。
	User *User
	// Messages は利用者に表示する通知のメッセージキーです。
	Messages []string
}

// AddMessage は通知を追加します。
func (rc *RequestContext) AddMessage(key string) {
	for _, m := range rc.Messages {
		if m == key {
			return
		}
	}
	rc.Messages = append(rc.Messages, key)
}

// MemberID はログイン中のメンバーIDを返します。匿名なら 0 です。
func (rc *RequestContext) MemberID() int64 {
	if rc.User == nil {
		return 0
	}
	return rc.User.MemberID
}

// userAgentHash はログイン記録とトークンに保存する UA のハッシュです。
func (rc *RequestContext) userAgentHash() string {
	sum := md5.Sum([]byte(rc.UserAgent))
	return hex.EncodeToString(sum[:])
}
