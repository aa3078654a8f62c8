package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/esobb/internal/flood"
)

// ユーザーに表示するメッセージキー
const (
	MsgIncorrectLogin        = "incorrectLogin"
	MsgIncorrectPassword     = "incorrectPassword"
	MsgWaitToLogin           = "waitToLogin"
	MsgWaitToSearch          = "waitToSearch"
	MsgNoPermission          = "noPermission"
	MsgAccountNotYetVerified = "accountNotYetVerified"
	MsgWaitForApproval       = "waitForApproval"
	MsgPasswordUpgraded      = "passwordUpgraded"
	MsgFatalError            = "fatalError"
)

// CredentialError は名前・パスワード・ハッシュが一致しないことを表します。
type CredentialError struct {
	Key string
}

func (e *CredentialError) Error() string {
	return "auth: " + e.MessageKey()
}

// MessageKey は表示用のメッセージキーを返します。
func (e *CredentialError) MessageKey() string {
	if e.Key == "" {
		return MsgIncorrectLogin
	}
	return e.Key
}

// RateLimitError はフラッドコントロールで拒否されたことを表します。
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("auth: too many %s attempts, retry after %ds", e.Action, e.RetryAfterSeconds())
}

// RetryAfterSeconds は Retry-After ヘッダー用の秒数を返します。
func (e *RateLimitError) RetryAfterSeconds() int {
	return flood.Result{RetryAfter: e.RetryAfter}.RetryAfterSeconds()
}

func (e *RateLimitError) MessageKey() string {
	if e.Action == flood.ActionSearch {
		return MsgWaitToSearch
	}
	return MsgWaitToLogin
}

// PermissionError は操作が許可されていないことを表します。
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return "auth: permission denied"
	}
	return "auth: permission denied: " + e.Reason
}

func (e *PermissionError) MessageKey() string {
	return MsgNoPermission
}

// PendingKind は承認待ちの種類です。
type PendingKind int

const (
	// PendingEmail はメールアドレスの確認待ちです。
	PendingEmail PendingKind = iota + 1
	// PendingManual は管理者の承認待ちです。
	PendingManual
)

// PendingApprovalError は未承認アカウントでのログインを表します。
type PendingApprovalError struct {
	Kind       PendingKind
	MemberID   int64
	ResendLink string // 確認メール再送用リンク（PendingEmail のみ）
}

func (e *PendingApprovalError) Error() string {
	return fmt.Sprintf("auth: member %d is pending approval (%s)", e.MemberID, e.MessageKey())
}

func (e *PendingApprovalError) MessageKey() string {
	if e.Kind == PendingEmail {
		return MsgAccountNotYetVerified
	}
	return MsgWaitForApproval
}

// NotFoundError は利用者が指定した対象が存在しないことを表します。
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return "auth: " + e.Key
}

func (e *NotFoundError) MessageKey() string {
	return e.Key
}

// StorageError はストアやセッションの保存に失敗したことを表します。
// この場合クッキーやトークンは発行されません。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) MessageKey() string {
	return MsgFatalError
}

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// MessageKey は err に対応するメッセージキーを返します。該当しなければ空文字です。
func MessageKey(err error) string {
	var keyed interface{ MessageKey() string }
	if errors.As(err, &keyed) {
		return keyed.MessageKey()
	}
	return ""
}
