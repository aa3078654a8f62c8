package mail

import "time"

// Status はメール送信の状態を表します。
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Kind はメールの種類です。
type Kind string

const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
)

// ErrorInfo は送信失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record は送信依頼の現在状態を表します。
type Record struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	MemberID  int64      `json:"memberId"`
	To        string     `json:"to"`
	Status    Status     `json:"status"`
	Attempts  int        `json:"attempts"`
	Error     *ErrorInfo `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Message は送信するメールです。
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
