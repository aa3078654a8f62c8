// Package form は入力フィールドの検証結果（FieldResult）と共通のバリデータを提供します。
package form

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// メッセージキー
const (
	MsgNameTaken          = "nameTaken"
	MsgNameEmpty          = "nameEmpty"
	MsgInvalidCharacters  = "invalidCharacters"
	MsgInvalidEmail       = "invalidEmail"
	MsgEmailTaken         = "emailTaken"
	MsgPasswordTooShort   = "passwordTooShort"
	MsgPasswordsDontMatch = "passwordsDontMatch"
)

// 長さの制限
const (
	MinNameLength  = 3
	MaxNameLength  = 20
	MaxEmailLength = 63
)

var emailPattern = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)

// FieldResult は1フィールドの検証結果です。Value は正規化後の値です。
type FieldResult struct {
	Field   string `json:"field"`
	Value   string `json:"-"`
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// OK は妥当な結果を返します。
func OK(field, value string) FieldResult {
	return FieldResult{Field: field, Value: value, Valid: true}
}

// Invalid は不正な結果を返します。
func Invalid(field, value, message string) FieldResult {
	return FieldResult{Field: field, Value: value, Message: message}
}

// Results は複数フィールドの検証結果です。
type Results []FieldResult

// Valid はすべてのフィールドが妥当かを返します。
func (r Results) Valid() bool {
	for _, f := range r {
		if !f.Valid {
			return false
		}
	}
	return true
}

// Messages は不正なフィールドとメッセージキーの対応を返します。
func (r Results) Messages() map[string]string {
	out := make(map[string]string)
	for _, f := range r {
		if !f.Valid {
			out[f.Field] = f.Message
		}
	}
	return out
}

// ValidationError はフォームの検証エラーです。
type ValidationError struct {
	Results Results
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msg := range e.Results.Messages() {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Check は結果に不正なものがあれば ValidationError を返します。
func (r Results) Check() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Results: r}
}

// NameRules は名前の検証ルールです。
type NameRules struct {
	Reserved          []string // 小文字
	AllowNonPrintable bool
}

// Name は名前を検証します（予約語・長さ・使用文字）。重複の確認は呼び出し側で行います。
func Name(field, name string, rules NameRules) FieldResult {
	lower := strings.ToLower(name)
	for _, r := range rules.Reserved {
		if lower == r {
			return Invalid(field, name, MsgNameTaken)
		}
	}

	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return Invalid(field, name, MsgNameEmpty)
	}
	if i, err := strconv.Atoi(name); err == nil && i == 0 {
		return Invalid(field, name, MsgNameEmpty)
	}

	if !rules.AllowNonPrintable {
		for _, r := range name {
			if r > unicode.MaxASCII || !unicode.IsPrint(r) {
				return Invalid(field, name, MsgInvalidCharacters)
			}
		}
	}
	return OK(field, name)
}

// Email はメールアドレスの形式を検証します。長すぎる値は切り詰めてから検証します。
func Email(field, email string) FieldResult {
	if len(email) > MaxEmailLength {
		email = email[:MaxEmailLength]
	}
	if !emailPattern.MatchString(email) {
		return Invalid(field, email, MsgInvalidEmail)
	}
	return OK(field, email)
}

// Password はパスワードの長さを検証します。
func Password(field, password string, minLength int) FieldResult {
	if len(password) < minLength {
		return Invalid(field, "", MsgPasswordTooShort)
	}
	return OK(field, password)
}

// Confirm は確認用の入力が一致するかを検証します。
func Confirm(field, password, confirm string) FieldResult {
	if password != confirm {
		return Invalid(field, "", MsgPasswordsDontMatch)
	}
	return OK(field, "")
}
