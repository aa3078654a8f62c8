// Package password はパスワードのハッシュ化と照合（旧MD5方式からの移行を含む）を提供します。
package password

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Scheme はパスワードのハッシュ方式です。
type Scheme string

const (
	SchemeBcrypt Scheme = "bcrypt"
	SchemeMD5    Scheme = "md5"
)

// SaltLength は旧方式で使うソルトの長さです。
const SaltLength = 32

const saltAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

// Verifier は設定されたハッシュ方式でパスワードを扱います。
type Verifier struct {
	scheme Scheme
	cost   int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewVerifier は Verifier を作成します。cost が範囲外なら bcrypt.DefaultCost を使います。
func NewVerifier(scheme Scheme, cost int) *Verifier {
	if scheme != SchemeMD5 {
		scheme = SchemeBcrypt
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Verifier{scheme: scheme, cost: cost}
}

// Scheme は設定されているハッシュ方式を返します。
func (v *Verifier) Scheme() Scheme {
	return v.scheme
}

// Hash はパスワードをハッシュ化し、ハッシュと使用したソルトを返します。
// salt が空の場合は新しいソルトを生成します（bcrypt でもソルト列は埋めておく）。
func (v *Verifier) Hash(password, salt string) (string, string, error) {
	if salt == "" {
		s, err := NewSalt()
		if err != nil {
			return "", "", err
		}
		salt = s
	}

	if v.scheme == SchemeMD5 {
		return legacyHash(salt, password), salt, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), salt, nil
}

// Verify は保存済みハッシュとパスワードを照合します。
// 照合方式は保存済みハッシュ自体の形式で決まり、設定値には依存しません。
// upgrade は旧方式のハッシュが一致し、かつ bcrypt が設定されている場合に true になります。
func (v *Verifier) Verify(password, stored, salt string) (ok bool, upgrade bool) {
	if stored == "" {
		return false, false
	}

	if IsBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil, false
	}

	expected := legacyHash(salt, password)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(expected)) != 1 {
		return false, false
	}
	return true, v.scheme == SchemeBcrypt
}

// Dummy は存在しないメンバーへの試行でも照合と同程度の時間を消費させます。
func (v *Verifier) Dummy(password string) {
	v.dummyOnce.Do(func() {
		v.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), v.cost)
	})
	if v.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
	}
}

// IsBcrypt は保存済みハッシュが bcrypt 形式かどうかを判定します。
func IsBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") ||
		strings.HasPrefix(hash, "$2b$") ||
		strings.HasPrefix(hash, "$2y$")
}

// NewSalt は英数字のランダムなソルトを生成します。
func NewSalt() (string, error) {
	var sb strings.Builder
	sb.Grow(SaltLength)
	limit := big.NewInt(int64(len(saltAlphabet)))
	for i := 0; i < SaltLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate salt: %w", err)
		}
		sb.WriteByte(saltAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// legacyHash は旧方式の md5(salt + password) を16進文字列で返します。
func legacyHash(salt, password string) string {
	sum := md5.Sum([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}
