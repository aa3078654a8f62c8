// Package authtest は認証処理を使うパッケージのテスト用の部品を提供します。
package authtest

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/config"
	"github.com/yourusername/esobb/internal/flood"
	"github.com/yourusername/esobb/internal/password"
	"github.com/yourusername/esobb/internal/plugin"
	"github.com/yourusername/esobb/internal/session"
	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/store/memory"
	"github.com/yourusername/esobb/internal/token"
)

// 既定のクライアント情報
const (
	IP        = "203.0.113.5"
	UserAgent = "Mozilla/5.0 (test)"
)

// Session はメモリ上の auth.SessionHandle です。
// Save が成功した時点の値を Stored に保持します。
type Session struct {
	Values  map[interface{}]interface{}
	Stored  map[interface{}]interface{}
	SaveErr error
	Saves   int
}

// NewSession は空のセッションを作成します。
func NewSession() *Session {
	return &Session{
		Values: make(map[interface{}]interface{}),
		Stored: make(map[interface{}]interface{}),
	}
}

func (s *Session) Get(key interface{}) interface{} { return s.Values[key] }

func (s *Session) Set(key, val interface{}) { s.Values[key] = val }

func (s *Session) Delete(key interface{}) { delete(s.Values, key) }

func (s *Session) Clear() {
	for k := range s.Values {
		delete(s.Values, k)
	}
}

func (s *Session) Save() error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Saves++
	s.Stored = make(map[interface{}]interface{}, len(s.Values))
	for k, v := range s.Values {
		s.Stored[k] = v
	}
	return nil
}

// Next は保存済みの値から次のリクエストのセッションを作ります。
func (s *Session) Next() *Session {
	next := NewSession()
	for k, v := range s.Stored {
		next.Values[k] = v
		next.Stored[k] = v
	}
	return next
}

// Cookies はメモリ上の auth.CookieTransport です。
type Cookies struct {
	Values  map[string]string
	Expires map[string]time.Time
	Cleared map[string]bool
}

// NewCookies は空の Cookies を作成します。
func NewCookies() *Cookies {
	return &Cookies{
		Values:  make(map[string]string),
		Expires: make(map[string]time.Time),
		Cleared: make(map[string]bool),
	}
}

func (c *Cookies) Read(name string) (string, bool) {
	v, ok := c.Values[name]
	return v, ok && v != ""
}

func (c *Cookies) Write(name, value string, expires time.Time) {
	c.Values[name] = value
	c.Expires[name] = expires
	delete(c.Cleared, name)
}

func (c *Cookies) Clear(name string) {
	delete(c.Values, name)
	delete(c.Expires, name)
	c.Cleared[name] = true
}

// Next はブラウザが次のリクエストで送るクッキーを返します。
func (c *Cookies) Next() *Cookies {
	next := NewCookies()
	for k, v := range c.Values {
		next.Values[k] = v
	}
	return next
}

// Env はメモリストアと固定時計で組み立てた認証マネージャーです。
type Env struct {
	Config   *config.Config
	Store    *memory.Store
	Verifier *password.Verifier
	Hooks    *plugin.Registry
	Limiter  *flood.MemoryLimiter
	Bindings *session.Store
	Sessions *session.Registry
	Manager  *auth.Manager

	now time.Time
}

// New は Env を作成します。mutate で設定を変更できます。
func New(t testing.TB, mutate ...func(*config.Config)) *Env {
	t.Helper()

	cfg := config.Default()
	cfg.BaseURL = "https://forum.example/"
	cfg.BcryptCost = bcrypt.MinCost
	for _, f := range mutate {
		f(cfg)
	}

	e := &Env{
		Config:   cfg,
		Store:    memory.New(),
		Verifier: password.NewVerifier(password.Scheme(cfg.HashingMethod), cfg.BcryptCost),
		Hooks:    plugin.NewRegistry(),
		Limiter:  flood.NewMemoryLimiter(),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	e.Limiter.SetClock(e.Now)
	e.Bindings = session.NewStore(e.Store.Logins())
	e.Bindings.SetClock(e.Now)
	e.Sessions = session.NewRegistry(e.Store.Sessions())
	e.Sessions.SetClock(e.Now)
	tokens := token.NewManager()
	tokens.SetClock(e.Now)

	m, err := auth.NewManager(auth.Deps{
		Config:   cfg,
		Members:  e.Store.Members(),
		Bindings: e.Bindings,
		Sessions: e.Sessions,
		Verifier: e.Verifier,
		Limiter:  e.Limiter,
		Tokens:   tokens,
		Hooks:    e.Hooks,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	m.SetClock(e.Now)
	e.Manager = m
	return e
}

// Now は固定時計の現在時刻です。
func (e *Env) Now() time.Time {
	return e.now
}

// Advance は時計を進めます。
func (e *Env) Advance(d time.Duration) {
	e.now = e.now.Add(d)
}

// AddMember は設定中の方式でパスワードをハッシュ化してメンバーを作成します。
func (e *Env) AddMember(t testing.TB, name, pw string, account store.Account) *store.Member {
	t.Helper()
	hash, salt, err := e.Verifier.Hash(pw, "")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	m := &store.Member{
		Name:          name,
		Email:         name + "@example.com",
		Password:      hash,
		Salt:          salt,
		Account:       account,
		EmailVerified: account != store.AccountUnvalidated,
	}
	if err := e.Store.Members().Create(context.Background(), m); err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

// Request はセッションとクッキーから RequestContext を作成します。
func (e *Env) Request(s *Session, c *Cookies) *auth.RequestContext {
	return &auth.RequestContext{
		Config:    e.Config,
		Session:   s,
		Cookies:   c,
		IP:        IP,
		UserAgent: UserAgent,
	}
}

// LoginAs は新しいセッションでパスワードログインした RequestContext を返します。
func (e *Env) LoginAs(t testing.TB, name, pw string) *auth.RequestContext {
	t.Helper()
	rc := e.Request(NewSession(), NewCookies())
	if _, err := e.Manager.Login(context.Background(), rc, auth.LoginRequest{Name: name, Password: pw}); err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	return rc
}
