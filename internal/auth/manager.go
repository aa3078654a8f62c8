// Package auth はログイン・セッション検証・ログアウトなど認証処理の中核を提供します。
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/yourusername/esobb/internal/config"
	"github.com/yourusername/esobb/internal/flood"
	"github.com/yourusername/esobb/internal/logging"
	"github.com/yourusername/esobb/internal/password"
	"github.com/yourusername/esobb/internal/plugin"
	"github.com/yourusername/esobb/internal/session"
	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/token"
)

// セッションに保存するキー
const (
	sessionKeyMemberID     = "member_id"
	sessionKeyName         = "member_name"
	sessionKeyAccount      = "account"
	sessionKeyColor        = "color"
	sessionKeyLanguage     = "language"
	sessionKeyLastAction   = "last_action"
	sessionKeyIssuedAt     = "issued_at"
	sessionKeyLastActivity = "last_activity"
	sessionKeyAuthSession  = "auth_session"
	sessionKeyFloodPrefix  = "flood_"
)

var identityKeys = []string{
	sessionKeyMemberID,
	sessionKeyName,
	sessionKeyAccount,
	sessionKeyColor,
	sessionKeyLanguage,
	sessionKeyLastAction,
	sessionKeyIssuedAt,
	sessionKeyLastActivity,
	sessionKeyAuthSession,
}

const maxLastActionLength = 255

// Deps は Manager の依存関係です。
type Deps struct {
	Config   *config.Config
	Members  store.MemberRepository
	Bindings *session.Store
	Sessions *session.Registry
	Verifier *password.Verifier
	Limiter  flood.Limiter
	Tokens   *token.Manager
	Hooks    *plugin.Registry
	Logger   logging.Logger
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	cfg      *config.Config
	members  store.MemberRepository
	bindings *session.Store
	sessions *session.Registry
	verifier *password.Verifier
	limiter  flood.Limiter
	tokens   *token.Manager
	hooks    *plugin.Registry
	logger   logging.Logger
	now      func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(d Deps) (*Manager, error) {
	switch {
	case d.Config == nil:
		return nil, errors.New("auth: config is required")
	case d.Members == nil:
		return nil, errors.New("auth: member repository is required")
	case d.Bindings == nil:
		return nil, errors.New("auth: login store is required")
	case d.Sessions == nil:
		return nil, errors.New("auth: session registry is required")
	case d.Verifier == nil:
		return nil, errors.New("auth: password verifier is required")
	case d.Limiter == nil:
		return nil, errors.New("auth: flood limiter is required")
	}
	if d.Tokens == nil {
		d.Tokens = token.NewManager()
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	return &Manager{
		cfg:      d.Config,
		members:  d.Members,
		bindings: d.Bindings,
		sessions: d.Sessions,
		verifier: d.Verifier,
		limiter:  d.Limiter,
		tokens:   d.Tokens,
		hooks:    d.Hooks,
		logger:   d.Logger,
		now:      time.Now,
	}, nil
}

// SetClock は現在時刻の取得関数を差し替えます（テスト用）。
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Config は設定を返します。
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// Members はメンバーリポジトリを返します。
func (m *Manager) Members() store.MemberRepository {
	return m.members
}

// Hooks はプラグインレジストリを返します。
func (m *Manager) Hooks() *plugin.Registry {
	return m.hooks
}

// LoginRequest はログインの入力です。
// Hash が設定されている場合は保存済みハッシュとの照合（登録直後・メール確認後）になり、
// 何も設定されていない場合はクッキーログインになります。
type LoginRequest struct {
	Name       string
	Password   string
	MemberID   int64
	Hash       string
	Join       bool
	RememberMe *bool
}

type loginSource int

const (
	sourcePassword loginSource = iota
	sourceHash
	sourceCookie
)

// Login はメンバーをログインさせます。
// 入力が無くクッキーログインもできない場合は (nil, nil) を返します。
func (m *Manager) Login(ctx context.Context, rc *RequestContext, req LoginRequest) (*User, error) {
	if rc.User != nil {
		return rc.User, nil
	}

	var (
		member  *store.Member
		binding *store.Login
		src     loginSource
		err     error
	)
	switch {
	case req.Hash != "":
		src = sourceHash
		member, err = m.memberByHash(ctx, req)
	case req.Name != "" || req.Password != "":
		src = sourcePassword
		if err := m.checkFlood(ctx, rc, flood.ActionLogin, m.cfg.LoginsPerMinute); err != nil {
			return nil, err
		}
		member, err = m.memberByPassword(ctx, rc, req.Name, req.Password)
	default:
		src = sourceCookie
		member, binding, err = m.memberByCookie(ctx, rc)
		if err == nil && member == nil {
			return nil, nil
		}
	}
	if err != nil {
		return nil, err
	}

	if err := m.checkApproval(member); err != nil {
		return nil, err
	}
	return m.commit(ctx, rc, member, binding, m.rememberMe(src, req))
}

func (m *Manager) memberByPassword(ctx context.Context, rc *RequestContext, name, pw string) (*store.Member, error) {
	if name == "" || pw == "" {
		m.verifier.Dummy(pw)
		return nil, &CredentialError{}
	}

	member, err := m.members.FindByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		m.verifier.Dummy(pw)
		return nil, &CredentialError{}
	}
	if err != nil {
		return nil, storageError("find member", err)
	}

	ok, upgrade := m.verifier.Verify(pw, member.Password, member.Salt)
	if !ok {
		m.logger.Info(ctx, "login failed", "member_id", member.ID, "ip", rc.IP)
		return nil, &CredentialError{}
	}
	if upgrade {
		m.upgradePassword(ctx, rc, member, pw)
	}
	return member, nil
}

// upgradePassword は旧方式のハッシュを設定中の方式で保存し直します。
// 失敗してもログインは継続します。
func (m *Manager) upgradePassword(ctx context.Context, rc *RequestContext, member *store.Member, pw string) {
	hash, salt, err := m.verifier.Hash(pw, member.Salt)
	if err == nil {
		err = m.members.UpdatePassword(ctx, member.ID, hash, salt)
	}
	if err != nil {
		m.logger.Warn(ctx, "password upgrade failed", "member_id", member.ID, "error", err)
		return
	}
	member.Password = hash
	member.Salt = salt
	rc.AddMessage(MsgPasswordUpgraded)
	m.logger.Info(ctx, "password upgraded", "member_id", member.ID, "scheme", string(m.verifier.Scheme()))
}

func (m *Manager) memberByHash(ctx context.Context, req LoginRequest) (*store.Member, error) {
	var (
		member *store.Member
		err    error
	)
	if req.MemberID != 0 {
		member, err = m.members.FindByID(ctx, req.MemberID)
	} else {
		member, err = m.members.FindByName(ctx, req.Name)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, &CredentialError{}
	}
	if err != nil {
		return nil, storageError("find member", err)
	}
	if subtle.ConstantTimeCompare([]byte(member.Password), []byte(req.Hash)) != 1 {
		return nil, &CredentialError{}
	}
	return member, nil
}

// memberByCookie はログイン保持クッキーからメンバーを探します。
// 該当が無い場合は (nil, nil, nil) を返します。
func (m *Manager) memberByCookie(ctx context.Context, rc *RequestContext) (*store.Member, *store.Login, error) {
	cookie, ok := rc.Cookies.Read(m.cfg.CookieName)
	if !ok {
		return nil, nil, nil
	}

	binding, err := m.bindings.FindByCookie(ctx, cookie)
	if errors.Is(err, store.ErrNotFound) {
		rc.Cookies.Clear(m.cfg.CookieName)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, storageError("find login", err)
	}

	if m.bindings.CookieExpired(binding, m.cfg.CookieExpire) {
		if err := m.bindings.Delete(ctx, binding); err != nil {
			return nil, nil, storageError("delete login", err)
		}
		rc.Cookies.Clear(m.cfg.CookieName)
		return nil, nil, nil
	}

	member, err := m.members.FindByID(ctx, binding.MemberID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, storageError("find member", err)
	}
	return member, binding, nil
}

func (m *Manager) checkApproval(member *store.Member) error {
	if member.Account != store.AccountUnvalidated {
		return nil
	}
	if m.cfg.SendEmail && m.cfg.RequireEmailApproval && !member.EmailVerified {
		return &PendingApprovalError{
			Kind:       PendingEmail,
			MemberID:   member.ID,
			ResendLink: m.cfg.BaseURL + "join/sendVerification/" + strconv.FormatInt(member.ID, 10),
		}
	}
	if m.cfg.RequireManualApproval {
		return &PendingApprovalError{Kind: PendingManual, MemberID: member.ID}
	}
	return nil
}

func (m *Manager) rememberMe(src loginSource, req LoginRequest) bool {
	switch {
	case src == sourceHash || req.Join:
		return true
	case req.RememberMe != nil:
		return *req.RememberMe
	default:
		return m.cfg.RememberMe
	}
}

// commit はログイン記録・セッション・トークン・クッキーを確定させます。
// セッションの保存に失敗した場合は何もクライアントに送りません。
func (m *Manager) commit(ctx context.Context, rc *RequestContext, member *store.Member, binding *store.Login, remember bool) (*User, error) {
	uaHash := rc.userAgentHash()
	presented, hasCookie := rc.Cookies.Read(m.cfg.CookieName)

	var created *store.Login
	if binding != nil {
		if err := m.bindings.Refresh(ctx, binding, rc.IP, uaHash); err != nil {
			return nil, storageError("refresh login", err)
		}
	} else {
		existing, err := m.bindings.Find(ctx, presented, rc.IP, member.ID, false)
		switch {
		case err == nil:
			if err := m.bindings.Refresh(ctx, existing, rc.IP, uaHash); err != nil {
				return nil, storageError("refresh login", err)
			}
		case errors.Is(err, store.ErrNotFound):
			created, err = m.bindings.Create(ctx, rc.IP, uaHash, member.ID, remember, presented)
			if err != nil {
				return nil, storageError("create login", err)
			}
		default:
			return nil, storageError("find login", err)
		}
	}

	tok, err := token.Generate()
	if err != nil {
		m.rollbackLogin(ctx, created)
		return nil, storageError("generate token", err)
	}
	sid, err := m.sessions.Open(ctx, member.ID, tok)
	if err != nil {
		m.rollbackLogin(ctx, created)
		return nil, storageError("open session", err)
	}

	now := m.now()
	prev := snapshot(rc.Session, identityKeys)
	writeIdentity(rc.Session, member, now)
	rc.Session.Set(sessionKeyAuthSession, sid)
	if err := m.tokens.Install(rc.Session, tok, rc.IP, uaHash); err != nil {
		restore(rc.Session, prev)
		m.discardSession(ctx, sid)
		m.rollbackLogin(ctx, created)
		return nil, storageError("save session", err)
	}
	if old, _ := prev[sessionKeyAuthSession].(string); old != "" && old != sid {
		m.discardSession(ctx, old)
	}
	if _, err := m.sessions.Prune(ctx, m.cfg.SessionExpire); err != nil {
		m.logger.Warn(ctx, "prune sessions failed", "error", err)
	}

	if created != nil {
		switch {
		case created.Cookie != "":
			rc.Cookies.Write(m.cfg.CookieName, created.Cookie, now.Add(m.cfg.CookieExpire))
		case hasCookie:
			rc.Cookies.Clear(m.cfg.CookieName)
		}
	}

	rc.User = userFromMember(member)
	m.logger.Info(ctx, "login", "member_id", member.ID, "ip", rc.IP, "remember", remember)
	m.hooks.FireAfterLogin(ctx, member.ID, member.Name)
	return rc.User, nil
}

// rollbackLogin は commit で作成したログイン記録を削除します。
func (m *Manager) rollbackLogin(ctx context.Context, created *store.Login) {
	if created == nil {
		return
	}
	if err := m.bindings.Delete(ctx, created); err != nil {
		m.logger.Warn(ctx, "rollback login failed", "member_id", created.MemberID, "error", err)
	}
}

func (m *Manager) discardSession(ctx context.Context, sid string) {
	if err := m.sessions.Close(ctx, sid); err != nil {
		m.logger.Warn(ctx, "discard session failed", "error", err)
	}
}

// ValidateSession はリクエスト開始時にセッションを検証します。
// サーバー側の記録と一致しないセッションは匿名に戻します。
// メンバーやログイン記録が無い、または期限切れの場合はログアウトします。
func (m *Manager) ValidateSession(ctx context.Context, rc *RequestContext) error {
	id := sessionMemberID(rc.Session)
	if id == 0 {
		rc.User = nil
		return nil
	}

	now := m.now()
	if reason := m.staleReason(rc, now); reason != "" {
		m.logger.Info(ctx, "session discarded", "member_id", id, "reason", reason)
		return m.resetSession(ctx, rc)
	}

	record, ok, err := m.sessions.Check(ctx, sessionAuthID(rc.Session), id, token.Current(rc.Session))
	if err != nil {
		return storageError("find session", err)
	}
	if !ok {
		m.logger.Info(ctx, "session discarded", "member_id", id, "reason", "revoked")
		return m.resetSession(ctx, rc)
	}

	if _, err := m.members.FindByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return m.Logout(ctx, rc)
		}
		return storageError("find member", err)
	}

	cookie, _ := rc.Cookies.Read(m.cfg.CookieName)
	binding, err := m.bindings.Find(ctx, cookie, rc.IP, id, true)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Info(ctx, "login record missing", "member_id", id, "ip", rc.IP)
		return m.Logout(ctx, rc)
	}
	if err != nil {
		return storageError("find login", err)
	}
	if m.bindings.IsExpired(binding, m.cfg.SessionExpire) {
		m.logger.Info(ctx, "login record expired", "member_id", id, "ip", rc.IP)
		if err := m.bindings.Delete(ctx, binding); err != nil {
			return storageError("delete login", err)
		}
		return m.Logout(ctx, rc)
	}
	if err := m.bindings.Touch(ctx, binding); err != nil {
		return storageError("touch login", err)
	}
	if err := m.sessions.Touch(ctx, record); err != nil {
		return storageError("touch session", err)
	}

	rc.Session.Set(sessionKeyLastActivity, now.Unix())
	if err := rc.Session.Save(); err != nil {
		return storageError("save session", err)
	}
	rc.User = userFromSession(rc.Session)
	return nil
}

// staleReason はセッションを破棄すべき理由を返します。問題が無ければ空文字です。
func (m *Manager) staleReason(rc *RequestContext, now time.Time) string {
	if last := readUnix(rc.Session.Get(sessionKeyLastActivity)); !last.IsZero() && now.Sub(last) > m.cfg.SessionExpire {
		return "idle"
	}
	if ua, _ := rc.Session.Get(token.KeyUserAgent).(string); ua != "" && ua != rc.userAgentHash() {
		return "user_agent"
	}
	if m.cfg.ValidateSessionIP {
		if ip, _ := rc.Session.Get(token.KeyIP).(string); ip != "" && ip != rc.IP {
			return "ip"
		}
	}
	return ""
}

// resetSession はログイン記録とサーバー側の記録を残したままセッションの認証情報を破棄します。
// ログイン保持クッキーがあれば同じリクエストで再ログインできます。
func (m *Manager) resetSession(ctx context.Context, rc *RequestContext) error {
	clearIdentity(rc.Session)
	rc.User = nil
	_, err := m.rotate(ctx, rc)
	return err
}

// Logout はログアウトします。ログインしていなくても成功します。
func (m *Manager) Logout(ctx context.Context, rc *RequestContext) error {
	id := sessionMemberID(rc.Session)
	cookie, hasCookie := rc.Cookies.Read(m.cfg.CookieName)

	if err := m.sessions.Close(ctx, sessionAuthID(rc.Session)); err != nil {
		return storageError("delete session", err)
	}
	if id != 0 {
		binding, err := m.bindings.Find(ctx, cookie, rc.IP, id, false)
		switch {
		case err == nil:
			if err := m.bindings.Delete(ctx, binding); err != nil {
				return storageError("delete login", err)
			}
		case !errors.Is(err, store.ErrNotFound):
			return storageError("find login", err)
		}
	}

	clearIdentity(rc.Session)
	rc.User = nil
	if hasCookie {
		rc.Cookies.Clear(m.cfg.CookieName)
	}
	if _, err := m.rotate(ctx, rc); err != nil {
		return err
	}

	if id != 0 {
		m.logger.Info(ctx, "logout", "member_id", id, "ip", rc.IP)
	}
	m.hooks.FireLogout(ctx, id)
	return nil
}

// IsSuspended はログイン中のメンバーが停止中かを返します。
// 未確定の場合はストアから再取得してセッションのグループを更新します。
func (m *Manager) IsSuspended(ctx context.Context, rc *RequestContext) (bool, error) {
	if rc.User == nil {
		return false, nil
	}
	if rc.User.Flags.Suspended == Unknown {
		member, err := m.members.FindByID(ctx, rc.User.MemberID)
		if err != nil {
			return false, storageError("find member", err)
		}
		if rc.User.Account != member.Account {
			if err := m.SetAccount(ctx, rc, member.Account); err != nil {
				return false, err
			}
		} else {
			rc.User.Flags = flagsFor(member.Account, true)
			m.hooks.FireUpdateRoleFlags(ctx, rc.User.MemberID, member.Account)
		}
	}
	return rc.User.Flags.Suspended == True, nil
}

// SetAccount はログイン中のメンバーのグループを更新し、トークンを再発行します。
func (m *Manager) SetAccount(ctx context.Context, rc *RequestContext, account store.Account) error {
	if rc.User == nil {
		return nil
	}
	prevAccount := rc.Session.Get(sessionKeyAccount)
	rc.Session.Set(sessionKeyAccount, string(account))
	if _, err := m.rotate(ctx, rc); err != nil {
		restore(rc.Session, map[string]interface{}{sessionKeyAccount: prevAccount})
		return err
	}
	rc.User.Account = account
	rc.User.Flags = flagsFor(account, true)
	m.hooks.FireUpdateRoleFlags(ctx, rc.User.MemberID, account)
	return nil
}

// RotateToken はトークンを再発行します。権限に関わる変更の最後に呼びます。
func (m *Manager) RotateToken(ctx context.Context, rc *RequestContext) (string, error) {
	return m.rotate(ctx, rc)
}

// rotate はトークンを再発行します。ログイン中ならサーバー側の記録も新しいトークンに更新します。
// 記録の更新後にセッションの保存が失敗した場合、そのセッションは次のリクエストで匿名に戻ります。
func (m *Manager) rotate(ctx context.Context, rc *RequestContext) (string, error) {
	tok, err := token.Generate()
	if err != nil {
		return "", storageError("generate token", err)
	}
	if id, sid := sessionMemberID(rc.Session), sessionAuthID(rc.Session); id != 0 && sid != "" {
		if err := m.sessions.Bind(ctx, sid, id, tok); err != nil {
			return "", storageError("update session", err)
		}
	}
	if err := m.tokens.Install(rc.Session, tok, rc.IP, rc.userAgentHash()); err != nil {
		return "", storageError("save session", err)
	}
	return tok, nil
}

// EnsureToken はトークンが未発行なら発行します。
func (m *Manager) EnsureToken(rc *RequestContext) (string, error) {
	tok, err := m.tokens.Ensure(rc.Session, rc.IP, rc.userAgentHash())
	if err != nil {
		return "", storageError("save session", err)
	}
	return tok, nil
}

// Identity は他のコンポーネントに公開するログイン中メンバーの情報です。
type Identity struct {
	MemberID  int64         `json:"memberId"`
	Name      string        `json:"name"`
	Account   store.Account `json:"account,omitempty"`
	RoleFlags RoleFlags     `json:"roleFlags"`
	CSRFToken string        `json:"csrfToken"`
}

// CurrentUser はログイン中のメンバーと現在のトークンを返します。匿名なら MemberID は 0 です。
func (m *Manager) CurrentUser(rc *RequestContext) Identity {
	id := Identity{CSRFToken: token.Current(rc.Session)}
	if rc.User != nil {
		id.MemberID = rc.User.MemberID
		id.Name = rc.User.Name
		id.Account = rc.User.Account
		id.RoleFlags = rc.User.Flags
	}
	return id
}

// RequireToken は提示されたトークンを検証します。一致しなければ noPermission を通知します。
func (m *Manager) RequireToken(rc *RequestContext, presented string) bool {
	if token.Validate(rc.Session, presented) {
		return true
	}
	rc.AddMessage(MsgNoPermission)
	return false
}

// UpdateLastAction はメンバーの最終操作と最終アクセス時刻を記録します。
func (m *Manager) UpdateLastAction(ctx context.Context, rc *RequestContext, action string) error {
	if rc.User == nil {
		return nil
	}
	action = truncate(action, maxLastActionLength)
	if err := m.members.UpdateLastAction(ctx, rc.User.MemberID, action, m.now()); err != nil {
		return storageError("update last action", err)
	}
	rc.User.LastAction = action
	rc.Session.Set(sessionKeyLastAction, action)
	if err := rc.Session.Save(); err != nil {
		return storageError("save session", err)
	}
	return nil
}

// CheckSearchFlood は検索のフラッドコントロールを行います。
func (m *Manager) CheckSearchFlood(ctx context.Context, rc *RequestContext) error {
	return m.checkFlood(ctx, rc, flood.ActionSearch, m.cfg.SearchesPerMinute)
}

// CheckLoginFlood はログイン相当の操作（パスワード再設定の申請など）のフラッドコントロールを行います。
func (m *Manager) CheckLoginFlood(ctx context.Context, rc *RequestContext) error {
	return m.checkFlood(ctx, rc, flood.ActionLogin, m.cfg.LoginsPerMinute)
}

// checkFlood はセッション内の記録とリミッターの両方で試行回数を確認します。
// 判定はリミッターが正で、セッション内の記録は同じクライアントの早期拒否にのみ使います。
func (m *Manager) checkFlood(ctx context.Context, rc *RequestContext, action string, limit int) error {
	if limit <= 0 {
		return nil
	}
	now := m.now()
	key := sessionKeyFloodPrefix + action
	recent := recentAttempts(rc.Session.Get(key), now)
	if len(recent) >= limit {
		return &RateLimitError{Action: action, RetryAfter: flood.RetryAfter(time.Unix(recent[0], 0), now)}
	}

	res, err := m.limiter.Allow(ctx, rc.IP, action, limit)
	if err != nil {
		return storageError("flood control", err)
	}
	if !res.Allowed {
		m.logger.Info(ctx, "flood control", "action", action, "ip", rc.IP, "retry_after", res.RetryAfterSeconds())
		return &RateLimitError{Action: action, RetryAfter: res.RetryAfter}
	}

	rc.Session.Set(key, append(recent, now.Unix()))
	if err := rc.Session.Save(); err != nil {
		m.logger.Warn(ctx, "save flood cache failed", "action", action, "error", err)
	}
	return nil
}

func recentAttempts(v interface{}, now time.Time) []int64 {
	stamps, _ := v.([]int64)
	cutoff := now.Add(-flood.Window).Unix()
	recent := make([]int64, 0, len(stamps)+1)
	for _, s := range stamps {
		if s > cutoff {
			recent = append(recent, s)
		}
	}
	return recent
}

func userFromMember(member *store.Member) *User {
	return &User{
		MemberID:   member.ID,
		Name:       member.Name,
		Account:    member.Account,
		Color:      member.Color,
		Language:   member.Language,
		LastAction: member.LastAction,
		Flags:      flagsFor(member.Account, true),
	}
}

func userFromSession(h SessionHandle) *User {
	id := sessionMemberID(h)
	if id == 0 {
		return nil
	}
	name, _ := h.Get(sessionKeyName).(string)
	account, _ := h.Get(sessionKeyAccount).(string)
	color, _ := h.Get(sessionKeyColor).(int)
	language, _ := h.Get(sessionKeyLanguage).(string)
	lastAction, _ := h.Get(sessionKeyLastAction).(string)
	return &User{
		MemberID:   id,
		Name:       name,
		Account:    store.Account(account),
		Color:      color,
		Language:   language,
		LastAction: lastAction,
		Flags:      flagsFor(store.Account(account), false),
	}
}

func sessionMemberID(h SessionHandle) int64 {
	switch v := h.Get(sessionKeyMemberID).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func sessionAuthID(h SessionHandle) string {
	sid, _ := h.Get(sessionKeyAuthSession).(string)
	return sid
}

func writeIdentity(h SessionHandle, member *store.Member, now time.Time) {
	h.Set(sessionKeyMemberID, member.ID)
	h.Set(sessionKeyName, member.Name)
	h.Set(sessionKeyAccount, string(member.Account))
	h.Set(sessionKeyColor, member.Color)
	h.Set(sessionKeyLanguage, member.Language)
	h.Set(sessionKeyLastAction, member.LastAction)
	h.Set(sessionKeyIssuedAt, now.Unix())
	h.Set(sessionKeyLastActivity, now.Unix())
}

func clearIdentity(h SessionHandle) {
	for _, k := range identityKeys {
		h.Delete(k)
	}
}

func snapshot(h SessionHandle, keys []string) map[string]interface{} {
	prev := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		prev[k] = h.Get(k)
	}
	return prev
}

func restore(h SessionHandle, prev map[string]interface{}) {
	for k, v := range prev {
		if v == nil {
			h.Delete(k)
			continue
		}
		h.Set(k, v)
	}
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

// truncate は UTF-8 として壊れないように最大 limit バイトに切り詰めます。
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
