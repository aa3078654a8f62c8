// Package account は新規登録・メールアドレス確認・パスワード／メールアドレス変更・パスワード再設定を提供します。
package account

import (
	"context"
	"errors"
	"strings"

	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/config"
	"github.com/yourusername/esobb/internal/form"
	"github.com/yourusername/esobb/internal/logging"
	"github.com/yourusername/esobb/internal/password"
	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/token"
)

// メッセージキー
const (
	MsgVerifyEmail          = "verifyEmail"
	MsgEmailVerified        = "emailVerified"
	MsgPasswordEmailSent    = "passwordEmailSent"
	MsgPasswordChanged      = "passwordChanged"
	MsgChangesSaved         = "changesSaved"
	MsgEmailDoesntExist     = "emailDoesntExist"
	MsgInvalidVerification  = "invalidVerificationLink"
	MsgInvalidResetLink     = "invalidResetLink"
	MsgMemberDoesntExist    = "memberDoesntExist"
	MsgAlreadyVerified      = "alreadyVerified"
	MsgSendEmailDisabled    = "sendEmailDisabled"
	MsgRegistrationDisabled = "registrationClosed"
)

// Mailer はアカウント関連のメールを送ります。
type Mailer interface {
	SendVerification(ctx context.Context, member *store.Member, link string) error
	SendPasswordReset(ctx context.Context, member *store.Member, link string) error
}

// Service はアカウント操作をまとめた構造体です。
type Service struct {
	auth     *auth.Manager
	cfg      *config.Config
	members  store.MemberRepository
	verifier *password.Verifier
	mailer   Mailer
	logger   logging.Logger
}

// NewService は Service を作成します。mailer が nil の場合はメールを送りません。
func NewService(m *auth.Manager, verifier *password.Verifier, mailer Mailer, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		auth:     m,
		cfg:      m.Config(),
		members:  m.Members(),
		verifier: verifier,
		mailer:   mailer,
		logger:   logger,
	}
}

func (s *Service) emailEnabled() bool {
	return s.cfg.SendEmail && s.mailer != nil
}

// JoinRequest は新規登録の入力です。
type JoinRequest struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Confirm  string `json:"confirm" form:"confirm"`
}

// JoinResult は新規登録の結果です。
// Pending が 0 以外の場合は承認待ちで、User は nil です。
type JoinResult struct {
	Member  *store.Member
	Pending auth.PendingKind
	User    *auth.User
}

// Join はメンバーを登録します。
// 承認が不要な場合はそのままログインします。
func (s *Service) Join(ctx context.Context, rc *auth.RequestContext, req JoinRequest) (*JoinResult, error) {
	if !s.cfg.RegistrationOpen {
		return nil, &auth.PermissionError{Reason: MsgRegistrationDisabled}
	}
	if rc.User != nil {
		return nil, &auth.PermissionError{Reason: "already logged in"}
	}

	name := s.auth.Hooks().FilterName(strings.TrimSpace(req.Name))
	email := strings.TrimSpace(req.Email)
	results := form.Results{
		form.Name("name", name, form.NameRules{
			Reserved:          s.cfg.ReservedNames,
			AllowNonPrintable: s.cfg.NonASCIICharacters,
		}),
		form.Email("email", email),
		form.Password("password", req.Password, s.cfg.MinPasswordLength),
		form.Confirm("confirm", req.Password, req.Confirm),
	}
	if err := s.checkTaken(ctx, results, ""); err != nil {
		return nil, err
	}
	if err := results.Check(); err != nil {
		return nil, err
	}

	needsEmail := s.emailEnabled() && s.cfg.RequireEmailApproval
	acct := store.AccountMember
	if needsEmail || s.cfg.RequireManualApproval {
		acct = store.AccountUnvalidated
	}

	hash, salt, err := s.verifier.Hash(req.Password, "")
	if err != nil {
		return nil, &auth.StorageError{Op: "hash password", Err: err}
	}
	member := &store.Member{
		Name:     results[0].Value,
		Email:    results[1].Value,
		Password: hash,
		Salt:     salt,
		Account:  acct,
	}
	if needsEmail {
		tok, err := token.Generate()
		if err != nil {
			return nil, &auth.StorageError{Op: "generate verification token", Err: err}
		}
		member.ResetPassword = tok
	}

	if err := s.members.Create(ctx, member); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, (form.Results{form.Invalid("name", member.Name, form.MsgNameTaken)}).Check()
		}
		return nil, &auth.StorageError{Op: "create member", Err: err}
	}
	s.logger.Info(ctx, "member joined", "member_id", member.ID, "account", string(acct))

	res := &JoinResult{Member: member}
	switch {
	case needsEmail:
		if err := s.mailer.SendVerification(ctx, member, s.verificationLink(member.ResetPassword)); err != nil {
			return nil, &auth.StorageError{Op: "send verification", Err: err}
		}
		res.Pending = auth.PendingEmail
		rc.AddMessage(MsgVerifyEmail)
	case s.cfg.RequireManualApproval:
		res.Pending = auth.PendingManual
		rc.AddMessage(auth.MsgWaitForApproval)
	default:
		user, err := s.auth.Login(ctx, rc, auth.LoginRequest{MemberID: member.ID, Hash: member.Password, Join: true})
		if err != nil {
			return nil, err
		}
		res.User = user
	}
	return res, nil
}

// checkTaken は形式が正しい名前とメールアドレスについて、承認済みメンバーとの重複を確認します。
// 重複していれば results の該当フィールドを不正にします。ownEmail は自分のメールアドレスです。
func (s *Service) checkTaken(ctx context.Context, results form.Results, ownEmail string) error {
	for i, r := range results {
		if !r.Valid {
			continue
		}
		var (
			taken bool
			msg   string
			err   error
		)
		switch r.Field {
		case "name":
			taken, err = s.members.NameTaken(ctx, r.Value)
			msg = form.MsgNameTaken
		case "email":
			if ownEmail != "" && strings.EqualFold(r.Value, ownEmail) {
				continue
			}
			taken, err = s.members.EmailTaken(ctx, r.Value)
			msg = form.MsgEmailTaken
		default:
			continue
		}
		if err != nil {
			return &auth.StorageError{Op: "check " + r.Field, Err: err}
		}
		if taken {
			results[i] = form.Invalid(r.Field, r.Value, msg)
		}
	}
	return nil
}

// Verify はメールアドレス確認リンクのトークンを検証します。
// 手動承認が不要であればメンバーに昇格してログインします。
func (s *Service) Verify(ctx context.Context, rc *auth.RequestContext, tok string) (*auth.User, error) {
	member, err := s.members.FindByResetToken(ctx, tok)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &auth.NotFoundError{Key: MsgInvalidVerification}
	}
	if err != nil {
		return nil, &auth.StorageError{Op: "find member", Err: err}
	}
	if member.Account != store.AccountUnvalidated || member.EmailVerified {
		return nil, &auth.NotFoundError{Key: MsgInvalidVerification}
	}

	acct := store.AccountMember
	if s.cfg.RequireManualApproval {
		acct = store.AccountUnvalidated
	}
	if err := s.members.MarkEmailVerified(ctx, member.ID, acct); err != nil {
		return nil, &auth.StorageError{Op: "mark email verified", Err: err}
	}
	s.logger.Info(ctx, "email verified", "member_id", member.ID, "account", string(acct))

	if acct == store.AccountUnvalidated {
		rc.AddMessage(auth.MsgWaitForApproval)
		return nil, nil
	}
	rc.AddMessage(MsgEmailVerified)
	if rc.User != nil {
		return rc.User, nil
	}
	return s.auth.Login(ctx, rc, auth.LoginRequest{MemberID: member.ID, Hash: member.Password, Join: true})
}

// ResendVerification は確認メールを再送します。
func (s *Service) ResendVerification(ctx context.Context, rc *auth.RequestContext, memberID int64) error {
	if !s.emailEnabled() {
		return &auth.PermissionError{Reason: MsgSendEmailDisabled}
	}
	if err := s.auth.CheckLoginFlood(ctx, rc); err != nil {
		return err
	}

	member, err := s.members.FindByID(ctx, memberID)
	if errors.Is(err, store.ErrNotFound) {
		return &auth.NotFoundError{Key: MsgMemberDoesntExist}
	}
	if err != nil {
		return &auth.StorageError{Op: "find member", Err: err}
	}
	if member.Account != store.AccountUnvalidated || member.EmailVerified {
		return &auth.PermissionError{Reason: MsgAlreadyVerified}
	}

	tok := member.ResetPassword
	if tok == "" {
		if tok, err = token.Generate(); err != nil {
			return &auth.StorageError{Op: "generate verification token", Err: err}
		}
		if err := s.members.SetResetToken(ctx, member.ID, tok); err != nil {
			return &auth.StorageError{Op: "set verification token", Err: err}
		}
	}
	if err := s.mailer.SendVerification(ctx, member, s.verificationLink(tok)); err != nil {
		return &auth.StorageError{Op: "send verification", Err: err}
	}
	rc.AddMessage(MsgVerifyEmail)
	return nil
}

// SettingsRequest はパスワード／メールアドレス変更の入力です。
type SettingsRequest struct {
	Token   string `json:"token" form:"token"`
	Current string `json:"current" form:"current"`
	New     string `json:"new" form:"new"`
	Confirm string `json:"confirm" form:"confirm"`
	Email   string `json:"email" form:"email"`
}

// ChangePasswordEmail はログイン中のメンバーのパスワードとメールアドレスを変更します。
// 現在のパスワードが違う場合は何も変更せず、トークンも再発行しません。
func (s *Service) ChangePasswordEmail(ctx context.Context, rc *auth.RequestContext, req SettingsRequest) error {
	if rc.User == nil {
		return &auth.PermissionError{Reason: "not logged in"}
	}
	if !s.auth.RequireToken(rc, req.Token) {
		return &auth.PermissionError{Reason: "token mismatch"}
	}

	member, err := s.members.FindByID(ctx, rc.User.MemberID)
	if err != nil {
		return &auth.StorageError{Op: "find member", Err: err}
	}

	var results form.Results
	if req.New != "" {
		results = append(results,
			form.Password("new", req.New, s.cfg.MinPasswordLength),
			form.Confirm("confirm", req.New, req.Confirm),
		)
	}
	email := strings.TrimSpace(req.Email)
	if email != "" {
		suspended, err := s.auth.IsSuspended(ctx, rc)
		if err != nil {
			return err
		}
		if suspended {
			return &auth.PermissionError{Reason: "suspended"}
		}
		results = append(results, form.Email("email", email))
		if err := s.checkTaken(ctx, results, member.Email); err != nil {
			return err
		}
	}

	if ok, _ := s.verifier.Verify(req.Current, member.Password, member.Salt); !ok {
		return &auth.CredentialError{Key: auth.MsgIncorrectPassword}
	}
	if err := results.Check(); err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	if req.New != "" {
		hash, salt, err := s.verifier.Hash(req.New, "")
		if err != nil {
			return &auth.StorageError{Op: "hash password", Err: err}
		}
		if err := s.members.UpdatePassword(ctx, member.ID, hash, salt); err != nil {
			return &auth.StorageError{Op: "update password", Err: err}
		}
		s.logger.Info(ctx, "password changed", "member_id", member.ID)
	}
	if email != "" && !strings.EqualFold(email, member.Email) {
		if err := s.members.UpdateEmail(ctx, member.ID, email); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return (form.Results{form.Invalid("email", email, form.MsgEmailTaken)}).Check()
			}
			return &auth.StorageError{Op: "update email", Err: err}
		}
		s.logger.Info(ctx, "email changed", "member_id", member.ID)
	}

	rc.AddMessage(MsgChangesSaved)
	if req.New != "" {
		if _, err := s.auth.RotateToken(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

// RequestReset はパスワード再設定リンクをメールで送ります。
func (s *Service) RequestReset(ctx context.Context, rc *auth.RequestContext, email string) error {
	if !s.emailEnabled() {
		return &auth.PermissionError{Reason: MsgSendEmailDisabled}
	}
	if rc.User != nil {
		return &auth.PermissionError{Reason: "already logged in"}
	}
	if err := s.auth.CheckLoginFlood(ctx, rc); err != nil {
		return err
	}

	member, err := s.members.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return &auth.NotFoundError{Key: MsgEmailDoesntExist}
	}
	if err != nil {
		return &auth.StorageError{Op: "find member", Err: err}
	}

	tok, err := token.Generate()
	if err != nil {
		return &auth.StorageError{Op: "generate reset token", Err: err}
	}
	if err := s.members.SetResetToken(ctx, member.ID, tok); err != nil {
		return &auth.StorageError{Op: "set reset token", Err: err}
	}
	if err := s.mailer.SendPasswordReset(ctx, member, s.cfg.BaseURL+"forgot-password/"+tok); err != nil {
		return &auth.StorageError{Op: "send password reset", Err: err}
	}
	s.logger.Info(ctx, "password reset requested", "member_id", member.ID)
	rc.AddMessage(MsgPasswordEmailSent)
	return nil
}

// ResetPassword は再設定リンクのトークンで新しいパスワードを設定します。
func (s *Service) ResetPassword(ctx context.Context, rc *auth.RequestContext, tok, pw, confirm string) error {
	if tok == "" {
		return &auth.NotFoundError{Key: MsgInvalidResetLink}
	}
	if _, err := s.members.FindByResetToken(ctx, tok); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &auth.NotFoundError{Key: MsgInvalidResetLink}
		}
		return &auth.StorageError{Op: "find member", Err: err}
	}

	results := form.Results{
		form.Password("password", pw, s.cfg.MinPasswordLength),
		form.Confirm("confirm", pw, confirm),
	}
	if err := results.Check(); err != nil {
		return err
	}

	hash, salt, err := s.verifier.Hash(pw, "")
	if err != nil {
		return &auth.StorageError{Op: "hash password", Err: err}
	}
	id, err := s.members.ConsumeResetToken(ctx, tok, hash, salt)
	if errors.Is(err, store.ErrNotFound) {
		return &auth.NotFoundError{Key: MsgInvalidResetLink}
	}
	if err != nil {
		return &auth.StorageError{Op: "reset password", Err: err}
	}
	s.logger.Info(ctx, "password reset", "member_id", id)
	rc.AddMessage(MsgPasswordChanged)
	return nil
}

func (s *Service) verificationLink(tok string) string {
	return s.cfg.BaseURL + "join/verify/" + tok
}

