package account_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/esobb/internal/account"
	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/auth/authtest"
	"github.com/yourusername/esobb/internal/config"
	"github.com/yourusername/esobb/internal/form"
	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/token"
)

var ctx = context.Background()

type sentMail struct {
	kind     string
	memberID int64
	link     string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendVerification(_ context.Context, m *store.Member, link string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{kind: "verification", memberID: m.ID, link: link})
	return nil
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, m *store.Member, link string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{kind: "reset", memberID: m.ID, link: link})
	return nil
}

func (f *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func newService(t *testing.T, mutate ...func(*config.Config)) (*authtest.Env, *account.Service, *fakeMailer) {
	t.Helper()
	env := authtest.New(t, mutate...)
	mailer := &fakeMailer{}
	return env, account.NewService(env.Manager, env.Verifier, mailer, nil), mailer
}

func withEmail(c *config.Config) {
	c.SendEmail = true
	c.RequireEmailApproval = true
}

func anonymous(env *authtest.Env) *auth.RequestContext {
	return env.Request(authtest.NewSession(), authtest.NewCookies())
}

func joinRequest(name string) account.JoinRequest {
	return account.JoinRequest{
		Name:     name,
		Email:    strings.ToLower(strings.TrimSpace(name)) + "@example.org",
		Password: "secret1",
		Confirm:  "secret1",
	}
}

func TestJoinLogsIn(t *testing.T) {
	env, svc, mailer := newService(t)
	rc := anonymous(env)

	res, err := svc.Join(ctx, rc, joinRequest("  Alice  "))
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.Zero(t, res.Pending)
	assert.Equal(t, "Alice", res.Member.Name)
	assert.Equal(t, store.AccountMember, res.Member.Account)
	assert.Empty(t, mailer.sent)

	require.NotNil(t, rc.User)
	assert.Equal(t, res.Member.ID, rc.User.MemberID)
	cookie, ok := rc.Cookies.Read(env.Config.CookieName)
	assert.True(t, ok, "登録直後はログイン保持クッキーを発行する")
	assert.NotEmpty(t, cookie)

	stored, err := env.Store.Members().FindByID(ctx, res.Member.ID)
	require.NoError(t, err)
	ok, _ = env.Verifier.Verify("secret1", stored.Password, stored.Salt)
	assert.True(t, ok)
}

func TestJoinValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   func(r *account.JoinRequest)
		field string
		msg   string
	}{
		{"taken name", func(r *account.JoinRequest) { r.Name = "BOB" }, "name", form.MsgNameTaken},
		{"reserved name", func(r *account.JoinRequest) { r.Name = "Guest" }, "name", form.MsgNameTaken},
		{"short name", func(r *account.JoinRequest) { r.Name = "ab" }, "name", form.MsgNameEmpty},
		{"non ascii name", func(r *account.JoinRequest) { r.Name = "アリス" }, "name", form.MsgInvalidCharacters},
		{"invalid email", func(r *account.JoinRequest) { r.Email = "not-an-email" }, "email", form.MsgInvalidEmail},
		{"taken email", func(r *account.JoinRequest) { r.Email = "Bob@Example.com" }, "email", form.MsgEmailTaken},
		{"short password", func(r *account.JoinRequest) { r.Password, r.Confirm = "abc", "abc" }, "password", form.MsgPasswordTooShort},
		{"confirm mismatch", func(r *account.JoinRequest) { r.Confirm = "secret2" }, "confirm", form.MsgPasswordsDontMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, svc, _ := newService(t)
			env.AddMember(t, "bob", "secret1", store.AccountMember)

			req := joinRequest("carol")
			tt.req(&req)
			rc := anonymous(env)
			_, err := svc.Join(ctx, rc, req)

			var invalid *form.ValidationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.msg, invalid.Results.Messages()[tt.field])
			assert.Nil(t, rc.User)
		})
	}
}

func TestJoinUnvalidatedDoesNotReserveName(t *testing.T) {
	env, svc, _ := newService(t)
	env.AddMember(t, "dave", "secret1", store.AccountUnvalidated)

	req := joinRequest("Dave")
	req.Email = "dave@example.com"
	res, err := svc.Join(ctx, anonymous(env), req)
	require.NoError(t, err)
	assert.Equal(t, store.AccountMember, res.Member.Account)
}

func TestJoinRejected(t *testing.T) {
	env, svc, _ := newService(t, func(c *config.Config) { c.RegistrationOpen = false })
	_, err := svc.Join(ctx, anonymous(env), joinRequest("alice"))
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)

	env, svc, _ = newService(t)
	env.AddMember(t, "bob", "secret1", store.AccountMember)
	_, err = svc.Join(ctx, env.LoginAs(t, "bob", "secret1"), joinRequest("alice"))
	require.ErrorAs(t, err, &permErr)
}

func TestJoinWithEmailVerification(t *testing.T) {
	env, svc, mailer := newService(t, withEmail)
	rc := anonymous(env)

	res, err := svc.Join(ctx, rc, joinRequest("alice"))
	require.NoError(t, err)
	assert.Equal(t, auth.PendingEmail, res.Pending)
	assert.Nil(t, res.User)
	assert.Nil(t, rc.User)
	assert.Contains(t, rc.Messages, account.MsgVerifyEmail)

	stored, err := env.Store.Members().FindByID(ctx, res.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AccountUnvalidated, stored.Account)
	require.NotEmpty(t, stored.ResetPassword)

	sent := mailer.last(t)
	assert.Equal(t, "verification", sent.kind)
	assert.Equal(t, "https://forum.example/join/verify/"+stored.ResetPassword, sent.link)

	_, err = env.Manager.Login(ctx, anonymous(env), auth.LoginRequest{Name: "alice", Password: "secret1"})
	var pending *auth.PendingApprovalError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, auth.PendingEmail, pending.Kind)

	verifyRC := anonymous(env)
	user, err := svc.Verify(ctx, verifyRC, stored.ResetPassword)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, res.Member.ID, user.MemberID)
	assert.Contains(t, verifyRC.Messages, account.MsgEmailVerified)

	stored, err = env.Store.Members().FindByID(ctx, res.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AccountMember, stored.Account)
	assert.True(t, stored.EmailVerified)
	assert.Empty(t, stored.ResetPassword)

	_, err = svc.Verify(ctx, anonymous(env), sent.link[strings.LastIndex(sent.link, "/")+1:])
	var notFound *auth.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, account.MsgInvalidVerification, auth.MessageKey(err))
}

func TestJoinWithManualApproval(t *testing.T) {
	env, svc, mailer := newService(t, func(c *config.Config) { c.RequireManualApproval = true })
	rc := anonymous(env)

	res, err := svc.Join(ctx, rc, joinRequest("alice"))
	require.NoError(t, err)
	assert.Equal(t, auth.PendingManual, res.Pending)
	assert.Contains(t, rc.Messages, auth.MsgWaitForApproval)
	assert.Empty(t, mailer.sent)
	assert.Equal(t, store.AccountUnvalidated, res.Member.Account)
}

func TestVerifyThenManualApproval(t *testing.T) {
	env, svc, mailer := newService(t, withEmail, func(c *config.Config) { c.RequireManualApproval = true })

	res, err := svc.Join(ctx, anonymous(env), joinRequest("alice"))
	require.NoError(t, err)
	assert.Equal(t, auth.PendingEmail, res.Pending)
	link := mailer.last(t).link

	rc := anonymous(env)
	user, err := svc.Verify(ctx, rc, link[strings.LastIndex(link, "/")+1:])
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Nil(t, rc.User)
	assert.Contains(t, rc.Messages, auth.MsgWaitForApproval)

	stored, err := env.Store.Members().FindByID(ctx, res.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AccountUnvalidated, stored.Account)
	assert.True(t, stored.EmailVerified)
}

func TestJoinMailFailure(t *testing.T) {
	env, svc, mailer := newService(t, withEmail)
	mailer.err = errors.New("smtp down")

	_, err := svc.Join(ctx, anonymous(env), joinRequest("alice"))
	var storageErr *auth.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, auth.MsgFatalError, auth.MessageKey(err))
}

func TestResendVerification(t *testing.T) {
	env, svc, mailer := newService(t, withEmail)
	dave := env.AddMember(t, "dave", "secret1", store.AccountUnvalidated)
	bob := env.AddMember(t, "bob", "secret1", store.AccountMember)

	rc := anonymous(env)
	require.NoError(t, svc.ResendVerification(ctx, rc, dave.ID))
	assert.Contains(t, rc.Messages, account.MsgVerifyEmail)

	stored, err := env.Store.Members().FindByID(ctx, dave.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ResetPassword)
	assert.Equal(t, "https://forum.example/join/verify/"+stored.ResetPassword, mailer.last(t).link)

	// 既存のトークンを再利用する
	require.NoError(t, svc.ResendVerification(ctx, anonymous(env), dave.ID))
	assert.Equal(t, "https://forum.example/join/verify/"+stored.ResetPassword, mailer.last(t).link)

	var permErr *auth.PermissionError
	require.ErrorAs(t, svc.ResendVerification(ctx, anonymous(env), bob.ID), &permErr)

	var notFound *auth.NotFoundError
	require.ErrorAs(t, svc.ResendVerification(ctx, anonymous(env), 999), &notFound)
}

func TestResendVerificationWithoutMailer(t *testing.T) {
	env := authtest.New(t, withEmail)
	svc := account.NewService(env.Manager, env.Verifier, nil, nil)
	dave := env.AddMember(t, "dave", "secret1", store.AccountUnvalidated)

	var permErr *auth.PermissionError
	require.ErrorAs(t, svc.ResendVerification(ctx, anonymous(env), dave.ID), &permErr)
}

func TestResendVerificationFlood(t *testing.T) {
	env, svc, _ := newService(t, withEmail, func(c *config.Config) { c.LoginsPerMinute = 1 })
	dave := env.AddMember(t, "dave", "secret1", store.AccountUnvalidated)

	require.NoError(t, svc.ResendVerification(ctx, anonymous(env), dave.ID))
	var rateErr *auth.RateLimitError
	require.ErrorAs(t, svc.ResendVerification(ctx, anonymous(env), dave.ID), &rateErr)
}

func settings(rc *auth.RequestContext, current string) account.SettingsRequest {
	return account.SettingsRequest{Token: token.Current(rc.Session), Current: current}
}

func TestChangePassword(t *testing.T) {
	env, svc, _ := newService(t)
	alice := env.AddMember(t, "alice", "secret1", store.AccountMember)
	rc := env.LoginAs(t, "alice", "secret1")
	tok := token.Current(rc.Session)

	req := settings(rc, "secret1")
	req.New, req.Confirm = "newsecret", "newsecret"
	require.NoError(t, svc.ChangePasswordEmail(ctx, rc, req))
	assert.Contains(t, rc.Messages, account.MsgChangesSaved)
	assert.NotEqual(t, tok, token.Current(rc.Session), "パスワード変更後はトークンを再発行する")

	stored, err := env.Store.Members().FindByID(ctx, alice.ID)
	require.NoError(t, err)
	ok, _ := env.Verifier.Verify("newsecret", stored.Password, stored.Salt)
	assert.True(t, ok)
}

func TestChangePasswordWrongCurrentKeepsToken(t *testing.T) {
	env, svc, _ := newService(t)
	alice := env.AddMember(t, "alice", "secret1", store.AccountMember)
	rc := env.LoginAs(t, "alice", "secret1")
	tok := token.Current(rc.Session)

	req := settings(rc, "wrong")
	req.New, req.Confirm = "newsecret", "newsecret"
	req.Email = "alice@example.org"
	err := svc.ChangePasswordEmail(ctx, rc, req)
	var credErr *auth.CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, auth.MsgIncorrectPassword, auth.MessageKey(err))
	assert.Equal(t, tok, token.Current(rc.Session))

	stored, err := env.Store.Members().FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", stored.Email)
	ok, _ := env.Verifier.Verify("secret1", stored.Password, stored.Salt)
	assert.True(t, ok)
}

func TestChangeEmail(t *testing.T) {
	env, svc, _ := newService(t)
	alice := env.AddMember(t, "alice", "secret1", store.AccountMember)
	env.AddMember(t, "bob", "secret1", store.AccountMember)
	rc := env.LoginAs(t, "alice", "secret1")
	tok := token.Current(rc.Session)

	req := settings(rc, "secret1")
	req.Email = "BOB@example.com"
	err := svc.ChangePasswordEmail(ctx, rc, req)
	var invalid *form.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, form.MsgEmailTaken, invalid.Results.Messages()["email"])

	req.Email = "ALICE@example.com"
	require.NoError(t, svc.ChangePasswordEmail(ctx, rc, req), "自分のアドレスは重複扱いにしない")

	req.Email = "alice@example.net"
	require.NoError(t, svc.ChangePasswordEmail(ctx, rc, req))
	stored, err := env.Store.Members().FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.net", stored.Email)
	assert.Equal(t, tok, token.Current(rc.Session), "メールアドレスだけの変更ではトークンを再発行しない")
}

func TestChangeSettingsRequiresToken(t *testing.T) {
	env, svc, _ := newService(t)
	env.AddMember(t, "alice", "secret1", store.AccountMember)
	rc := env.LoginAs(t, "alice", "secret1")

	req := settings(rc, "secret1")
	req.Token = "forged"
	req.New, req.Confirm = "newsecret", "newsecret"
	var permErr *auth.PermissionError
	require.ErrorAs(t, svc.ChangePasswordEmail(ctx, rc, req), &permErr)
	assert.Contains(t, rc.Messages, auth.MsgNoPermission)

	require.ErrorAs(t, svc.ChangePasswordEmail(ctx, anonymous(env), req), &permErr)
}

func TestSuspendedCannotChangeEmail(t *testing.T) {
	env, svc, _ := newService(t)
	alice := env.AddMember(t, "alice", "secret1", store.AccountMember)
	rc := env.LoginAs(t, "alice", "secret1")
	require.NoError(t, env.Store.Members().UpdateAccount(ctx, alice.ID, store.AccountSuspended))

	next := env.Request(rc.Session.(*authtest.Session).Next(), authtest.NewCookies())
	require.NoError(t, env.Manager.ValidateSession(ctx, next))

	req := settings(next, "secret1")
	req.Email = "alice@example.net"
	var permErr *auth.PermissionError
	require.ErrorAs(t, svc.ChangePasswordEmail(ctx, next, req), &permErr)

	stored, err := env.Store.Members().FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", stored.Email)
}

func TestPasswordReset(t *testing.T) {
	env, svc, mailer := newService(t, withEmail)
	alice := env.AddMember(t, "alice", "secret1", store.AccountMember)

	rc := anonymous(env)
	require.NoError(t, svc.RequestReset(ctx, rc, "Alice@Example.com"))
	assert.Contains(t, rc.Messages, account.MsgPasswordEmailSent)

	sent := mailer.last(t)
	assert.Equal(t, "reset", sent.kind)
	assert.Equal(t, alice.ID, sent.memberID)
	require.True(t, strings.HasPrefix(sent.link, "https://forum.example/forgot-password/"))
	tok := strings.TrimPrefix(sent.link, "https://forum.example/forgot-password/")

	err := svc.ResetPassword(ctx, anonymous(env), tok, "newsecret", "different")
	var invalid *form.ValidationError
	require.ErrorAs(t, err, &invalid)

	rc = anonymous(env)
	require.NoError(t, svc.ResetPassword(ctx, rc, tok, "newsecret", "newsecret"))
	assert.Contains(t, rc.Messages, account.MsgPasswordChanged)

	stored, err := env.Store.Members().FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ResetPassword)
	ok, _ := env.Verifier.Verify("newsecret", stored.Password, stored.Salt)
	assert.True(t, ok)

	err = svc.ResetPassword(ctx, anonymous(env), tok, "another1", "another1")
	var notFound *auth.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, account.MsgInvalidResetLink, auth.MessageKey(err))
}

func TestRequestResetUnknownEmail(t *testing.T) {
	env, svc, mailer := newService(t, withEmail)

	err := svc.RequestReset(ctx, anonymous(env), "nobody@example.com")
	var notFound *auth.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, account.MsgEmailDoesntExist, auth.MessageKey(err))
	assert.Empty(t, mailer.sent)
}

func TestRequestResetRequiresEmail(t *testing.T) {
	env, svc, _ := newService(t)
	env.AddMember(t, "alice", "secret1", store.AccountMember)

	var permErr *auth.PermissionError
	require.ErrorAs(t, svc.RequestReset(ctx, anonymous(env), "alice@example.com"), &permErr)
}

func TestResendLinkMatchesPendingError(t *testing.T) {
	env, _, _ := newService(t, withEmail)
	dave := env.AddMember(t, "dave", "secret1", store.AccountUnvalidated)

	_, err := env.Manager.Login(ctx, anonymous(env), auth.LoginRequest{Name: "dave", Password: "secret1"})
	var pending *auth.PendingApprovalError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, "https://forum.example/join/sendVerification/"+strconv.FormatInt(dave.ID, 10), pending.ResendLink)
}
