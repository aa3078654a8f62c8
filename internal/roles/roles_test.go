package roles_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/auth/authtest"
	"github.com/yourusername/esobb/internal/plugin"
	"github.com/yourusername/esobb/internal/roles"
	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/token"
)

var ctx = context.Background()

const rootAdminID = 1

var (
	admin = &auth.User{
		MemberID: 2,
		Account:  store.AccountAdministrator,
		Flags:    auth.RoleFlags{Admin: true, Moderator: true, Member: true, Suspended: auth.False},
	}
	moderator = &auth.User{
		MemberID: 3,
		Account:  store.AccountModerator,
		Flags:    auth.RoleFlags{Moderator: true, Member: true, Suspended: auth.False},
	}
	member = &auth.User{
		MemberID: 4,
		Account:  store.AccountMember,
		Flags:    auth.RoleFlags{Member: true, Suspended: auth.False},
	}
)

func newResolver(t *testing.T) (*authtest.Env, *roles.Resolver) {
	t.Helper()
	env := authtest.New(t)
	env.Config.RootAdmin = rootAdminID
	return env, roles.NewResolver(env.Manager, nil)
}

func TestCanChangeGroup(t *testing.T) {
	_, r := newResolver(t)

	tests := []struct {
		name    string
		actor   *auth.User
		target  int64
		current store.Account
		want    []store.Account
	}{
		{"anonymous", nil, 10, store.AccountMember, nil},
		{"member", member, 10, store.AccountMember, nil},
		{"admin self", admin, admin.MemberID, store.AccountAdministrator, nil},
		{"admin on root admin", admin, rootAdminID, store.AccountAdministrator, nil},
		{
			"admin on member", admin, 10, store.AccountMember,
			[]store.Account{store.AccountAdministrator, store.AccountModerator, store.AccountMember, store.AccountSuspended},
		},
		{
			"admin on unvalidated", admin, 10, store.AccountUnvalidated,
			[]store.Account{store.AccountAdministrator, store.AccountModerator, store.AccountMember, store.AccountSuspended, store.AccountUnvalidated},
		},
		{"moderator on member", moderator, 10, store.AccountMember, []store.Account{store.AccountMember, store.AccountSuspended}},
		{"moderator on suspended", moderator, 10, store.AccountSuspended, []store.Account{store.AccountMember, store.AccountSuspended}},
		{
			"moderator on unvalidated", moderator, 10, store.AccountUnvalidated,
			[]store.Account{store.AccountMember, store.AccountSuspended, store.AccountUnvalidated},
		},
		{"moderator on moderator", moderator, 10, store.AccountModerator, nil},
		{"moderator on administrator", moderator, 10, store.AccountAdministrator, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.CanChangeGroup(tt.actor, tt.target, tt.current))
		})
	}
}

func TestModeratorCannotChangeRootAdmin(t *testing.T) {
	_, r := newResolver(t)
	for _, current := range []store.Account{
		store.AccountAdministrator, store.AccountModerator, store.AccountMember,
		store.AccountSuspended, store.AccountUnvalidated,
	} {
		assert.Nil(t, r.CanChangeGroup(moderator, rootAdminID, current), "current=%s", current)
	}
}

func TestCanChangeGroupDoesNotShareGroups(t *testing.T) {
	_, r := newResolver(t)
	groups := r.CanChangeGroup(admin, 10, store.AccountUnvalidated)
	groups[0] = "Broken"
	assert.Equal(t, store.AccountAdministrator, store.Groups[0])
	assert.Len(t, r.CanChangeGroup(admin, 10, store.AccountMember), 4)
}

func TestChangeMemberGroup(t *testing.T) {
	env, r := newResolver(t)
	root := env.AddMember(t, "root", "secret1", store.AccountAdministrator)
	require.Equal(t, int64(rootAdminID), root.ID)
	bob := env.AddMember(t, "bob", "secret1", store.AccountMember)

	rc := env.LoginAs(t, "root", "secret1")
	tok := token.Current(rc.Session)

	group, err := r.ChangeMemberGroup(ctx, rc, bob.ID, store.AccountModerator, "")
	require.NoError(t, err)
	assert.Equal(t, store.AccountModerator, group)

	stored, err := env.Store.Members().FindByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AccountModerator, stored.Account)
	assert.Equal(t, tok, token.Current(rc.Session), "他人の変更ではトークンを再発行しない")
}

func TestAdminSelfVeto(t *testing.T) {
	env, r := newResolver(t)
	root := env.AddMember(t, "root", "secret1", store.AccountAdministrator)
	rc := env.LoginAs(t, "root", "secret1")
	tok := token.Current(rc.Session)

	_, err := r.ChangeMemberGroup(ctx, rc, root.ID, store.AccountMember, "")
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, auth.MsgNoPermission, auth.MessageKey(err))

	stored, err := env.Store.Members().FindByID(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AccountAdministrator, stored.Account)
	assert.Equal(t, tok, token.Current(rc.Session))
}

func TestModeratorCannotPromote(t *testing.T) {
	env, r := newResolver(t)
	env.AddMember(t, "root", "secret1", store.AccountAdministrator)
	env.AddMember(t, "mod", "secret1", store.AccountModerator)
	bob := env.AddMember(t, "bob", "secret1", store.AccountMember)
	rc := env.LoginAs(t, "mod", "secret1")

	_, err := r.ChangeMemberGroup(ctx, rc, bob.ID, store.AccountModerator, "")
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)

	group, err := r.ChangeMemberGroup(ctx, rc, bob.ID, store.AccountSuspended, store.AccountMember)
	require.NoError(t, err)
	assert.Equal(t, store.AccountSuspended, group)
}

func TestChangeMemberGroupHooks(t *testing.T) {
	env, r := newResolver(t)
	env.AddMember(t, "root", "secret1", store.AccountAdministrator)
	bob := env.AddMember(t, "bob", "secret1", store.AccountMember)
	carol := env.AddMember(t, "carol", "secret1", store.AccountMember)
	require.NoError(t, env.Hooks.Register(hookPlugin{
		ChangeMemberGroup: func(_ context.Context, id int64, g store.Account) (store.Account, error) {
			if id == carol.ID {
				return g, errors.New("protected member")
			}
			if g == store.AccountAdministrator {
				return store.AccountModerator, nil
			}
			return g, nil
		},
	}))
	rc := env.LoginAs(t, "root", "secret1")

	group, err := r.ChangeMemberGroup(ctx, rc, bob.ID, store.AccountAdministrator, "")
	require.NoError(t, err)
	assert.Equal(t, store.AccountModerator, group)

	_, err = r.ChangeMemberGroup(ctx, rc, carol.ID, store.AccountSuspended, "")
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)
	stored, err := env.Store.Members().FindByID(ctx, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AccountMember, stored.Account)
}

func TestChangeMemberGroupUnknownMember(t *testing.T) {
	env, r := newResolver(t)
	env.AddMember(t, "root", "secret1", store.AccountAdministrator)
	rc := env.LoginAs(t, "root", "secret1")

	_, err := r.ChangeMemberGroup(ctx, rc, 404, store.AccountMember, "")
	var notFound *auth.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, roles.MsgMemberDoesntExist, auth.MessageKey(err))
}

type hookPlugin plugin.HookBinding

func (hookPlugin) Name() string { return "hooks" }

func (p hookPlugin) Hooks() []plugin.HookBinding { return []plugin.HookBinding{plugin.HookBinding(p)} }
