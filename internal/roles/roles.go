// Package roles はメンバーのグループ変更の権限判定と変更処理を提供します。
package roles

import (
	"context"
	"errors"

	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/logging"
	"github.com/yourusername/esobb/internal/store"
)

// MsgMemberDoesntExist は対象のメンバーが存在しない場合のメッセージキーです。
const MsgMemberDoesntExist = "memberDoesntExist"

// Resolver はグループ変更の権限を判定します。
type Resolver struct {
	auth      *auth.Manager
	members   store.MemberRepository
	rootAdmin int64
	logger    logging.Logger
}

// NewResolver は Resolver を作成します。
func NewResolver(m *auth.Manager, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{
		auth:      m,
		members:   m.Members(),
		rootAdmin: m.Config().RootAdmin,
		logger:    logger,
	}
}

// CanChangeGroup は actor が対象メンバーを変更できるグループの一覧を返します。
// 変更できない場合は nil です。
func (r *Resolver) CanChangeGroup(actor *auth.User, targetID int64, current store.Account) []store.Account {
	if actor == nil || !actor.Flags.Moderator {
		return nil
	}
	if targetID == actor.MemberID || targetID == r.rootAdmin {
		return nil
	}

	if actor.Flags.Admin {
		groups := append([]store.Account(nil), store.Groups...)
		if current == store.AccountUnvalidated {
			groups = append(groups, store.AccountUnvalidated)
		}
		return groups
	}

	switch current {
	case store.AccountMember, store.AccountSuspended:
		return []store.Account{store.AccountMember, store.AccountSuspended}
	case store.AccountUnvalidated:
		return []store.Account{store.AccountMember, store.AccountSuspended, store.AccountUnvalidated}
	default:
		return nil
	}
}

// ChangeMemberGroup はメンバーのグループを変更します。
// current が空の場合はストアから現在のグループを取得します。
// 保存したグループ（フックで差し替えられた場合はその値）を返します。
// 変更したのがログイン中のメンバー自身であれば、セッションの権限フラグを更新してトークンを再発行します。
func (r *Resolver) ChangeMemberGroup(ctx context.Context, rc *auth.RequestContext, memberID int64, group, current store.Account) (store.Account, error) {
	if current == "" {
		member, err := r.members.FindByID(ctx, memberID)
		if errors.Is(err, store.ErrNotFound) {
			return "", &auth.NotFoundError{Key: MsgMemberDoesntExist}
		}
		if err != nil {
			return "", &auth.StorageError{Op: "find member", Err: err}
		}
		current = member.Account
	}

	if !contains(r.CanChangeGroup(rc.User, memberID, current), group) {
		return "", &auth.PermissionError{Reason: "cannot change group to " + string(group)}
	}

	group, err := r.auth.Hooks().FilterMemberGroup(ctx, memberID, group)
	if err != nil {
		return "", &auth.PermissionError{Reason: err.Error()}
	}
	if !group.Valid() {
		return "", &auth.PermissionError{Reason: "unknown group " + string(group)}
	}

	if err := r.members.UpdateAccount(ctx, memberID, group); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", &auth.NotFoundError{Key: MsgMemberDoesntExist}
		}
		return "", &auth.StorageError{Op: "update account", Err: err}
	}
	r.logger.Info(ctx, "member group changed",
		"member_id", memberID,
		"from", string(current),
		"to", string(group),
		"actor_id", rc.MemberID(),
	)

	if rc.MemberID() == memberID && current != group {
		if err := r.auth.SetAccount(ctx, rc, group); err != nil {
			return "", err
		}
	}
	return group, nil
}

func contains(groups []store.Account, g store.Account) bool {
	for _, x := range groups {
		if x == g {
			return true
		}
	}
	return false
}
