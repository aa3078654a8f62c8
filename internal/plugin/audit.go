package plugin

import (
	"context"

	"github.com/yourusername/esobb/internal/logging"
	"github.com/yourusername/esobb/internal/store"
)

// AuditLog はログイン・ログアウト・グループ変更をログに残す組み込みプラグインです。
type AuditLog struct {
	logger logging.Logger
}

// NewAuditLog は AuditLog を作成します。
func NewAuditLog(logger logging.Logger) *AuditLog {
	return &AuditLog{logger: logger.With("plugin", "audit")}
}

func (a *AuditLog) Name() string { return "audit" }

func (a *AuditLog) Hooks() []HookBinding {
	return []HookBinding{{
		Priority: 100,
		AfterLogin: func(ctx context.Context, memberID int64, name string) {
			a.logger.Info(ctx, "member logged in", "member_id", memberID, "name", name)
		},
		Logout: func(ctx context.Context, memberID int64) {
			a.logger.Info(ctx, "member logged out", "member_id", memberID)
		},
		ChangeMemberGroup: func(ctx context.Context, memberID int64, group store.Account) (store.Account, error) {
			a.logger.Info(ctx, "member group changing", "member_id", memberID, "group", string(group))
			return group, nil
		},
		UpdateRoleFlags: func(ctx context.Context, memberID int64, account store.Account) {
			a.logger.Debug(ctx, "session role flags updated", "member_id", memberID, "account", string(account))
		},
	}}
}
