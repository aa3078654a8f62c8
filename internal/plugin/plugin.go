// Package plugin は起動時に登録するプラグインと、認証処理の拡張ポイントを提供します。
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yourusername/esobb/internal/store"
)

// 拡張ポイントごとのコールバック
type (
	// AfterLoginFunc はログイン確定後に呼ばれます。
	AfterLoginFunc func(ctx context.Context, memberID int64, name string)
	// LogoutFunc はログアウト時に呼ばれます。memberID は匿名なら 0 です。
	LogoutFunc func(ctx context.Context, memberID int64)
	// ChangeMemberGroupFunc はグループ変更の保存前に呼ばれ、変更後のグループを差し替えられます。
	ChangeMemberGroupFunc func(ctx context.Context, memberID int64, group store.Account) (store.Account, error)
	// UpdateRoleFlagsFunc はセッションの権限フラグが更新されたときに呼ばれます。
	UpdateRoleFlagsFunc func(ctx context.Context, memberID int64, account store.Account)
	// BeforeValidateNameFunc は名前の検証前に呼ばれ、名前を正規化できます。
	BeforeValidateNameFunc func(name string) string
)

// HookBinding はプラグインが登録するコールバックの組です。設定したものだけが使われます。
// Priority の小さいものから順に呼ばれます。
type HookBinding struct {
	Priority           int
	AfterLogin         AfterLoginFunc
	Logout             LogoutFunc
	ChangeMemberGroup  ChangeMemberGroupFunc
	UpdateRoleFlags    UpdateRoleFlagsFunc
	BeforeValidateName BeforeValidateNameFunc
}

// Plugin はレジストリに登録できるプラグインです。
type Plugin interface {
	Name() string
	Hooks() []HookBinding
}

// Registry は登録済みプラグインのフックを保持します。nil の Registry は何もしません。
type Registry struct {
	mu       sync.RWMutex
	names    map[string]struct{}
	bindings []HookBinding
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register はプラグインを登録します。同名のプラグインは登録できません。
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.names[name] = struct{}{}
	next := append(append([]HookBinding(nil), r.bindings...), p.Hooks()...)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Priority < next[j].Priority
	})
	r.bindings = next
	return nil
}

// Names は登録済みのプラグイン名を返します。
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) snapshot() []HookBinding {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings
}

// FireAfterLogin は AfterLogin フックを呼び出します。
func (r *Registry) FireAfterLogin(ctx context.Context, memberID int64, name string) {
	for _, b := range r.snapshot() {
		if b.AfterLogin != nil {
			b.AfterLogin(ctx, memberID, name)
		}
	}
}

// FireLogout は Logout フックを呼び出します。
func (r *Registry) FireLogout(ctx context.Context, memberID int64) {
	for _, b := range r.snapshot() {
		if b.Logout != nil {
			b.Logout(ctx, memberID)
		}
	}
}

// FilterMemberGroup は ChangeMemberGroup フックを順に適用します。エラーを返したフックで中断します。
func (r *Registry) FilterMemberGroup(ctx context.Context, memberID int64, group store.Account) (store.Account, error) {
	for _, b := range r.snapshot() {
		if b.ChangeMemberGroup == nil {
			continue
		}
		next, err := b.ChangeMemberGroup(ctx, memberID, group)
		if err != nil {
			return group, err
		}
		group = next
	}
	return group, nil
}

// FireUpdateRoleFlags は UpdateRoleFlags フックを呼び出します。
func (r *Registry) FireUpdateRoleFlags(ctx context.Context, memberID int64, account store.Account) {
	for _, b := range r.snapshot() {
		if b.UpdateRoleFlags != nil {
			b.UpdateRoleFlags(ctx, memberID, account)
		}
	}
}

// FilterName は BeforeValidateName フックを順に適用します。
func (r *Registry) FilterName(name string) string {
	for _, b := range r.snapshot() {
		if b.BeforeValidateName != nil {
			name = b.BeforeValidateName(name)
		}
	}
	return name
}
