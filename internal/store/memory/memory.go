// Package memory は単一プロセス用のインメモリ Store を提供します（開発・テスト用）。
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/esobb/internal/store"
)

// Store はミューテックスで保護したマップによる store.Store 実装です。
type Store struct {
	mu sync.Mutex

	members      map[int64]*store.Member
	nextMemberID int64

	logins      map[int64]*store.Login
	nextLoginID int64

	sessions map[string]*store.AuthSession
}

// New は空の Store を作成します。
func New() *Store {
	return &Store{
		members:      make(map[int64]*store.Member),
		nextMemberID: 1,
		logins:       make(map[int64]*store.Login),
		nextLoginID:  1,
		sessions:     make(map[string]*store.AuthSession),
	}
}

func (s *Store) Members() store.MemberRepository   { return (*memberRepo)(s) }
func (s *Store) Logins() store.LoginRepository     { return (*loginRepo)(s) }
func (s *Store) Sessions() store.SessionRepository { return (*sessionRepo)(s) }
func (s *Store) Close() error                      { return nil }

type memberRepo Store

func (r *memberRepo) find(match func(m *store.Member) bool) (*store.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 承認済みアカウントを優先し、同順位なら ID の小さいものを返す
	var found *store.Member
	for _, m := range r.members {
		if !match(m) {
			continue
		}
		if found == nil || better(m, found) {
			found = m
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func better(a, b *store.Member) bool {
	av := a.Account != store.AccountUnvalidated
	bv := b.Account != store.AccountUnvalidated
	if av != bv {
		return av
	}
	return a.ID < b.ID
}

func (r *memberRepo) FindByID(_ context.Context, id int64) (*store.Member, error) {
	return r.find(func(m *store.Member) bool { return m.ID == id })
}

func (r *memberRepo) FindByName(_ context.Context, name string) (*store.Member, error) {
	return r.find(func(m *store.Member) bool { return strings.EqualFold(m.Name, name) })
}

func (r *memberRepo) FindByEmail(_ context.Context, email string) (*store.Member, error) {
	return r.find(func(m *store.Member) bool { return strings.EqualFold(m.Email, email) })
}

func (r *memberRepo) FindByResetToken(_ context.Context, token string) (*store.Member, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return r.find(func(m *store.Member) bool { return m.ResetPassword == token })
}

func (r *memberRepo) taken(match func(m *store.Member) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.Account != store.AccountUnvalidated && match(m) {
			return true
		}
	}
	return false
}

func (r *memberRepo) NameTaken(_ context.Context, name string) (bool, error) {
	return r.taken(func(m *store.Member) bool { return strings.EqualFold(m.Name, name) }), nil
}

func (r *memberRepo) EmailTaken(_ context.Context, email string) (bool, error) {
	return r.taken(func(m *store.Member) bool { return strings.EqualFold(m.Email, email) }), nil
}

// conflicts は承認済みアカウント同士の名前・メールアドレス重複を検出します。
func (r *memberRepo) conflicts(candidate *store.Member) bool {
	if candidate.Account == store.AccountUnvalidated {
		return false
	}
	for _, m := range r.members {
		if m.ID == candidate.ID || m.Account == store.AccountUnvalidated {
			continue
		}
		if strings.EqualFold(m.Name, candidate.Name) || strings.EqualFold(m.Email, candidate.Email) {
			return true
		}
	}
	return false
}

func (r *memberRepo) Create(_ context.Context, m *store.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conflicts(m) {
		return store.ErrConflict
	}
	cp := *m
	cp.ID = r.nextMemberID
	r.nextMemberID++
	r.members[cp.ID] = &cp
	m.ID = cp.ID
	return nil
}

func (r *memberRepo) update(id int64, fn func(m *store.Member) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return store.ErrNotFound
	}
	cp := *m
	if err := fn(&cp); err != nil {
		return err
	}
	if r.conflicts(&cp) {
		return store.ErrConflict
	}
	r.members[id] = &cp
	return nil
}

func (r *memberRepo) UpdatePassword(_ context.Context, id int64, hash, salt string) error {
	return r.update(id, func(m *store.Member) error {
		m.Password = hash
		m.Salt = salt
		return nil
	})
}

func (r *memberRepo) UpdateEmail(_ context.Context, id int64, email string) error {
	return r.update(id, func(m *store.Member) error {
		m.Email = email
		return nil
	})
}

func (r *memberRepo) UpdateAccount(_ context.Context, id int64, account store.Account) error {
	return r.update(id, func(m *store.Member) error {
		m.Account = account
		return nil
	})
}

func (r *memberRepo) SetResetToken(_ context.Context, id int64, token string) error {
	return r.update(id, func(m *store.Member) error {
		m.ResetPassword = token
		return nil
	})
}

func (r *memberRepo) ConsumeResetToken(_ context.Context, token, hash, salt string) (int64, error) {
	if token == "" {
		return 0, store.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.members {
		if m.ResetPassword != token {
			continue
		}
		cp := *m
		cp.Password = hash
		cp.Salt = salt
		cp.ResetPassword = ""
		r.members[id] = &cp
		return id, nil
	}
	return 0, store.ErrNotFound
}

func (r *memberRepo) MarkEmailVerified(_ context.Context, id int64, account store.Account) error {
	return r.update(id, func(m *store.Member) error {
		m.EmailVerified = true
		m.Account = account
		m.ResetPassword = ""
		return nil
	})
}

func (r *memberRepo) UpdateLastAction(_ context.Context, id int64, action string, seen time.Time) error {
	return r.update(id, func(m *store.Member) error {
		m.LastAction = action
		m.LastSeen = seen.Unix()
		return nil
	})
}

type loginRepo Store

func (r *loginRepo) find(match func(l *store.Login) bool) (*store.Login, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *store.Login
	for _, l := range r.logins {
		if match(l) && (found == nil || l.ID < found.ID) {
			found = l
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (r *loginRepo) FindByCookie(_ context.Context, cookie string) (*store.Login, error) {
	if cookie == "" {
		return nil, store.ErrNotFound
	}
	return r.find(func(l *store.Login) bool { return l.Cookie == cookie })
}

func (r *loginRepo) FindByCookieMember(_ context.Context, cookie string, memberID int64) (*store.Login, error) {
	if cookie == "" {
		return nil, store.ErrNotFound
	}
	return r.find(func(l *store.Login) bool { return l.Cookie == cookie && l.MemberID == memberID })
}

func (r *loginRepo) FindByIP(_ context.Context, ip string, memberID int64) (*store.Login, error) {
	return r.find(func(l *store.Login) bool { return l.Cookie == "" && l.IP == ip && l.MemberID == memberID })
}

func (r *loginRepo) FindAnyByIP(_ context.Context, ip string, memberID int64) (*store.Login, error) {
	return r.find(func(l *store.Login) bool { return l.IP == ip && l.MemberID == memberID })
}

func (r *loginRepo) Upsert(_ context.Context, l *store.Login) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(l)
	return nil
}

func (r *loginRepo) Replace(_ context.Context, l *store.Login, staleCookie string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if staleCookie != "" {
		for id, existing := range r.logins {
			if existing.Cookie == staleCookie && existing.MemberID == l.MemberID {
				delete(r.logins, id)
			}
		}
	}
	r.upsertLocked(l)
	return nil
}

func (r *loginRepo) upsertLocked(l *store.Login) {
	for _, existing := range r.logins {
		if existing.MemberID != l.MemberID || existing.Cookie != l.Cookie {
			continue
		}
		if l.Cookie == "" && existing.IP != l.IP {
			continue
		}
		existing.IP = l.IP
		existing.UserAgent = l.UserAgent
		existing.LastTime = l.LastTime
		l.ID = existing.ID
		l.FirstTime = existing.FirstTime
		return
	}

	if l.FirstTime.IsZero() {
		l.FirstTime = l.LastTime
	}
	cp := *l
	cp.ID = r.nextLoginID
	r.nextLoginID++
	r.logins[cp.ID] = &cp
	l.ID = cp.ID
}

func (r *loginRepo) Touch(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.logins[id]
	if !ok {
		return store.ErrNotFound
	}
	l.LastTime = at
	return nil
}

func (r *loginRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.logins, id)
	return nil
}

type sessionRepo Store

func (r *sessionRepo) Get(_ context.Context, id string) (*store.AuthSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *sessionRepo) Put(_ context.Context, s *store.AuthSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *sessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *sessionRepo) DeleteIdle(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.UpdatedAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
