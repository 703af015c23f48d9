package auth

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the service-layer tests. It
// mirrors the contract of the Postgres store: sentinel errors for missing
// rows and uniqueness violations, cascades on service deletion.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*User
	services  map[string]*Service
	roles     map[string]*Role
	perms     map[string]Permission
	rolePerms map[string]map[string]struct{}
	grants    []Grant
	tokens    map[string]*AppToken
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*User),
		services:  make(map[string]*Service),
		roles:     make(map[string]*Role),
		perms:     make(map[string]Permission),
		rolePerms: make(map[string]map[string]struct{}),
		tokens:    make(map[string]*AppToken),
	}
}

func (m *memStore) Users(context.Context) UserStore             { return (*memUsers)(m) }
func (m *memStore) Services(context.Context) ServiceStore       { return (*memServices)(m) }
func (m *memStore) Roles(context.Context) RoleStore             { return (*memRoles)(m) }
func (m *memStore) Permissions(context.Context) PermissionStore { return (*memPerms)(m) }
func (m *memStore) AppTokens(context.Context) AppTokenStore     { return (*memTokens)(m) }

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) findWhere(match func(*User) bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByPublicID(_ context.Context, publicID string) (*User, error) {
	return m.findWhere(func(u *User) bool { return u.PublicID == publicID })
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	return m.findWhere(func(u *User) bool { return u.Email == email })
}

func (m *memUsers) FindByVerificationToken(_ context.Context, tok string) (*User, error) {
	return m.findWhere(func(u *User) bool { return tok != "" && u.VerificationToken == tok })
}

func (m *memUsers) FindByResetToken(_ context.Context, tok string) (*User, error) {
	return m.findWhere(func(u *User) bool { return tok != "" && u.ResetToken == tok })
}

func (m *memUsers) FindByProvider(_ context.Context, p Provider, subjectID string) (*User, error) {
	return m.findWhere(func(u *User) bool { return subjectID != "" && p.SubjectID(u) == subjectID })
}

func (m *memUsers) mutate(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (m *memUsers) LinkProvider(_ context.Context, userID string, p Provider, subjectID string) error {
	return m.mutate(userID, func(u *User) { p.SetSubjectID(u, subjectID) })
}

func (m *memUsers) MarkEmailVerified(_ context.Context, userID string) error {
	return m.mutate(userID, func(u *User) {
		u.EmailVerified = true
		u.VerificationToken = ""
	})
}

func (m *memUsers) SetPasswordHash(_ context.Context, userID, hash string) error {
	return m.mutate(userID, func(u *User) {
		u.PasswordHash = hash
		u.ResetToken = ""
		u.ResetExpires = time.Time{}
	})
}

func (m *memUsers) SetResetToken(_ context.Context, userID, tok string, expires time.Time) error {
	return m.mutate(userID, func(u *User) {
		u.ResetToken = tok
		u.ResetExpires = expires
	})
}

func (m *memUsers) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	return m.mutate(userID, func(u *User) { u.LastLogin = at })
}

func (m *memUsers) SetActive(_ context.Context, userID string, active bool) error {
	return m.mutate(userID, func(u *User) { u.Active = active })
}

type memServices memStore

func (m *memServices) Create(_ context.Context, svc *Service, roles []*Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.services {
		if existing.Name == svc.Name {
			return ErrConflict
		}
	}
	cp := *svc
	cp.CreatedAt = time.Now()
	m.services[svc.ID] = &cp
	for _, role := range roles {
		rcp := *role
		m.roles[role.ID] = &rcp
	}
	return nil
}

func (m *memServices) Find(_ context.Context, id string) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *svc
	return &cp, nil
}

func (m *memServices) findWhere(match func(*Service) bool) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.services {
		if match(svc) {
			cp := *svc
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memServices) FindByPublicID(_ context.Context, publicID string) (*Service, error) {
	return m.findWhere(func(s *Service) bool { return s.PublicID == publicID })
}

func (m *memServices) FindByName(_ context.Context, name string) (*Service, error) {
	return m.findWhere(func(s *Service) bool { return s.Name == name })
}

func (m *memServices) List(context.Context) ([]*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Service, 0, len(m.services))
	for _, svc := range m.services {
		cp := *svc
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memServices) ListForUser(_ context.Context, userID string) ([]*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []*Service
	for _, g := range m.grants {
		if g.UserID != userID || seen[g.ServiceID] {
			continue
		}
		seen[g.ServiceID] = true
		if svc, ok := m.services[g.ServiceID]; ok {
			cp := *svc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memServices) Update(_ context.Context, id string, upd ServiceUpdate) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		svc.Name = *upd.Name
	}
	if upd.Description != nil {
		svc.Description = *upd.Description
	}
	if upd.Active != nil {
		svc.Active = *upd.Active
	}
	svc.UpdatedAt = time.Now()
	cp := *svc
	return &cp, nil
}

func (m *memServices) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[id]; !ok {
		return ErrNotFound
	}
	delete(m.services, id)
	for rid, role := range m.roles {
		if role.ServiceID == id {
			delete(m.roles, rid)
			delete(m.rolePerms, rid)
		}
	}
	kept := m.grants[:0]
	for _, g := range m.grants {
		if g.ServiceID != id {
			kept = append(kept, g)
		}
	}
	m.grants = kept
	for tid, tok := range m.tokens {
		if tok.ServiceID == id {
			delete(m.tokens, tid)
		}
	}
	return nil
}

type memRoles memStore

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.ServiceID == role.ServiceID && existing.Name == role.Name {
			return ErrConflict
		}
	}
	if _, ok := m.services[role.ServiceID]; !ok {
		return ErrNotFound
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (m *memRoles) FindByName(_ context.Context, serviceID, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range m.roles {
		if role.ServiceID == serviceID && role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) ListByService(_ context.Context, serviceID string) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Role
	for _, role := range m.roles {
		if role.ServiceID == serviceID {
			cp := *role
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRoles) Update(_ context.Context, id string, upd RoleUpdate) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		for _, other := range m.roles {
			if other.ID != id && other.ServiceID == role.ServiceID && other.Name == *upd.Name {
				return nil, ErrConflict
			}
		}
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	role.UpdatedAt = time.Now()
	cp := *role
	return &cp, nil
}

func (m *memRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	kept := m.grants[:0]
	for _, g := range m.grants {
		if g.RoleID != id {
			kept = append(kept, g)
		}
	}
	m.grants = kept
	return nil
}

func (m *memRoles) Assign(_ context.Context, grant Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.grants {
		if g.UserID == grant.UserID && g.ServiceID == grant.ServiceID && g.RoleID == grant.RoleID {
			return ErrConflict
		}
	}
	grant.CreatedAt = time.Now()
	m.grants = append(m.grants, grant)
	return nil
}

func (m *memRoles) Unassign(_ context.Context, userID, serviceID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, g := range m.grants {
		if g.UserID == userID && g.ServiceID == serviceID && g.RoleID == roleID {
			m.grants = append(m.grants[:i], m.grants[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRoles) RolesForUser(_ context.Context, userID, serviceID string) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Role
	for _, g := range m.grants {
		if g.UserID != userID || g.ServiceID != serviceID {
			continue
		}
		if role, ok := m.roles[g.RoleID]; ok {
			cp := *role
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRoles) GrantsForUser(_ context.Context, userID string) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Grant
	for _, g := range m.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

type memPerms memStore

func (m *memPerms) Ensure(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.perms[p.Name]; !ok {
			p.CreatedAt = time.Now()
			m.perms[p.Name] = p
		}
	}
	return nil
}

func (m *memPerms) List(context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPerms) FindByName(_ context.Context, name string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *memPerms) SetForRole(_ context.Context, roleID string, permNames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	next := make(map[string]struct{}, len(permNames))
	for _, name := range permNames {
		if _, ok := m.perms[name]; !ok {
			return ErrNotFound
		}
		next[name] = struct{}{}
	}
	m.rolePerms[roleID] = next
	return nil
}

func (m *memPerms) ForRole(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for name := range m.rolePerms[roleID] {
		out = append(out, m.perms[name])
	}
	return out, nil
}

func (m *memPerms) NamesForUser(_ context.Context, userID, serviceID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, g := range m.grants {
		if g.UserID != userID || g.ServiceID != serviceID {
			continue
		}
		for name := range m.rolePerms[g.RoleID] {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out, nil
}

type memTokens memStore

func (m *memTokens) Create(_ context.Context, tok *AppToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tokens {
		if existing.Secret == tok.Secret {
			return ErrConflict
		}
	}
	cp := *tok
	cp.CreatedAt = time.Now()
	m.tokens[tok.ID] = &cp
	return nil
}

func (m *memTokens) Find(_ context.Context, id string) (*AppToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memTokens) FindBySecret(_ context.Context, secret string) (*AppToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.tokens {
		if tok.Secret == secret {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memTokens) ListByService(_ context.Context, serviceID string) ([]*AppToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AppToken
	for _, tok := range m.tokens {
		if tok.ServiceID == serviceID {
			cp := *tok
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTokens) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Active = active
	return nil
}

func (m *memTokens) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.LastUsed = at
	return nil
}

func (m *memTokens) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[id]; !ok {
		return ErrNotFound
	}
	delete(m.tokens, id)
	return nil
}
