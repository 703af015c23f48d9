package httpapi

import (
	"context"
	"sync"
	"time"

	"authgrid.org/internal/auth"
)

// fakeStore is an in-memory auth.Store for handler tests. It keeps the
// Postgres store's contract: sentinel errors for missing rows and
// uniqueness violations, cascades on service deletion.
type fakeStore struct {
	mu        sync.Mutex
	users     map[string]*auth.User
	services  map[string]*auth.Service
	roles     map[string]*auth.Role
	perms     map[string]auth.Permission
	rolePerms map[string]map[string]struct{}
	grants    []auth.Grant
	tokens    map[string]*auth.AppToken
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]*auth.User),
		services:  make(map[string]*auth.Service),
		roles:     make(map[string]*auth.Role),
		perms:     make(map[string]auth.Permission),
		rolePerms: make(map[string]map[string]struct{}),
		tokens:    make(map[string]*auth.AppToken),
	}
}

func (f *fakeStore) Users(context.Context) auth.UserStore             { return (*fakeUsers)(f) }
func (f *fakeStore) Services(context.Context) auth.ServiceStore       { return (*fakeServices)(f) }
func (f *fakeStore) Roles(context.Context) auth.RoleStore             { return (*fakeRoles)(f) }
func (f *fakeStore) Permissions(context.Context) auth.PermissionStore { return (*fakePerms)(f) }
func (f *fakeStore) AppTokens(context.Context) auth.AppTokenStore     { return (*fakeTokens)(f) }

// userByEmail lets tests read one-time tokens the mailer would deliver.
func (f *fakeStore) userByEmail(email string) *auth.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp
		}
	}
	return nil
}

type fakeUsers fakeStore

func (f *fakeUsers) Create(_ context.Context, u *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return auth.ErrConflict
		}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUsers) Find(_ context.Context, id string) (*auth.User, error) {
	return f.findWhere(func(u *auth.User) bool { return u.ID == id })
}

func (f *fakeUsers) findWhere(match func(*auth.User) bool) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeUsers) FindByPublicID(_ context.Context, publicID string) (*auth.User, error) {
	return f.findWhere(func(u *auth.User) bool { return u.PublicID == publicID })
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	return f.findWhere(func(u *auth.User) bool { return u.Email == email })
}

func (f *fakeUsers) FindByVerificationToken(_ context.Context, tok string) (*auth.User, error) {
	return f.findWhere(func(u *auth.User) bool { return tok != "" && u.VerificationToken == tok })
}

func (f *fakeUsers) FindByResetToken(_ context.Context, tok string) (*auth.User, error) {
	return f.findWhere(func(u *auth.User) bool { return tok != "" && u.ResetToken == tok })
}

func (f *fakeUsers) FindByProvider(_ context.Context, p auth.Provider, subjectID string) (*auth.User, error) {
	return f.findWhere(func(u *auth.User) bool { return subjectID != "" && p.SubjectID(u) == subjectID })
}

func (f *fakeUsers) mutate(id string, fn func(*auth.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (f *fakeUsers) LinkProvider(_ context.Context, userID string, p auth.Provider, subjectID string) error {
	return f.mutate(userID, func(u *auth.User) { p.SetSubjectID(u, subjectID) })
}

func (f *fakeUsers) MarkEmailVerified(_ context.Context, userID string) error {
	return f.mutate(userID, func(u *auth.User) {
		u.EmailVerified = true
		u.VerificationToken = ""
	})
}

func (f *fakeUsers) SetPasswordHash(_ context.Context, userID, hash string) error {
	return f.mutate(userID, func(u *auth.User) {
		u.PasswordHash = hash
		u.ResetToken = ""
		u.ResetExpires = time.Time{}
	})
}

func (f *fakeUsers) SetResetToken(_ context.Context, userID, tok string, expires time.Time) error {
	return f.mutate(userID, func(u *auth.User) {
		u.ResetToken = tok
		u.ResetExpires = expires
	})
}

func (f *fakeUsers) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	return f.mutate(userID, func(u *auth.User) { u.LastLogin = at })
}

func (f *fakeUsers) SetActive(_ context.Context, userID string, active bool) error {
	return f.mutate(userID, func(u *auth.User) { u.Active = active })
}

type fakeServices fakeStore

func (f *fakeServices) Create(_ context.Context, svc *auth.Service, roles []*auth.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.services {
		if existing.Name == svc.Name {
			return auth.ErrConflict
		}
	}
	cp := *svc
	cp.CreatedAt = time.Now()
	f.services[svc.ID] = &cp
	for _, role := range roles {
		rcp := *role
		f.roles[role.ID] = &rcp
	}
	return nil
}

func (f *fakeServices) Find(_ context.Context, id string) (*auth.Service, error) {
	return f.findWhere(func(s *auth.Service) bool { return s.ID == id })
}

func (f *fakeServices) findWhere(match func(*auth.Service) bool) (*auth.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, svc := range f.services {
		if match(svc) {
			cp := *svc
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeServices) FindByPublicID(_ context.Context, publicID string) (*auth.Service, error) {
	return f.findWhere(func(s *auth.Service) bool { return s.PublicID == publicID })
}

func (f *fakeServices) FindByName(_ context.Context, name string) (*auth.Service, error) {
	return f.findWhere(func(s *auth.Service) bool { return s.Name == name })
}

func (f *fakeServices) List(context.Context) ([]*auth.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*auth.Service, 0, len(f.services))
	for _, svc := range f.services {
		cp := *svc
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeServices) ListForUser(_ context.Context, userID string) ([]*auth.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var out []*auth.Service
	for _, g := range f.grants {
		if g.UserID != userID || seen[g.ServiceID] {
			continue
		}
		seen[g.ServiceID] = true
		if svc, ok := f.services[g.ServiceID]; ok {
			cp := *svc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeServices) Update(_ context.Context, id string, upd auth.ServiceUpdate) (*auth.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[id]
	if !ok {
		return nil, auth.ErrNotFound
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

func (f *fakeServices) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.services[id]; !ok {
		return auth.ErrNotFound
	}
	delete(f.services, id)
	for rid, role := range f.roles {
		if role.ServiceID == id {
			delete(f.roles, rid)
			delete(f.rolePerms, rid)
		}
	}
	kept := f.grants[:0]
	for _, g := range f.grants {
		if g.ServiceID != id {
			kept = append(kept, g)
		}
	}
	f.grants = kept
	for tid, tok := range f.tokens {
		if tok.ServiceID == id {
			delete(f.tokens, tid)
		}
	}
	return nil
}

type fakeRoles fakeStore

func (f *fakeRoles) Create(_ context.Context, role *auth.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.roles {
		if existing.ServiceID == role.ServiceID && existing.Name == role.Name {
			return auth.ErrConflict
		}
	}
	if _, ok := f.services[role.ServiceID]; !ok {
		return auth.ErrNotFound
	}
	cp := *role
	f.roles[role.ID] = &cp
	return nil
}

func (f *fakeRoles) Find(_ context.Context, id string) (*auth.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (f *fakeRoles) FindByName(_ context.Context, serviceID, name string) (*auth.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, role := range f.roles {
		if role.ServiceID == serviceID && role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeRoles) ListByService(_ context.Context, serviceID string) ([]*auth.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*auth.Role
	for _, role := range f.roles {
		if role.ServiceID == serviceID {
			cp := *role
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRoles) Update(_ context.Context, id string, upd auth.RoleUpdate) (*auth.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Name != nil {
		for _, other := range f.roles {
			if other.ID != id && other.ServiceID == role.ServiceID && other.Name == *upd.Name {
				return nil, auth.ErrConflict
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

func (f *fakeRoles) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(f.roles, id)
	delete(f.rolePerms, id)
	kept := f.grants[:0]
	for _, g := range f.grants {
		if g.RoleID != id {
			kept = append(kept, g)
		}
	}
	f.grants = kept
	return nil
}

func (f *fakeRoles) Assign(_ context.Context, grant auth.Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.UserID == grant.UserID && g.ServiceID == grant.ServiceID && g.RoleID == grant.RoleID {
			return auth.ErrConflict
		}
	}
	grant.CreatedAt = time.Now()
	f.grants = append(f.grants, grant)
	return nil
}

func (f *fakeRoles) Unassign(_ context.Context, userID, serviceID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, g := range f.grants {
		if g.UserID == userID && g.ServiceID == serviceID && g.RoleID == roleID {
			f.grants = append(f.grants[:i], f.grants[i+1:]...)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (f *fakeRoles) RolesForUser(_ context.Context, userID, serviceID string) ([]*auth.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*auth.Role
	for _, g := range f.grants {
		if g.UserID != userID || g.ServiceID != serviceID {
			continue
		}
		if role, ok := f.roles[g.RoleID]; ok {
			cp := *role
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRoles) GrantsForUser(_ context.Context, userID string) ([]auth.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []auth.Grant
	for _, g := range f.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakePerms fakeStore

func (f *fakePerms) Ensure(_ context.Context, perms []auth.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range perms {
		if _, ok := f.perms[p.Name]; !ok {
			p.CreatedAt = time.Now()
			f.perms[p.Name] = p
		}
	}
	return nil
}

func (f *fakePerms) List(context.Context) ([]auth.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]auth.Permission, 0, len(f.perms))
	for _, p := range f.perms {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePerms) FindByName(_ context.Context, name string) (*auth.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.perms[name]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &p, nil
}

func (f *fakePerms) SetForRole(_ context.Context, roleID string, permNames []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	next := make(map[string]struct{}, len(permNames))
	for _, name := range permNames {
		if _, ok := f.perms[name]; !ok {
			return auth.ErrNotFound
		}
		next[name] = struct{}{}
	}
	f.rolePerms[roleID] = next
	return nil
}

func (f *fakePerms) ForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []auth.Permission
	for name := range f.rolePerms[roleID] {
		out = append(out, f.perms[name])
	}
	return out, nil
}

func (f *fakePerms) NamesForUser(_ context.Context, userID, serviceID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	for _, g := range f.grants {
		if g.UserID != userID || g.ServiceID != serviceID {
			continue
		}
		for name := range f.rolePerms[g.RoleID] {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out, nil
}

type fakeTokens fakeStore

func (f *fakeTokens) Create(_ context.Context, tok *auth.AppToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.tokens {
		if existing.Secret == tok.Secret {
			return auth.ErrConflict
		}
	}
	cp := *tok
	cp.CreatedAt = time.Now()
	f.tokens[tok.ID] = &cp
	return nil
}

func (f *fakeTokens) Find(_ context.Context, id string) (*auth.AppToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (f *fakeTokens) FindBySecret(_ context.Context, secret string) (*auth.AppToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.tokens {
		if tok.Secret == secret {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeTokens) ListByService(_ context.Context, serviceID string) ([]*auth.AppToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*auth.AppToken
	for _, tok := range f.tokens {
		if tok.ServiceID == serviceID {
			cp := *tok
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTokens) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	tok.Active = active
	return nil
}

func (f *fakeTokens) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	tok.LastUsed = at
	return nil
}

func (f *fakeTokens) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[id]; !ok {
		return auth.ErrNotFound
	}
	delete(f.tokens, id)
	return nil
}
