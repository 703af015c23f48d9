package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"authgrid.org/internal/ids"
	"authgrid.org/internal/obs"
)

// RBAC answers authorization questions and administers the service, role
// and grant catalog. All identifiers crossing its boundary are public ids;
// internal row ids stay behind the store.
type RBAC struct {
	store Store
	log   *slog.Logger
}

// NewRBAC constructs the authorization engine over the given store.
func NewRBAC(store Store) *RBAC {
	return &RBAC{
		store: store,
		log:   obs.Component("rbac"),
	}
}

// CreateService registers a new tenant service with its three standard
// roles (admin, user, readonly). The roles are created in the same
// transaction as the service.
func (r *RBAC) CreateService(ctx context.Context, name, description string) (*Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: service name is required", ErrInvalidInput)
	}

	svc := &Service{
		ID:          ids.New(),
		PublicID:    uuid.NewString(),
		Name:        name,
		Description: description,
		Active:      true,
	}
	roles := make([]*Role, 0, len(defaultServiceRoles))
	for _, tmpl := range defaultServiceRoles {
		roles = append(roles, &Role{
			ID:          ids.New(),
			ServiceID:   svc.ID,
			Name:        tmpl.Name,
			Description: tmpl.Description,
			Default:     tmpl.Default,
		})
	}
	if err := r.store.Services(ctx).Create(ctx, svc, roles); err != nil {
		return nil, fmt.Errorf("create service %q: %w", name, err)
	}
	r.log.Info("service created", "service", name, "service_id", svc.PublicID)
	return svc, nil
}

// GetService resolves a service by its public id.
func (r *RBAC) GetService(ctx context.Context, publicID string) (*Service, error) {
	return r.store.Services(ctx).FindByPublicID(ctx, publicID)
}

// GetServiceByName resolves a service by its unique name.
func (r *RBAC) GetServiceByName(ctx context.Context, name string) (*Service, error) {
	return r.store.Services(ctx).FindByName(ctx, name)
}

// ListServices returns every registered service.
func (r *RBAC) ListServices(ctx context.Context) ([]*Service, error) {
	return r.store.Services(ctx).List(ctx)
}

// ServicesForUser returns the services in which the user holds at least one
// role.
func (r *RBAC) ServicesForUser(ctx context.Context, userPublicID string) ([]*Service, error) {
	user, err := r.store.Users(ctx).FindByPublicID(ctx, userPublicID)
	if err != nil {
		return nil, err
	}
	return r.store.Services(ctx).ListForUser(ctx, user.ID)
}

// UpdateService applies a partial update. The auth service's own name is
// immutable; renaming it would orphan its protection.
func (r *RBAC) UpdateService(ctx context.Context, publicID string, upd ServiceUpdate) (*Service, error) {
	svc, err := r.store.Services(ctx).FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if svc.Name == AuthServiceName && upd.Name != nil && *upd.Name != AuthServiceName {
		return nil, fmt.Errorf("%w: the %s service cannot be renamed", ErrForbidden, AuthServiceName)
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: service name cannot be empty", ErrInvalidInput)
	}
	return r.store.Services(ctx).Update(ctx, svc.ID, upd)
}

// DeleteService removes a service with everything under it: roles, their
// permission edges, grants and app tokens. The auth service itself is
// protected.
func (r *RBAC) DeleteService(ctx context.Context, publicID string) error {
	svc, err := r.store.Services(ctx).FindByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if svc.Name == AuthServiceName {
		return fmt.Errorf("%w: the %s service cannot be deleted", ErrForbidden, AuthServiceName)
	}
	if err := r.store.Services(ctx).Delete(ctx, svc.ID); err != nil {
		return err
	}
	r.log.Info("service deleted", "service", svc.Name, "service_id", svc.PublicID)
	return nil
}

// CreateRole adds a role to a service, optionally with an initial
// permission set. Role names are unique within their service.
func (r *RBAC) CreateRole(ctx context.Context, servicePublicID, name, description string, permNames []string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	svc, err := r.store.Services(ctx).FindByPublicID(ctx, servicePublicID)
	if err != nil {
		return nil, err
	}

	role := &Role{
		ID:          ids.New(),
		ServiceID:   svc.ID,
		Name:        name,
		Description: description,
	}
	if err := r.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, fmt.Errorf("create role %q in service %q: %w", name, svc.Name, err)
	}
	if len(permNames) > 0 {
		if err := r.store.Permissions(ctx).SetForRole(ctx, role.ID, permNames); err != nil {
			return nil, err
		}
	}
	return role, nil
}

// GetRole resolves a role by id.
func (r *RBAC) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return r.store.Roles(ctx).Find(ctx, roleID)
}

// ListRoles returns the roles of a service with their permission names.
func (r *RBAC) ListRoles(ctx context.Context, servicePublicID string) ([]RoleView, error) {
	svc, err := r.store.Services(ctx).FindByPublicID(ctx, servicePublicID)
	if err != nil {
		return nil, err
	}
	roles, err := r.store.Roles(ctx).ListByService(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	out := make([]RoleView, 0, len(roles))
	for _, role := range roles {
		view, err := r.roleView(ctx, role)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// RoleView projects a role with its attached permission names.
func (r *RBAC) RoleView(ctx context.Context, roleID string) (RoleView, error) {
	role, err := r.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return RoleView{}, err
	}
	return r.roleView(ctx, role)
}

func (r *RBAC) roleView(ctx context.Context, role *Role) (RoleView, error) {
	perms, err := r.store.Permissions(ctx).ForRole(ctx, role.ID)
	if err != nil {
		return RoleView{}, err
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return RoleView{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Default:     role.Default,
		Permissions: names,
	}, nil
}

// UpdateRole applies a partial update to a role's name or description.
func (r *RBAC) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (*Role, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: role name cannot be empty", ErrInvalidInput)
	}
	return r.store.Roles(ctx).Update(ctx, roleID, upd)
}

// SetRolePermissions replaces the role's permission set. Unknown permission
// names fail the whole operation; no partial attachment survives.
func (r *RBAC) SetRolePermissions(ctx context.Context, roleID string, permNames []string) (RoleView, error) {
	role, err := r.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return RoleView{}, err
	}
	if err := r.store.Permissions(ctx).SetForRole(ctx, role.ID, permNames); err != nil {
		return RoleView{}, err
	}
	return r.roleView(ctx, role)
}

// DeleteRole removes a role. Default roles are protected so every service
// always has a role to place new members into.
func (r *RBAC) DeleteRole(ctx context.Context, roleID string) error {
	role, err := r.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Default {
		return fmt.Errorf("%w: default role %q cannot be deleted", ErrForbidden, role.Name)
	}
	return r.store.Roles(ctx).Delete(ctx, roleID)
}

// ListPermissions returns the global permission catalog.
func (r *RBAC) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.store.Permissions(ctx).List(ctx)
}

// AssignRole grants the user the given role within its service. Assigning a
// role the user already holds is a conflict; a role id from a different
// service than the one addressed is invalid input.
func (r *RBAC) AssignRole(ctx context.Context, userPublicID, servicePublicID, roleID string) error {
	user, err := r.store.Users(ctx).FindByPublicID(ctx, userPublicID)
	if err != nil {
		return err
	}
	svc, err := r.store.Services(ctx).FindByPublicID(ctx, servicePublicID)
	if err != nil {
		return err
	}
	role, err := r.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.ServiceID != svc.ID {
		return fmt.Errorf("%w: role %q does not belong to service %q", ErrInvalidInput, role.Name, svc.Name)
	}
	if err := r.store.Roles(ctx).Assign(ctx, Grant{UserID: user.ID, ServiceID: svc.ID, RoleID: role.ID}); err != nil {
		return err
	}
	r.log.Info("role assigned", "user_id", user.PublicID, "service", svc.Name, "role", role.Name)
	return nil
}

// RemoveRole revokes a role the user holds within a service. Revoking an
// unheld role reports not found.
func (r *RBAC) RemoveRole(ctx context.Context, userPublicID, servicePublicID, roleID string) error {
	user, err := r.store.Users(ctx).FindByPublicID(ctx, userPublicID)
	if err != nil {
		return err
	}
	svc, err := r.store.Services(ctx).FindByPublicID(ctx, servicePublicID)
	if err != nil {
		return err
	}
	return r.store.Roles(ctx).Unassign(ctx, user.ID, svc.ID, roleID)
}

// RolesForUser returns the roles the user holds within one service.
func (r *RBAC) RolesForUser(ctx context.Context, userPublicID, servicePublicID string) ([]RoleView, error) {
	user, err := r.store.Users(ctx).FindByPublicID(ctx, userPublicID)
	if err != nil {
		return nil, err
	}
	svc, err := r.store.Services(ctx).FindByPublicID(ctx, servicePublicID)
	if err != nil {
		return nil, err
	}
	roles, err := r.store.Roles(ctx).RolesForUser(ctx, user.ID, svc.ID)
	if err != nil {
		return nil, err
	}
	out := make([]RoleView, 0, len(roles))
	for _, role := range roles {
		view, err := r.roleView(ctx, role)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// HasPermission reports whether the user holds the named permission within
// the service, via any of their roles. Matching is exact.
func (r *RBAC) HasPermission(ctx context.Context, userPublicID, permName, servicePublicID string) (bool, error) {
	user, err := r.store.Users(ctx).FindByPublicID(ctx, userPublicID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	svc, err := r.store.Services(ctx).FindByPublicID(ctx, servicePublicID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	names, err := r.store.Permissions(ctx).NamesForUser(ctx, user.ID, svc.ID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == permName {
			return true, nil
		}
	}
	return false, nil
}

// PrincipalFor resolves the authenticated principal for a user within the
// named service scope, defaulting to the auth service's own scope.
func (r *RBAC) PrincipalFor(ctx context.Context, user *User, serviceName string) (Principal, error) {
	if serviceName == "" {
		serviceName = AuthServiceName
	}
	svc, err := r.store.Services(ctx).FindByName(ctx, serviceName)
	if err != nil {
		return Principal{}, err
	}
	names, err := r.store.Permissions(ctx).NamesForUser(ctx, user.ID, svc.ID)
	if err != nil {
		return Principal{}, err
	}
	perms := make(map[string]struct{}, len(names))
	for _, n := range names {
		perms[n] = struct{}{}
	}
	return Principal{User: user, ServiceID: svc.PublicID, Permissions: perms}, nil
}

// EnsureMembership places the user into the service's default role if they
// hold no role there yet. Used when accounts register or arrive through an
// identity provider.
func (r *RBAC) EnsureMembership(ctx context.Context, userID, serviceName string) error {
	svc, err := r.store.Services(ctx).FindByName(ctx, serviceName)
	if err != nil {
		return err
	}
	held, err := r.store.Roles(ctx).RolesForUser(ctx, userID, svc.ID)
	if err != nil {
		return err
	}
	if len(held) > 0 {
		return nil
	}

	roles, err := r.store.Roles(ctx).ListByService(ctx, svc.ID)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if !role.Default {
			continue
		}
		err := r.store.Roles(ctx).Assign(ctx, Grant{UserID: userID, ServiceID: svc.ID, RoleID: role.ID})
		if errors.Is(err, ErrConflict) {
			return nil
		}
		return err
	}
	return fmt.Errorf("%w: service %q has no default role", ErrNotFound, serviceName)
}
