package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"authgrid.org/internal/ids"
)

// Bootstrap provisions the fixed administrative catalog: the canonical
// permissions, the auth service itself and its built-in roles with their
// permission sets. It is idempotent and safe to run on every startup;
// reruns create only what is missing and never touch existing rows.
func (r *RBAC) Bootstrap(ctx context.Context) error {
	if err := r.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions); err != nil {
		return fmt.Errorf("bootstrap permissions: %w", err)
	}

	svc, err := r.store.Services(ctx).FindByName(ctx, AuthServiceName)
	if errors.Is(err, ErrNotFound) {
		svc = &Service{
			ID:          ids.New(),
			PublicID:    uuid.NewString(),
			Name:        AuthServiceName,
			Description: "Authentication and authorization service",
			Active:      true,
		}
		if err := r.store.Services(ctx).Create(ctx, svc, nil); err != nil {
			return fmt.Errorf("bootstrap %s: %w", AuthServiceName, err)
		}
		r.log.Info("auth service provisioned", "service_id", svc.PublicID)
	} else if err != nil {
		return fmt.Errorf("bootstrap %s: %w", AuthServiceName, err)
	}

	for _, tmpl := range builtinRoles {
		// Existing roles keep whatever permission set administrators have
		// given them; the canonical set only applies on first creation.
		_, err := r.store.Roles(ctx).FindByName(ctx, svc.ID, tmpl.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("bootstrap role %q: %w", tmpl.Name, err)
		}
		role := &Role{
			ID:          ids.New(),
			ServiceID:   svc.ID,
			Name:        tmpl.Name,
			Description: tmpl.Description,
			Default:     tmpl.Default,
		}
		if err := r.store.Roles(ctx).Create(ctx, role); err != nil {
			return fmt.Errorf("bootstrap role %q: %w", tmpl.Name, err)
		}
		if err := r.store.Permissions(ctx).SetForRole(ctx, role.ID, tmpl.Permissions); err != nil {
			return fmt.Errorf("bootstrap role %q permissions: %w", tmpl.Name, err)
		}
	}
	return nil
}

// GrantAdmin gives the user behind the email the auth service's admin role.
// It backs the bootstrap-admin setting: without it a fresh deployment has no
// account that can reach the guarded administration endpoints. An
// already-held grant is a no-op; an unknown email reports ErrNotFound so the
// caller can tell the operator to register the account first.
func (r *RBAC) GrantAdmin(ctx context.Context, email string) error {
	user, err := r.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("grant admin to %q: %w", email, err)
	}
	svc, err := r.store.Services(ctx).FindByName(ctx, AuthServiceName)
	if err != nil {
		return fmt.Errorf("grant admin: %w", err)
	}
	role, err := r.store.Roles(ctx).FindByName(ctx, svc.ID, "admin")
	if err != nil {
		return fmt.Errorf("grant admin: %w", err)
	}
	err = r.store.Roles(ctx).Assign(ctx, Grant{UserID: user.ID, ServiceID: svc.ID, RoleID: role.ID})
	if errors.Is(err, ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("grant admin to %q: %w", email, err)
	}
	r.log.Info("admin role granted", "user_id", user.PublicID)
	return nil
}
