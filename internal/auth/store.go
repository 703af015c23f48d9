package auth

import (
	"context"
	"time"
)

// Store describes the durable persistence operations the auth subsystem
// requires. Implementations map sentinel errors: uniqueness violations to
// ErrConflict, missing rows and broken references to ErrNotFound.
type Store interface {
	Users(ctx context.Context) UserStore
	Services(ctx context.Context) ServiceStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	AppTokens(ctx context.Context) AppTokenStore
}

// UserStore manages user rows and their one-time tokens.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByPublicID(ctx context.Context, publicID string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByVerificationToken(ctx context.Context, token string) (*User, error)
	FindByResetToken(ctx context.Context, token string) (*User, error)
	FindByProvider(ctx context.Context, p Provider, subjectID string) (*User, error)
	LinkProvider(ctx context.Context, userID string, p Provider, subjectID string) error

	// MarkEmailVerified flips the verified flag and clears the one-time
	// verification token in a single statement.
	MarkEmailVerified(ctx context.Context, userID string) error
	// SetPasswordHash replaces the password hash and clears any pending
	// reset token in a single statement.
	SetPasswordHash(ctx context.Context, userID, hash string) error
	SetResetToken(ctx context.Context, userID, token string, expires time.Time) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	SetActive(ctx context.Context, userID string, active bool) error
}

// ServiceStore manages tenant services.
type ServiceStore interface {
	// Create inserts the service and any provided roles in one transaction,
	// so a failure midway never leaves a service without its default roles.
	Create(ctx context.Context, svc *Service, roles []*Role) error
	Find(ctx context.Context, id string) (*Service, error)
	FindByPublicID(ctx context.Context, publicID string) (*Service, error)
	FindByName(ctx context.Context, name string) (*Service, error)
	List(ctx context.Context) ([]*Service, error)
	ListForUser(ctx context.Context, userID string) ([]*Service, error)
	Update(ctx context.Context, id string, upd ServiceUpdate) (*Service, error)
	// Delete removes the service; roles, role-permission edges, grants and
	// app tokens cascade at the schema level.
	Delete(ctx context.Context, id string) error
}

// ServiceUpdate is a partial update; nil fields are left untouched.
type ServiceUpdate struct {
	Name        *string
	Description *string
	Active      *bool
}

// RoleStore manages roles and user-service-role grants.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, serviceID, name string) (*Role, error)
	ListByService(ctx context.Context, serviceID string) ([]*Role, error)
	Update(ctx context.Context, id string, upd RoleUpdate) (*Role, error)
	Delete(ctx context.Context, id string) error

	Assign(ctx context.Context, grant Grant) error
	Unassign(ctx context.Context, userID, serviceID, roleID string) error
	RolesForUser(ctx context.Context, userID, serviceID string) ([]*Role, error)
	GrantsForUser(ctx context.Context, userID string) ([]Grant, error)
}

// RoleUpdate is a partial update; nil fields are left untouched.
type RoleUpdate struct {
	Name        *string
	Description *string
}

// PermissionStore manages the global permission catalog and its attachment
// to roles.
type PermissionStore interface {
	// Ensure inserts any missing permissions, skipping existing names.
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	FindByName(ctx context.Context, name string) (*Permission, error)
	// SetForRole replaces the role's permission set in one transaction.
	SetForRole(ctx context.Context, roleID string, permNames []string) error
	ForRole(ctx context.Context, roleID string) ([]Permission, error)
	// NamesForUser resolves the distinct permission names reachable through
	// the user's role grants within one service.
	NamesForUser(ctx context.Context, userID, serviceID string) ([]string, error)
}

// AppTokenStore manages machine-to-machine credentials.
type AppTokenStore interface {
	Create(ctx context.Context, tok *AppToken) error
	Find(ctx context.Context, id string) (*AppToken, error)
	FindBySecret(ctx context.Context, secret string) (*AppToken, error)
	ListByService(ctx context.Context, serviceID string) ([]*AppToken, error)
	SetActive(ctx context.Context, id string, active bool) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}
