package auth

// Canonical permission names for the auth service's own administrative scope.
const (
	PermUserRead      = "user:read"
	PermUserWrite     = "user:write"
	PermUserDelete    = "user:delete"
	PermRoleRead      = "role:read"
	PermRoleWrite     = "role:write"
	PermRoleDelete    = "role:delete"
	PermServiceRead   = "service:read"
	PermServiceWrite  = "service:write"
	PermServiceDelete = "service:delete"
	PermTokenRead     = "token:read"
	PermTokenWrite    = "token:write"
	PermTokenDelete   = "token:delete"
)

// BuiltinPermissions is the canonical catalog ensured at bootstrap.
var BuiltinPermissions = []Permission{
	{Name: PermUserRead, Description: "Read user information"},
	{Name: PermUserWrite, Description: "Create and update users"},
	{Name: PermUserDelete, Description: "Delete users"},
	{Name: PermRoleRead, Description: "Read roles and permissions"},
	{Name: PermRoleWrite, Description: "Create and update roles and permissions"},
	{Name: PermRoleDelete, Description: "Delete roles"},
	{Name: PermServiceRead, Description: "Read service information"},
	{Name: PermServiceWrite, Description: "Create and update services"},
	{Name: PermServiceDelete, Description: "Delete services"},
	{Name: PermTokenRead, Description: "Read tokens"},
	{Name: PermTokenWrite, Description: "Create and update tokens"},
	{Name: PermTokenDelete, Description: "Delete tokens"},
}

// builtinRoles are the administrative roles provisioned for the auth service
// itself. readonly is the default role for new members.
var builtinRoles = []struct {
	Name        string
	Description string
	Default     bool
	Permissions []string
}{
	{
		Name:        "admin",
		Description: "Administrator with full access",
		Permissions: []string{
			PermUserRead, PermUserWrite, PermUserDelete,
			PermRoleRead, PermRoleWrite, PermRoleDelete,
			PermServiceRead, PermServiceWrite, PermServiceDelete,
			PermTokenRead, PermTokenWrite, PermTokenDelete,
		},
	},
	{
		Name:        "user_manager",
		Description: "Can manage users",
		Permissions: []string{PermUserRead, PermUserWrite, PermUserDelete},
	},
	{
		Name:        "service_manager",
		Description: "Can manage services",
		Permissions: []string{PermServiceRead, PermServiceWrite},
	},
	{
		Name:        "token_manager",
		Description: "Can manage tokens",
		Permissions: []string{PermTokenRead, PermTokenWrite, PermTokenDelete},
	},
	{
		Name:        "readonly",
		Description: "Read-only access",
		Default:     true,
		Permissions: []string{PermUserRead, PermRoleRead, PermServiceRead, PermTokenRead},
	},
}

// defaultServiceRoles are provisioned for every newly created tenant service.
// They carry no permissions until an administrator attaches some.
var defaultServiceRoles = []struct {
	Name        string
	Description string
	Default     bool
}{
	{Name: "admin", Description: "Administrator with full access to this service"},
	{Name: "user", Description: "Regular user of this service", Default: true},
	{Name: "readonly", Description: "Read-only access to this service"},
}
