package auth

import "time"

// AuthServiceName is the distinguished tenant representing this service's own
// administrative scope. It is provisioned at bootstrap and can never be
// deleted.
const AuthServiceName = "auth_service"

// User is a human identity. The internal ID never leaves the process; the
// PublicID is the only identifier embedded in tokens and API responses.
type User struct {
	ID                string
	PublicID          string
	Email             string
	PasswordHash      string
	FirstName         string
	LastName          string
	Active            bool
	EmailVerified     bool
	VerificationToken string
	ResetToken        string
	ResetExpires      time.Time
	GoogleID          string
	MicrosoftID       string
	DiscordID         string
	LastLogin         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SetPassword hashes plaintext into the user's PasswordHash. There is
// deliberately no corresponding getter: the hash is write-only on the entity
// and excluded from every projection.
func (u *User) SetPassword(plaintext string) error {
	hash, err := HashPassword(plaintext)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

// CheckPassword reports whether plaintext matches the stored hash.
func (u *User) CheckPassword(plaintext string) bool {
	return VerifyPassword(u.PasswordHash, plaintext) == nil
}

// UserView is the public projection of a User.
type UserView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Active        bool       `json:"is_active"`
	EmailVerified bool       `json:"is_email_verified"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// View returns the user's public projection. Password hashes, one-time tokens
// and the internal row ID are never included.
func (u *User) View() UserView {
	v := UserView{
		ID:            u.PublicID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Active:        u.Active,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
	if !u.LastLogin.IsZero() {
		t := u.LastLogin
		v.LastLogin = &t
	}
	return v
}

// Service is a downstream tenant: a named scope under which roles and role
// assignments live.
type Service struct {
	ID          string
	PublicID    string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ServiceView is the public projection of a Service.
type ServiceView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Service) View() ServiceView {
	return ServiceView{
		ID:          s.PublicID,
		Name:        s.Name,
		Description: s.Description,
		Active:      s.Active,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Role belongs to exactly one Service. Names are unique within a service.
// Default roles are auto-assigned to new members and protected from deletion.
type Role struct {
	ID          string
	ServiceID   string
	Name        string
	Description string
	Default     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a globally unique capability name such as "role:write".
// Permissions have no service affinity of their own; they attach to roles.
type Permission struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Grant ties one user to one role within one service. The
// (user, service, role) triple is unique.
type Grant struct {
	UserID    string
	ServiceID string
	RoleID    string
	CreatedAt time.Time
}

// AppToken is a long-lived machine-to-machine credential scoped to a single
// service. It authenticates the service, not a user.
type AppToken struct {
	ID        string
	ServiceID string
	Name      string
	Secret    string
	Active    bool
	ExpiresAt time.Time
	LastUsed  time.Time
	CreatedAt time.Time
}

// Valid reports whether the token is active and unexpired at now.
func (t *AppToken) Valid(now time.Time) bool {
	if !t.Active {
		return false
	}
	if !t.ExpiresAt.IsZero() && !t.ExpiresAt.After(now) {
		return false
	}
	return true
}

// AppTokenView is the public projection of an AppToken. The secret is
// omitted; it is revealed exactly once, at creation time.
type AppTokenView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	ServiceID string     `json:"service_id"`
	Active    bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// View returns the token's public projection keyed by the owning service's
// public identifier.
func (t *AppToken) View(servicePublicID string) AppTokenView {
	v := AppTokenView{
		ID:        t.ID,
		Name:      t.Name,
		ServiceID: servicePublicID,
		Active:    t.Active,
		CreatedAt: t.CreatedAt,
	}
	if !t.ExpiresAt.IsZero() {
		e := t.ExpiresAt
		v.ExpiresAt = &e
	}
	if !t.LastUsed.IsZero() {
		l := t.LastUsed
		v.LastUsed = &l
	}
	return v
}

// RoleView is the public projection of a Role with its attached permissions.
type RoleView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Default     bool     `json:"is_default"`
	Permissions []string `json:"permissions"`
}
