package auth

import "errors"

var (
	// ErrNotFound signals the referenced entity does not exist.
	ErrNotFound = errors.New("auth: not found")
	// ErrConflict signals a uniqueness violation.
	ErrConflict = errors.New("auth: already exists")
	// ErrInvalidInput signals missing or malformed caller input.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrForbidden signals an operation disallowed by an invariant, such as
	// deleting a default role or the auth service itself.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrUnauthorized signals an invalid credential or a missing permission.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrUnavailable signals an unreachable external collaborator.
	ErrUnavailable = errors.New("auth: unavailable")

	// ErrEmailNotVerified is returned by Login for accounts that registered
	// but never confirmed their address.
	ErrEmailNotVerified = errors.New("auth: email not verified")
	// ErrAccountDisabled is returned by Login for deactivated accounts.
	ErrAccountDisabled = errors.New("auth: account is deactivated")
	// ErrTokenExpired is returned when a password-reset token exists but its
	// expiry has passed.
	ErrTokenExpired = errors.New("auth: token expired")
)
