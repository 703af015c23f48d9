package auth

import "context"

type principalContextKey struct{}
type tokenContextKey struct{}

// Principal is an authenticated user with the permission set resolved for
// one service scope.
type Principal struct {
	User        *User
	ServiceID   string
	Permissions map[string]struct{}
}

// HasPermission reports whether the principal holds the named permission.
// Names match exactly; there is no wildcard or inheritance.
func (p Principal) HasPermission(name string) bool {
	_, ok := p.Permissions[name]
	return ok
}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithJTI stores the session identifier of the presented access token.
func ContextWithJTI(ctx context.Context, jti string) context.Context {
	if jti == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, jti)
}

// JTIFromContext returns the session identifier if one was attached.
func JTIFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
