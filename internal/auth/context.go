package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller attached to a request or websocket session.
type Identity struct {
	TenantID string
	Subject  string
	Role     Role
}

// IdentityFromClaims builds an identity from validated token claims.
func IdentityFromClaims(claims *Claims) Identity {
	if claims == nil {
		return Identity{}
	}
	role, _ := ParseRole(claims.Role)
	return Identity{TenantID: claims.TenantID, Subject: claims.Subject, Role: role}
}

// WithIdentity stores the caller identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TenantIDFromContext extracts the caller tenant, or "" when unauthenticated.
func TenantIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.TenantID
}
