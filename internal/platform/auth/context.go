package auth

import "context"

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	UserNameKey    contextKey = "user_name"
	UserRolesKey   contextKey = "user_roles"
	DisplayNameKey contextKey = "display_name"
)

// UserIDFromContext returns the authenticated user's id, or empty string.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// UserNameFromContext returns the authenticated user's login name.
func UserNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(UserNameKey).(string)
	return name
}

// RolesFromContext returns the authenticated user's roles.
func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// PrimaryRole returns the first role claim, the value captured into audit
// snapshots. Returns "unknown" for unauthenticated callers, matching the
// ledger's actor-role fallback.
func PrimaryRole(ctx context.Context) string {
	roles := RolesFromContext(ctx)
	if len(roles) == 0 {
		return "unknown"
	}
	return roles[0]
}

// DisplayNameFromContext returns the human-readable name captured at token
// issue time. Falls back to the login name, then "anonymous"; audit entries
// must always carry a non-empty actor snapshot.
func DisplayNameFromContext(ctx context.Context) string {
	if name, _ := ctx.Value(DisplayNameKey).(string); name != "" {
		return name
	}
	if name := UserNameFromContext(ctx); name != "" {
		return name
	}
	return "anonymous"
}
