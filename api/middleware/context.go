package middleware

import "context"

type principalKey struct{}

// principal is the authenticated caller as seen by handlers. Values are kept
// as strings so handlers decide how strictly to parse them.
type principal struct {
	userID string
	role   string
}

// WithIdentity stores the caller on ctx. Auth calls it after verifying a
// token; handler tests call it directly.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal{userID: userID, role: role})
}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

func UserIDFromContext(ctx context.Context) string { return principalFrom(ctx).userID }

func RoleFromContext(ctx context.Context) string { return principalFrom(ctx).role }
