package auth

import "context"

type identityContextKey struct{}

// ContextWithIdentity attaches the resolved caller to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the caller, or Anonymous when none was attached.
func IdentityFromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Anonymous
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok {
		return Anonymous
	}
	return id
}
