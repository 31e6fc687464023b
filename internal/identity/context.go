package identity

import "context"

type contextKey struct{}

// ContextWith stores the resolved identity in context.
func ContextWith(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the identity from context, defaulting to Anonymous.
func FromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok {
		return Identity{Kind: Anonymous}
	}
	return id
}
