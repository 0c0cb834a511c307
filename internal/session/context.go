package session

import "context"

type contextKey struct{}

// WithSessionID tags a context with the session id a message arrived on. The
// transport sets this before dispatching, so tool handlers running on the same
// request can look up their caller's metadata.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, sessionID)
}

// SessionIDFrom returns the session id attached to ctx, or "".
func SessionIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// MetadataFrom is a convenience for tool handlers: it resolves the metadata
// for the session the context belongs to. An untagged context yields an empty
// Metadata.
func MetadataFrom(ctx context.Context, store *Store) Metadata {
	id := SessionIDFrom(ctx)
	if id == "" || store == nil {
		return Metadata{}
	}
	return store.Get(id)
}
