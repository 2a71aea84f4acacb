package changeinfo

import "context"

type contextKey string

const (
	actorIDKey contextKey = "actorID"
	originKey  contextKey = "origin"
)

// WithActor returns a context carrying the current actor identity.
func WithActor(ctx context.Context, actorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorIDKey, actorID)
}

// WithOrigin returns a context carrying the current network origin.
func WithOrigin(ctx context.Context, origin string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, originKey, origin)
}

// ContextProvider resolves actor and origin from context values installed by
// WithActor and WithOrigin, typically by the HTTP middleware. Missing values
// degrade to nil.
type ContextProvider struct{}

func (ContextProvider) CurrentActorID(ctx context.Context) *string {
	if ctx == nil {
		return nil
	}
	if actor, ok := ctx.Value(actorIDKey).(string); ok && actor != "" {
		return &actor
	}
	return nil
}

func (ContextProvider) CurrentOrigin(ctx context.Context) *string {
	if ctx == nil {
		return nil
	}
	if origin, ok := ctx.Value(originKey).(string); ok && origin != "" {
		return &origin
	}
	return nil
}
