package session

import "context"

type contextKey string

const (
	extraChangeInfoKey      contextKey = "extraChangeInfo"
	suppressVersioningKey   contextKey = "suppressVersioning"
	allowDeletingHistoryKey contextKey = "allowDeletingHistory"
)

// WithExtraChangeInfo returns a context carrying annotation pairs to be
// merged into the extra_info of every snapshot written under it. The scope
// ends with the context, so annotations can never leak across unrelated
// requests or survive a panic.
func WithExtraChangeInfo(ctx context.Context, info map[string]string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	merged := make(map[string]string, len(info))
	if existing, ok := ExtraChangeInfoFromContext(ctx); ok {
		for key, value := range existing {
			merged[key] = value
		}
	}
	for key, value := range info {
		merged[key] = value
	}
	return context.WithValue(ctx, extraChangeInfoKey, merged)
}

// WithRationale is shorthand for WithExtraChangeInfo with a single
// "rationale" annotation.
func WithRationale(ctx context.Context, rationale string) context.Context {
	return WithExtraChangeInfo(ctx, map[string]string{"rationale": rationale})
}

// ExtraChangeInfoFromContext reports the active annotation scope, if any.
// Strict mode keys off the second return value: an empty-but-present map
// still satisfies the requirement.
func ExtraChangeInfoFromContext(ctx context.Context) (map[string]string, bool) {
	if ctx == nil {
		return nil, false
	}
	info, ok := ctx.Value(extraChangeInfoKey).(map[string]string)
	return info, ok
}

// WithSuppressVersioning returns a context under which the versioning engine
// skips snapshot creation entirely. An escape hatch for bulk administrative
// operations; flushes under it leave no audit trail.
func WithSuppressVersioning(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, suppressVersioningKey, true)
}

// SuppressVersioning reports whether the suppress-versioning scope is active.
func SuppressVersioning(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	suppressed, _ := ctx.Value(suppressVersioningKey).(bool)
	return suppressed
}

// WithAllowDeletingHistory returns a context under which activity rows may
// be deleted. Deletions are logged; outside this scope they fail with
// HistoryMutationRejected.
func WithAllowDeletingHistory(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, allowDeletingHistoryKey, true)
}

// AllowDeletingHistory reports whether the history-deletion override is
// active.
func AllowDeletingHistory(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	allowed, _ := ctx.Value(allowDeletingHistoryKey).(bool)
	return allowed
}
