package changeinfo

import (
	"context"

	"github.com/openaudit/chronolog/internal/session"
)

// UserInfo key names in the persisted user_info payload.
const (
	UserIDKey     = "user_id"
	RemoteAddrKey = "remote_addr"
)

// Provider supplies the ambient actor identity and network origin for the
// current execution context. Absence of a context, a background job say,
// must degrade to nils rather than errors.
type Provider interface {
	CurrentActorID(ctx context.Context) *string
	CurrentOrigin(ctx context.Context) *string
}

// NilProvider is a Provider for environments with no execution context.
type NilProvider struct{}

func (NilProvider) CurrentActorID(ctx context.Context) *string { return nil }
func (NilProvider) CurrentOrigin(ctx context.Context) *string  { return nil }

// UserInfoCapturer lets an entity subtype override how its user_info is
// captured, replacing the provider-derived default entirely.
type UserInfoCapturer interface {
	CaptureUserInfo(ctx context.Context) map[string]any
}

// CustomInfoFunc contributes application-defined annotations merged into
// every snapshot's extra_info. Scoped and per-instance annotations override
// its entries on key collisions.
type CustomInfoFunc func(ctx context.Context) map[string]any

// Resolver assembles the who/where metadata and the free-form annotations
// for one snapshot. It never enforces strict mode itself; the versioning
// engine checks the annotation scope before persisting.
type Resolver struct {
	provider Provider
	custom   CustomInfoFunc
}

// NewResolver wires a resolver. A nil provider degrades to NilProvider.
func NewResolver(provider Provider, custom CustomInfoFunc) *Resolver {
	if provider == nil {
		provider = NilProvider{}
	}
	return &Resolver{provider: provider, custom: custom}
}

// Resolve returns the user_info and extra_info payloads for a snapshot of
// rec. Extra info merges, later overriding earlier: the custom-info hook,
// the scoped extra-change-info context, and the record's own recorded
// changes.
func (r *Resolver) Resolve(ctx context.Context, rec session.Versioned) (map[string]any, map[string]any) {
	userInfo := r.resolveUserInfo(ctx, rec)

	extraInfo := map[string]any{}
	if r.custom != nil {
		for key, value := range r.custom(ctx) {
			extraInfo[key] = value
		}
	}
	if scoped, ok := session.ExtraChangeInfoFromContext(ctx); ok {
		for key, value := range scoped {
			extraInfo[key] = value
		}
	}
	if rec != nil {
		for key, value := range rec.RecordedChanges() {
			extraInfo[key] = value
		}
	}
	return userInfo, extraInfo
}

func (r *Resolver) resolveUserInfo(ctx context.Context, rec session.Versioned) map[string]any {
	if capturer, ok := rec.(UserInfoCapturer); ok {
		return capturer.CaptureUserInfo(ctx)
	}
	userInfo := map[string]any{
		UserIDKey:     nil,
		RemoteAddrKey: nil,
	}
	if actor := r.provider.CurrentActorID(ctx); actor != nil {
		userInfo[UserIDKey] = *actor
	}
	if origin := r.provider.CurrentOrigin(ctx); origin != nil {
		userInfo[RemoteAddrKey] = *origin
	}
	return userInfo
}
