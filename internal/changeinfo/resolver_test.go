package changeinfo

import (
	"context"
	"testing"

	"github.com/openaudit/chronolog/internal/schema"
	"github.com/openaudit/chronolog/internal/session"
)

func testRecord(t *testing.T) *session.Record {
	t.Helper()
	desc := &schema.Descriptor{
		TableName:  "todos",
		PrimaryKey: []string{"id"},
		Columns:    []string{"id", "title", "version"},
	}
	registry := schema.NewRegistry()
	if err := registry.Register(desc); err != nil {
		t.Fatalf("failed to register descriptor: %v", err)
	}
	return session.NewRecord(desc, map[string]any{"id": int64(1)})
}

func TestResolveWithoutContextDegradesToNils(t *testing.T) {
	resolver := NewResolver(nil, nil)
	userInfo, extraInfo := resolver.Resolve(context.Background(), testRecord(t))

	if userInfo[UserIDKey] != nil || userInfo[RemoteAddrKey] != nil {
		t.Fatalf("expected nil actor and origin, got %v", userInfo)
	}
	if len(extraInfo) != 0 {
		t.Fatalf("expected empty extra info, got %v", extraInfo)
	}
}

func TestResolveFromContextProvider(t *testing.T) {
	resolver := NewResolver(ContextProvider{}, nil)

	ctx := WithActor(context.Background(), "alice")
	ctx = WithOrigin(ctx, "10.0.0.1")

	userInfo, _ := resolver.Resolve(ctx, testRecord(t))
	if userInfo[UserIDKey] != "alice" {
		t.Fatalf("expected actor alice, got %v", userInfo[UserIDKey])
	}
	if userInfo[RemoteAddrKey] != "10.0.0.1" {
		t.Fatalf("expected origin 10.0.0.1, got %v", userInfo[RemoteAddrKey])
	}
}

func TestExtraInfoMergeOrder(t *testing.T) {
	custom := func(ctx context.Context) map[string]any {
		return map[string]any{"source": "custom", "batch": "nightly"}
	}
	resolver := NewResolver(nil, custom)

	rec := testRecord(t)
	rec.RecordChange("source", "record")

	ctx := session.WithExtraChangeInfo(context.Background(), map[string]string{
		"source":    "scope",
		"rationale": "cleanup",
	})

	_, extraInfo := resolver.Resolve(ctx, rec)

	// Recorded per-instance annotations override the scope, which overrides
	// the custom hook.
	if extraInfo["source"] != "record" {
		t.Fatalf("expected record annotation to win, got %v", extraInfo["source"])
	}
	if extraInfo["rationale"] != "cleanup" {
		t.Fatalf("expected scoped annotation, got %v", extraInfo["rationale"])
	}
	if extraInfo["batch"] != "nightly" {
		t.Fatalf("expected custom annotation, got %v", extraInfo["batch"])
	}
}

type selfCapturing struct {
	*session.Record
}

func (selfCapturing) CaptureUserInfo(ctx context.Context) map[string]any {
	return map[string]any{"service": "batch-import"}
}

func TestUserInfoCapturerOverride(t *testing.T) {
	resolver := NewResolver(ContextProvider{}, nil)
	ctx := WithActor(context.Background(), "alice")

	userInfo, _ := resolver.Resolve(ctx, selfCapturing{testRecord(t)})
	if userInfo["service"] != "batch-import" {
		t.Fatalf("expected capturer payload, got %v", userInfo)
	}
	if _, ok := userInfo[UserIDKey]; ok {
		t.Fatal("expected capturer to replace the default payload entirely")
	}
}

func TestNestedExtraChangeInfoScopesMerge(t *testing.T) {
	resolver := NewResolver(nil, nil)

	ctx := session.WithExtraChangeInfo(context.Background(), map[string]string{"a": "1"})
	ctx = session.WithExtraChangeInfo(ctx, map[string]string{"b": "2"})

	_, extraInfo := resolver.Resolve(ctx, testRecord(t))
	if extraInfo["a"] != "1" || extraInfo["b"] != "2" {
		t.Fatalf("expected nested scopes to merge, got %v", extraInfo)
	}
}
