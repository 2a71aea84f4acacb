package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/openaudit/chronolog/internal/domain"
	"github.com/openaudit/chronolog/internal/repository"
	"github.com/openaudit/chronolog/internal/schema"
)

var apiBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	registry := schema.NewRegistry()
	if err := registry.Register(&schema.Descriptor{
		TableName:  "todos",
		PrimaryKey: []string{"id"},
		Columns:    []string{"id", "title", "version"},
	}); err != nil {
		t.Fatalf("failed to register descriptor: %v", err)
	}

	ctx := context.Background()
	store := repository.NewMemoryActivityRepository()
	for version, title := range []string{"Task 0", "Task 0.1"} {
		_, err := store.Insert(ctx, domain.ActivitySnapshot{
			TableName: "todos",
			Changed:   apiBase.Add(time.Duration(version+1) * time.Hour),
			Version:   int64(version),
			Key:       map[string]any{"id": float64(1)},
			Data:      map[string]any{"id": float64(1), "title": title},
		})
		if err != nil {
			t.Fatalf("seed insert failed: %v", err)
		}
	}

	server := NewServer(registry, store)
	server.now = func() time.Time { return apiBase.Add(3 * time.Hour) }
	return server.Handler([]string{"*"})
}

func get(t *testing.T, handler http.Handler, path string, query url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path+"?"+query.Encode(), nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestVersionsEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	resp := get(t, handler, "/audit/todos/versions", url.Values{"key": {`{"id":1}`}})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated request id header")
	}

	var payload struct {
		Versions []struct {
			Version int64          `json:"version"`
			Changed string         `json:"changed"`
			Data    map[string]any `json:"data"`
		} `json:"versions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(payload.Versions))
	}
	if payload.Versions[0].Version != 0 || payload.Versions[0].Data["title"] != "Task 0" {
		t.Fatalf("unexpected first version: %+v", payload.Versions[0])
	}
	if payload.Versions[1].Changed != "2024-01-01T02:00:00.000000+00:00" {
		t.Fatalf("unexpected changed serialization: %s", payload.Versions[1].Changed)
	}
}

func TestVersionsEndpointBounds(t *testing.T) {
	handler := newTestHandler(t)

	resp := get(t, handler, "/audit/todos/versions", url.Values{
		"key":    {`{"id":1}`},
		"before": {apiBase.Add(time.Hour).Format(time.RFC3339)},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		Versions []json.RawMessage `json:"versions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Versions) != 1 {
		t.Fatalf("expected bounded listing with 1 version, got %d", len(payload.Versions))
	}
}

func TestDiffEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	resp := get(t, handler, "/audit/todos/diff", url.Values{
		"key":  {`{"id":1}`},
		"from": {apiBase.Add(90 * time.Minute).Format(time.RFC3339)},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		Diff map[string]struct {
			Old any `json:"old"`
			New any `json:"new"`
		} `json:"diff"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	change, ok := payload.Diff["title"]
	if !ok || change.Old != "Task 0" || change.New != "Task 0.1" {
		t.Fatalf("unexpected diff: %+v", payload.Diff)
	}
}

func TestDiffEndpointValidation(t *testing.T) {
	handler := newTestHandler(t)

	// from is required.
	resp := get(t, handler, "/audit/todos/diff", url.Values{"key": {`{"id":1}`}})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing from, got %d", resp.Code)
	}

	// to must not precede from.
	resp = get(t, handler, "/audit/todos/diff", url.Values{
		"key":  {`{"id":1}`},
		"from": {apiBase.Add(2 * time.Hour).Format(time.RFC3339)},
		"to":   {apiBase.Format(time.RFC3339)},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted window, got %d", resp.Code)
	}
}

func TestUnknownTableIs404(t *testing.T) {
	handler := newTestHandler(t)

	resp := get(t, handler, "/audit/ghosts/versions", url.Values{"key": {`{"id":1}`}})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestMissingKeyIs400(t *testing.T) {
	handler := newTestHandler(t)

	resp := get(t, handler, "/audit/todos/versions", url.Values{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing key, got %d", resp.Code)
	}
}
