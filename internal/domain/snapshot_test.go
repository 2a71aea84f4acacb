package domain

import (
	"errors"
	"testing"
	"time"
)

func testRow() ActivitySnapshot {
	return ActivitySnapshot{
		TableName: "todos",
		Changed:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Version:   2,
		Key:       map[string]any{"id": int64(7)},
		Data:      map[string]any{"title": "Task 0"},
		UserInfo:  map[string]any{"user_id": "alice"},
		ExtraInfo: map[string]any{"rationale": "cleanup"},
	}
}

func TestSnapshotGetPolicies(t *testing.T) {
	snap := NewHistorySnapshot(testRow(), []string{"starred"}, []string{"done"})

	value, err := snap.Get("title")
	if err != nil {
		t.Fatalf("expected title to be readable, got %v", err)
	}
	if value != "Task 0" {
		t.Fatalf("expected Task 0, got %v", value)
	}

	var untracked *UntrackedFieldAccess
	if _, err := snap.Get("starred"); !errors.As(err, &untracked) {
		t.Fatalf("expected UntrackedFieldAccess, got %v", err)
	}

	var hidden *HiddenFieldAccess
	if _, err := snap.Get("done"); !errors.As(err, &hidden) {
		t.Fatalf("expected HiddenFieldAccess, got %v", err)
	}

	var missing *FieldNotFound
	if _, err := snap.Get("nope"); !errors.As(err, &missing) {
		t.Fatalf("expected FieldNotFound, got %v", err)
	}
}

func TestSnapshotCopiesAreIsolated(t *testing.T) {
	snap := NewHistorySnapshot(testRow(), nil, nil)

	data := snap.Data()
	data["title"] = "mutated"

	fresh, err := snap.Get("title")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh != "Task 0" {
		t.Fatalf("snapshot mutated through returned copy: %v", fresh)
	}
}

func TestHiddenColsChangedDecoding(t *testing.T) {
	// JSON decoding produces []any; direct construction produces []string.
	row := testRow()
	row.ExtraInfo = map[string]any{HiddenColsChangedKey: []any{"done", "secret"}}
	if got := row.HiddenColsChanged(); len(got) != 2 || got[0] != "done" || got[1] != "secret" {
		t.Fatalf("unexpected hidden cols: %v", got)
	}

	row.ExtraInfo = map[string]any{HiddenColsChangedKey: []string{"done"}}
	if got := row.HiddenColsChanged(); len(got) != 1 || got[0] != "done" {
		t.Fatalf("unexpected hidden cols: %v", got)
	}

	row.ExtraInfo = map[string]any{}
	if got := row.HiddenColsChanged(); got != nil {
		t.Fatalf("expected nil for absent entry, got %v", got)
	}
}

func TestKeyStringIsCanonical(t *testing.T) {
	a := ActivitySnapshot{Key: map[string]any{"org": int64(1), "id": int64(2)}}
	b := ActivitySnapshot{Key: map[string]any{"id": int64(2), "org": int64(1)}}

	keyA, err := a.KeyString()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keyB, err := b.KeyString()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keyA != keyB {
		t.Fatalf("expected identical canonical keys, got %s vs %s", keyA, keyB)
	}
}
