package versioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openaudit/chronolog/internal/domain"
	"github.com/openaudit/chronolog/internal/repository"
	"github.com/openaudit/chronolog/internal/session"
)

type noopPersister struct{}

func (noopPersister) Apply(ctx context.Context, sets *session.FlushSets) error { return nil }

// keyAssigningPersister simulates a database assigning generated primary
// keys during the row insert.
type keyAssigningPersister struct {
	nextID int64
}

func (p *keyAssigningPersister) Apply(ctx context.Context, sets *session.FlushSets) error {
	for _, rec := range sets.New {
		record, ok := rec.(*session.Record)
		if !ok || record.Field("id") != nil {
			continue
		}
		p.nextID++
		record.Set("id", p.nextID)
	}
	return nil
}

func testClock() func() time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	return func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
}

func newFixture(t *testing.T, opts ...Option) (*session.Session, *repository.MemoryActivityRepository) {
	t.Helper()
	store := repository.NewMemoryActivityRepository()
	engine := NewEngine(store, append([]Option{WithClock(testClock())}, opts...)...)
	return session.New(noopPersister{}, engine), store
}

func TestEngineCreateAndUpdateLifecycle(t *testing.T) {
	ctx := context.Background()
	desc := newTodoDescriptor(t)
	sess, store := newFixture(t)

	rec := session.NewRecord(desc, map[string]any{"id": int64(1), "title": "Task 0", "text": "Testing..."})
	sess.Add(rec)
	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if rec.LiveVersion() != 1 {
		t.Fatalf("expected live version 1 after create, got %d", rec.LiveVersion())
	}

	rec.Set("title", "Task 0.1")
	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	rec.Set("title", "Task 0.2")
	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	key := map[string]any{"id": int64(1)}
	rows, err := store.ListByEntity(ctx, "todos", key, repository.TimeBounds{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Version != int64(i) {
			t.Fatalf("expected version %d at index %d, got %d", i, i, row.Version)
		}
	}
	if rows[0].Data["title"] != "Task 0" {
		t.Fatalf("expected earliest snapshot to hold the created state, got %v", rows[0].Data["title"])
	}
	if rows[2].Data["title"] != "Task 0.2" {
		t.Fatalf("expected newest snapshot to mirror the live state, got %v", rows[2].Data["title"])
	}
	if rec.LiveVersion() != 3 {
		t.Fatalf("expected live version 3, got %d", rec.LiveVersion())
	}

	max, ok, err := store.MaxVersion(ctx, "todos", key)
	if err != nil || !ok {
		t.Fatalf("max-version failed: ok=%v err=%v", ok, err)
	}
	if rec.LiveVersion() != max+1 {
		t.Fatalf("expected live == 1 + max snapshot version, got live=%d max=%d", rec.LiveVersion(), max)
	}
}

// failNextPersister fails the next Apply when armed, simulating a transient
// database error followed by a retry.
type failNextPersister struct {
	failNext bool
}

func (p *failNextPersister) Apply(ctx context.Context, sets *session.FlushSets) error {
	if p.failNext {
		p.failNext = false
		return errors.New("db down")
	}
	return nil
}

func TestEngineFailedFlushKeepsVersionsContiguous(t *testing.T) {
	ctx := context.Background()
	desc := newTodoDescriptor(t)
	store := repository.NewMemoryActivityRepository()
	engine := NewEngine(store, WithClock(testClock()))
	persister := &failNextPersister{}
	sess := session.New(persister, engine)

	rec := session.NewRecord(desc, map[string]any{"id": int64(1), "title": "Task 0"})
	sess.Add(rec)
	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	rec.Set("title", "Task 0.1")
	persister.failNext = true
	if err := sess.Flush(ctx); err == nil {
		t.Fatal("expected persist error")
	}
	if rec.LiveVersion() != 1 {
		t.Fatalf("expected live version restored to 1 after failed flush, got %d", rec.LiveVersion())
	}

	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	key := map[string]any{"id": int64(1)}
	rows, err := store.ListByEntity(ctx, "todos", key, repository.TimeBounds{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 2 || rows[0].Version != 0 || rows[1].Version != 1 {
		t.Fatalf("expected contiguous versions [0 1], got %d rows %+v", len(rows), rows)
	}
	if rows[1].Data["title"] != "Task 0.1" {
		t.Fatalf("expected retried update snapshot, got %v", rows[1].Data)
	}
	max, ok, err := store.MaxVersion(ctx, "todos", key)
	if err != nil || !ok {
		t.Fatalf("max-version failed: ok=%v err=%v", ok, err)
	}
	if rec.LiveVersion() != max+1 {
		t.Fatalf("expected live == 1 + max snapshot version, got live=%d max=%d", rec.LiveVersion(), max)
	}
}

func TestEngineSnapshotsGeneratedKeys(t *testing.T) {
	ctx := context.Background()
	desc := newTodoDescriptor(t)
	store := repository.NewMemoryActivityRepository()
	engine := NewEngine(store, WithClock(testClock()))
	sess := session.New(&keyAssigningPersister{nextID: 41}, engine)

	rec := session.NewRecord(desc, map[string]any{"title": "Task 0"})
	sess.Add(rec)
	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	rows, err := store.ListByEntity(ctx, "todos", map[string]any{"id": int64(42)}, repository.TimeBounds{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected snapshot under the generated key, got %d rows", len(rows))
	}
	if rows[0].Data["id"] != int64(42) {
		t.Fatalf("expected generated key in the payload, got %v", rows[0].Data["id"])
	}
}

func TestEngineUntrackedOnlyChangeSkipsSnapshot(t *testing.T) {
	ctx := context.Background()
	desc := newTodoDescriptor(t)
	sess, store := newFixture(t)

	rec := session.LoadRecord(desc, map[string]any{"id": int64(1), "title": "Task 0", "starred": false}, 1)
	sess.Track(rec)
	rec.Set("starred", true)

	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no snapshots for untracked-only change, got %d", store.Len())
	}
	if rec.LiveVersion() != 1 {
		t.Fatalf("expected live version untouched, got %d", rec.LiveVersion())
	}
}

func TestEngineHiddenColumnChange(t *testing.T) {
	ctx := context.Background()
	desc := newTodoDescriptor(t)
	sess, store := newFixture(t)

	rec := session.LoadRecord(desc, map[string]any{"id": int64(1), "title": "Secret Todo", "done": false}, 1)
	sess.Track(rec)
	rec.Set("done", true)

	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	rows, err := store.ListByEntity(ctx, "todos", map[string]any{"id": int64(1)}, repository.TimeBounds{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(rows))
	}
	snap := rows[0]
	if _, ok := snap.Data["done"]; ok {
		t.Fatalf("expected hidden column to be absent from payload, got %v", snap.Data)
	}
	hidden, ok := snap.ExtraInfo[domain.HiddenColsChangedKey].([]string)
	if !ok || len(hidden) != 1 || hidden[0] != "done" {
		t.Fatalf("expected hidden_cols_changed [done], got %v", snap.ExtraInfo[domain.HiddenColsChangedKey])
	}
}

func TestEngineStrictTracking(t *testing.T) {
	ctx := context.Background()
	desc := newTodoDescriptor(t)
	sess, store := newFixture(t, WithStrictTracking(true))

	rec := session.LoadRecord(desc, map[string]any{"id": int64(1), "title": "Task 0"}, 1)
	sess.Track(rec)
	rec.Set("title", "Task 0.1")

	var violation *domain.StrictTrackingViolation
	if err := sess.Flush(ctx); !errors.As(err, &violation) {
		t.Fatalf("expected StrictTrackingViolation, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("expected no snapshots after rejected flush")
	}

	// Inside an annotation scope the same flush succeeds and the rationale
	// lands on the snapshot.
	if err := sess.Flush(session.WithRationale(ctx, "renamed for clarity")); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	rows, err := store.ListByEntity(ctx, "todos", map[string]any{"id": int64(1)}, repository.TimeBounds{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(rows))
	}
	if rows[0].ExtraInfo["rationale"] != "renamed for clarity" {
		t.Fatalf("expected rationale annotation, got %v", rows[0].ExtraInfo)
	}
}

func TestEngineStrictTrackingIgnoresNonVersionedWork(t *testing.T) {
	ctx := context.Background()
	desc := newTodoDescriptor(t)
	sess, store := newFixture(t, WithStrictTracking(true))

	rec := session.LoadRecord(desc, map[string]any{"id": int64(1), "starred": false}, 1)
	sess.Track(rec)
	rec.Set("starred", true)

	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("expected untracked-only flush to pass strict mode, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no snapshots, got %d", store.Len())
	}
}

func TestEngineDeleteWritesFinalSnapshot(t *testing.T) {
	ctx := context.Background()
	desc := newTodoDescriptor(t)
	sess, store := newFixture(t)

	rec := session.NewRecord(desc, map[string]any{"id": int64(1), "title": "Task 0"})
	sess.Add(rec)
	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	sess.Delete(rec)
	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	rows, err := store.ListByEntity(ctx, "todos", map[string]any{"id": int64(1)}, repository.TimeBounds{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 2 || rows[0].Version != 0 || rows[1].Version != 1 {
		t.Fatalf("expected versions [0 1] after create and delete, got %v", rows)
	}
	if rows[1].Data["title"] != "Task 0" {
		t.Fatalf("expected deletion snapshot to hold the final state, got %v", rows[1].Data)
	}
}

func TestEngineSuppressVersioning(t *testing.T) {
	ctx := session.WithSuppressVersioning(context.Background())
	desc := newTodoDescriptor(t)
	sess, store := newFixture(t)

	rec := session.NewRecord(desc, map[string]any{"id": int64(1), "title": "Task 0"})
	sess.Add(rec)
	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if store.Len() != 0 {
		t.Fatalf("expected no snapshots under suppression, got %d", store.Len())
	}
	if rec.LiveVersion() != 0 {
		t.Fatalf("expected live version untouched, got %d", rec.LiveVersion())
	}
}

func TestEngineHistoryDeletionGate(t *testing.T) {
	ctx := context.Background()
	desc := newTodoDescriptor(t)
	sess, store := newFixture(t)

	rec := session.NewRecord(desc, map[string]any{"id": int64(1), "title": "Task 0"})
	sess.Add(rec)
	if err := sess.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	rows, err := store.ListByEntity(ctx, "todos", map[string]any{"id": int64(1)}, repository.TimeBounds{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected one snapshot, got %v err=%v", rows, err)
	}

	sess.DeleteSnapshot(rows[0])
	var rejected *domain.HistoryMutationRejected
	if err := sess.Flush(ctx); !errors.As(err, &rejected) {
		t.Fatalf("expected HistoryMutationRejected, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatal("expected the activity row to survive the rejected flush")
	}

	if err := sess.Flush(session.WithAllowDeletingHistory(ctx)); err != nil {
		t.Fatalf("gated deletion failed: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected the activity row to be deleted, got %d rows", store.Len())
	}
}
