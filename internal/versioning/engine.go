package versioning

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openaudit/chronolog/internal/changeinfo"
	"github.com/openaudit/chronolog/internal/domain"
	"github.com/openaudit/chronolog/internal/repository"
	"github.com/openaudit/chronolog/internal/session"
)

// Engine is the versioning core: it hooks into the session flush, decides
// which pending entities deserve a snapshot, allocates version numbers, and
// appends activity rows. It writes snapshots only; entity rows belong to the
// persister.
//
// Version allocation happens before the persister runs, so the bumped live
// counter lands in the entity row within the same flush. Snapshot rows for
// inserts and updates are written after the persister, once generated keys
// and final foreign-key values are on the records. Deletions snapshot before
// the persister removes the row.
type Engine struct {
	store    repository.ActivityRepository
	resolver *changeinfo.Resolver
	strict   bool
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrictTracking makes every snapshot-producing flush require an active
// extra-change-info scope.
func WithStrictTracking(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithResolver overrides the change-info resolver.
func WithResolver(resolver *changeinfo.Resolver) Option {
	return func(e *Engine) { e.resolver = resolver }
}

// WithClock overrides the snapshot timestamp source. Tests use it to pin
// changed timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine writing to the given snapshot store.
func NewEngine(store repository.ActivityRepository, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		resolver: changeinfo.NewResolver(nil, nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BeforeFlush implements session.Hooks. It gates activity-row deletions,
// enforces strict tracking, snapshots entities about to be deleted, and
// allocates version bumps so the persister writes the new live counters.
func (e *Engine) BeforeFlush(ctx context.Context, sets *session.FlushSets) error {
	if len(sets.DeletedSnapshots) > 0 {
		if !session.AllowDeletingHistory(ctx) {
			row := sets.DeletedSnapshots[0]
			return &domain.HistoryMutationRejected{TableName: row.TableName, Version: row.Version}
		}
		for _, row := range sets.DeletedSnapshots {
			log.Printf("[AUDIT] deleting activity row table=%s version=%d", row.TableName, row.Version)
			if err := e.store.DeleteVersion(ctx, row.TableName, row.Key, row.Version); err != nil {
				return fmt.Errorf("failed to delete activity row: %w", err)
			}
		}
	}

	if session.SuppressVersioning(ctx) {
		return nil
	}

	dirty := snapshotWorthy(sets.Dirty)
	if len(sets.New) == 0 && len(dirty) == 0 && len(sets.Deleted) == 0 {
		return nil
	}

	if e.strict {
		if _, ok := session.ExtraChangeInfoFromContext(ctx); !ok {
			return &domain.StrictTrackingViolation{}
		}
	}

	for _, rec := range sets.Deleted {
		snap := e.buildSnapshot(ctx, rec, rec.LiveVersion(), DirtyFields(rec))
		if _, err := e.store.Insert(ctx, snap); err != nil {
			return fmt.Errorf("failed to insert deletion snapshot: %w", err)
		}
		rec.SetLiveVersion(rec.LiveVersion() + 1)
	}

	for _, rec := range sets.New {
		rec.SetLiveVersion(1)
	}
	for _, rec := range dirty {
		rec.SetLiveVersion(rec.LiveVersion() + 1)
	}
	return nil
}

// AfterFlush implements session.Hooks. It appends the insert and update
// snapshots now that generated keys and foreign-key values are final. Each
// snapshot carries version = live - 1: the state recorded is the state the
// entity holds at that version.
func (e *Engine) AfterFlush(ctx context.Context, sets *session.FlushSets) error {
	if session.SuppressVersioning(ctx) {
		return nil
	}

	for _, rec := range sets.New {
		snap := e.buildSnapshot(ctx, rec, rec.LiveVersion()-1, DirtyFields(rec))
		if _, err := e.store.Insert(ctx, snap); err != nil {
			return fmt.Errorf("failed to insert creation snapshot: %w", err)
		}
	}

	for _, rec := range snapshotWorthy(sets.Dirty) {
		snap := e.buildSnapshot(ctx, rec, rec.LiveVersion()-1, DirtyFields(rec))
		if _, err := e.store.Insert(ctx, snap); err != nil {
			return fmt.Errorf("failed to insert update snapshot: %w", err)
		}
	}
	return nil
}

// snapshotWorthy filters the physically-dirty set down to records whose
// tracked fields (or relationships) actually changed. A record touched only
// on untracked columns persists without versioning.
func snapshotWorthy(records []session.Versioned) []session.Versioned {
	worthy := []session.Versioned{}
	for _, rec := range records {
		if len(DirtyFields(rec)) > 0 {
			worthy = append(worthy, rec)
		}
	}
	return worthy
}

func (e *Engine) buildSnapshot(ctx context.Context, rec session.Versioned, version int64, dirty []string) domain.ActivitySnapshot {
	desc := rec.Descriptor()

	values := map[string]any{}
	columns := desc.SnapshotColumns()
	for _, column := range columns {
		values[column] = rec.Field(column)
	}
	data := domain.EncodeFields(values, columns)

	key := map[string]any{}
	for column, value := range rec.PrimaryKey() {
		key[column] = domain.EncodeValue(value)
	}

	userInfo, extraInfo := e.resolver.Resolve(ctx, rec)

	hiddenChanged := []string{}
	for _, field := range dirty {
		if desc.IsHidden(field) {
			hiddenChanged = append(hiddenChanged, field)
		}
	}
	if len(hiddenChanged) > 0 {
		extraInfo[domain.HiddenColsChangedKey] = hiddenChanged
	}

	return domain.ActivitySnapshot{
		TableName: desc.TableName,
		Changed:   e.now(),
		Version:   version,
		Key:       key,
		Data:      data,
		UserInfo:  userInfo,
		ExtraInfo: extraInfo,
	}
}
