package session

import (
	"context"
	"fmt"

	"github.com/openaudit/chronolog/internal/domain"
)

// FlushSets carries the disjoint pending sets handed to the flush hooks:
// entities being inserted, updated and deleted, plus any activity rows
// queued for deletion (which the engine gates separately).
type FlushSets struct {
	New              []Versioned
	Dirty            []Versioned
	Deleted          []Versioned
	DeletedSnapshots []domain.ActivitySnapshot
}

// Empty reports whether the flush has nothing to do.
func (s *FlushSets) Empty() bool {
	return len(s.New) == 0 && len(s.Dirty) == 0 && len(s.Deleted) == 0 && len(s.DeletedSnapshots) == 0
}

// Hooks receives the before/after-persist callbacks around a flush. The
// before hook runs prior to any row SQL; the after hook runs once generated
// ids and foreign keys are resolved. An error from either aborts the flush
// and propagates to the caller, who owns the enclosing transaction.
type Hooks interface {
	BeforeFlush(ctx context.Context, sets *FlushSets) error
	AfterFlush(ctx context.Context, sets *FlushSets) error
}

// Persister executes the actual entity row SQL for a flush. It runs between
// the two hooks and may mutate records, for example to assign generated
// primary keys. Applications supply it; the in-memory implementation in the
// tests shows the minimal contract.
type Persister interface {
	Apply(ctx context.Context, sets *FlushSets) error
}

// FlushFinalizer is an optional interface for Versioned implementations
// that maintain a change-tracking baseline to reset after a flush. Record
// implements it.
type FlushFinalizer interface {
	FinalizeFlush()
}

// Session is a minimal unit of work over versioned entities. It tracks
// loaded and added records, computes the new/dirty/deleted sets at flush
// time, and drives the flush hooks around the persister. All core
// versioning logic runs synchronously inside Flush, under whatever
// transaction the persister operates in.
type Session struct {
	persister Persister
	hooks     Hooks

	added            []Versioned
	tracked          []Versioned
	deleted          []Versioned
	deletedSnapshots []domain.ActivitySnapshot
}

// New creates a session. The hooks are normally the versioning engine; nil
// hooks make the session a plain pass-through unit of work.
func New(persister Persister, hooks Hooks) *Session {
	return &Session{persister: persister, hooks: hooks}
}

// Add stages a new entity for insertion.
func (s *Session) Add(obj Versioned) {
	s.added = append(s.added, obj)
}

// Track registers an entity loaded from storage so its changes are detected
// at flush time.
func (s *Session) Track(obj Versioned) {
	s.tracked = append(s.tracked, obj)
}

// Delete stages a tracked entity for deletion.
func (s *Session) Delete(obj Versioned) {
	s.deleted = append(s.deleted, obj)
	kept := s.tracked[:0]
	for _, rec := range s.tracked {
		if rec != obj {
			kept = append(kept, rec)
		}
	}
	s.tracked = kept
}

// DeleteSnapshot stages an activity row for deletion. The versioning engine
// rejects the flush unless the allow-deleting-history scope is active.
func (s *Session) DeleteSnapshot(row domain.ActivitySnapshot) {
	s.deletedSnapshots = append(s.deletedSnapshots, row)
}

func (s *Session) collect() *FlushSets {
	sets := &FlushSets{
		New:              append([]Versioned(nil), s.added...),
		Deleted:          append([]Versioned(nil), s.deleted...),
		DeletedSnapshots: append([]domain.ActivitySnapshot(nil), s.deletedSnapshots...),
	}
	for _, rec := range s.tracked {
		if record, ok := rec.(*Record); ok {
			if record.physicallyDirty() {
				sets.Dirty = append(sets.Dirty, rec)
			}
			continue
		}
		// Custom Versioned implementations report their own dirtiness
		// through field histories.
		if versionedDirty(rec) {
			sets.Dirty = append(sets.Dirty, rec)
		}
	}
	return sets
}

// captureLiveVersions records the live version of every pending record and
// returns a func restoring the counters that moved. Records whose version
// never changed are left untouched, so an abort before any allocation is a
// no-op.
func captureLiveVersions(sets *FlushSets) func() {
	type saved struct {
		rec     Versioned
		version int64
	}
	entries := make([]saved, 0, len(sets.New)+len(sets.Dirty)+len(sets.Deleted))
	for _, group := range [][]Versioned{sets.New, sets.Dirty, sets.Deleted} {
		for _, rec := range group {
			entries = append(entries, saved{rec: rec, version: rec.LiveVersion()})
		}
	}
	return func() {
		for _, entry := range entries {
			if entry.rec.LiveVersion() != entry.version {
				entry.rec.SetLiveVersion(entry.version)
			}
		}
	}
}

func versionedDirty(rec Versioned) bool {
	desc := rec.Descriptor()
	for _, column := range desc.Columns {
		if rec.FieldHistory(column).HasChanges() {
			return true
		}
	}
	for property := range desc.Relationships {
		if rec.RelationshipChanged(property) {
			return true
		}
	}
	return false
}

// Flush runs one flush cycle: collect the pending sets, run the before
// hook, persist, run the after hook, then reset change-tracking baselines.
// Any error aborts the cycle with pending state intact so the caller can
// roll back and retry: live version counters bumped by the before hook are
// restored, so a retried flush allocates the same versions again.
func (s *Session) Flush(ctx context.Context) error {
	sets := s.collect()
	if sets.Empty() {
		return nil
	}

	restoreVersions := captureLiveVersions(sets)

	if s.hooks != nil {
		if err := s.hooks.BeforeFlush(ctx, sets); err != nil {
			restoreVersions()
			return err
		}
	}

	if s.persister != nil {
		if err := s.persister.Apply(ctx, sets); err != nil {
			restoreVersions()
			return fmt.Errorf("failed to persist flush: %w", err)
		}
	}

	if s.hooks != nil {
		if err := s.hooks.AfterFlush(ctx, sets); err != nil {
			restoreVersions()
			return err
		}
	}

	for _, rec := range sets.New {
		if finalizer, ok := rec.(FlushFinalizer); ok {
			finalizer.FinalizeFlush()
		}
		s.tracked = append(s.tracked, rec)
	}
	for _, rec := range sets.Dirty {
		if finalizer, ok := rec.(FlushFinalizer); ok {
			finalizer.FinalizeFlush()
		}
	}
	s.added = nil
	s.deleted = nil
	s.deletedSnapshots = nil
	return nil
}
