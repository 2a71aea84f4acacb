package history

import (
	"context"
	"fmt"
	"time"

	"github.com/openaudit/chronolog/internal/domain"
	"github.com/openaudit/chronolog/internal/repository"
	"github.com/openaudit/chronolog/internal/session"
)

// Timeline is the read side of versioning for one live entity: version
// listings, point-in-time reconstruction and diffing. It only ever reads the
// activity table; reconstructed snapshots cannot write back.
type Timeline struct {
	store repository.ActivityRepository
	rec   session.Versioned
	now   func() time.Time
}

// NewTimeline creates a timeline over the given entity.
func NewTimeline(store repository.ActivityRepository, rec session.Versioned) *Timeline {
	return &Timeline{store: store, rec: rec, now: time.Now}
}

// WithClock overrides the timestamp source used when a diff's upper bound
// defaults to now.
func (t *Timeline) WithClock(now func() time.Time) *Timeline {
	t.now = now
	return t
}

func (t *Timeline) entityKey() map[string]any {
	key := map[string]any{}
	for column, value := range t.rec.PrimaryKey() {
		key[column] = domain.EncodeValue(value)
	}
	return key
}

func (t *Timeline) snapshot(row domain.ActivitySnapshot) *domain.HistorySnapshot {
	desc := t.rec.Descriptor()
	return domain.NewHistorySnapshot(row, desc.Untracked, desc.Hidden)
}

// Versions returns the entity's snapshots ordered chronologically, optionally
// restricted to a changed-timestamp window.
func (t *Timeline) Versions(ctx context.Context, bounds repository.TimeBounds) ([]*domain.HistorySnapshot, error) {
	desc := t.rec.Descriptor()
	rows, err := t.store.ListByEntity(ctx, desc.TableName, t.entityKey(), bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	snapshots := make([]*domain.HistorySnapshot, 0, len(rows))
	for _, row := range rows {
		snapshots = append(snapshots, t.snapshot(row))
	}
	return snapshots, nil
}

// VersionAt reconstructs the entity's state as of the given time. Returns nil
// when the timestamp predates all recorded history.
func (t *Timeline) VersionAt(ctx context.Context, at time.Time) (*domain.HistorySnapshot, error) {
	desc := t.rec.Descriptor()
	row, err := t.store.LatestBefore(ctx, desc.TableName, t.entityKey(), at)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve version at %s: %w", at.Format(time.RFC3339), err)
	}
	if row == nil {
		return nil, nil
	}
	return t.snapshot(*row), nil
}

// PreviousVersion returns the snapshot at version live - 1, the most recent
// state preceding the live one, or nil for an entity that was never
// versioned.
func (t *Timeline) PreviousVersion(ctx context.Context) (*domain.HistorySnapshot, error) {
	live := t.rec.LiveVersion()
	if live == 0 {
		return nil, nil
	}
	row, err := t.store.ByVersion(ctx, t.rec.Descriptor().TableName, t.entityKey(), live-1)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve previous version: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return t.snapshot(*row), nil
}

// HasChangedSince reports whether any tracked field differs between the
// state at since and the current state.
func (t *Timeline) HasChangedSince(ctx context.Context, since time.Time) (bool, error) {
	diff, err := t.Diff(ctx, since)
	if err != nil {
		return false, err
	}
	return len(diff) > 0, nil
}

// DiffOption adjusts a Diff call.
type DiffOption func(*diffSettings)

type diffSettings struct {
	to            *time.Time
	includeHidden bool
}

// DiffTo bounds the diff at a point in time instead of the current state.
func DiffTo(to time.Time) DiffOption {
	return func(s *diffSettings) { s.to = &to }
}

// IncludeHidden reports hidden columns that changed inside the window as
// (nil, current value) entries instead of omitting them.
func IncludeHidden() DiffOption {
	return func(s *diffSettings) { s.includeHidden = true }
}

// Diff enumerates the field changes between the entity's state at from and
// its state at the DiffTo bound, defaulting to now. Fields absent on one side
// diff against nil. Hidden columns are omitted unless IncludeHidden is set.
func (t *Timeline) Diff(ctx context.Context, from time.Time, opts ...DiffOption) (domain.FieldDiff, error) {
	if from.IsZero() {
		return nil, fmt.Errorf("diff requires a from timestamp")
	}

	settings := diffSettings{}
	for _, opt := range opts {
		opt(&settings)
	}
	to := t.now()
	if settings.to != nil {
		to = *settings.to
	}
	if to.Before(from) {
		return nil, &domain.ChronologyViolation{From: from, To: to}
	}

	fromSnap, err := t.VersionAt(ctx, from)
	if err != nil {
		return nil, err
	}
	toSnap, err := t.VersionAt(ctx, to)
	if err != nil {
		return nil, err
	}

	diff := domain.FieldDiff{}
	switch {
	case fromSnap == nil && toSnap == nil:
	case fromSnap == nil:
		for name, value := range toSnap.Data() {
			diff[name] = domain.FieldChange{Old: nil, New: value}
		}
	default:
		diff = domain.DiffSnapshots(fromSnap, toSnap)
	}

	if settings.includeHidden {
		if err := t.applyHiddenChanges(ctx, from, to, diff); err != nil {
			return nil, err
		}
	}
	return diff, nil
}

// applyHiddenChanges scans the window for the first version recording hidden
// column changes and reports those columns against the live value.
func (t *Timeline) applyHiddenChanges(ctx context.Context, from, to time.Time, diff domain.FieldDiff) error {
	desc := t.rec.Descriptor()
	rows, err := t.store.ListByEntity(ctx, desc.TableName, t.entityKey(), repository.TimeBounds{After: &from, Before: &to})
	if err != nil {
		return fmt.Errorf("failed to scan hidden changes: %w", err)
	}
	for _, row := range rows {
		hidden := row.HiddenColsChanged()
		if len(hidden) == 0 {
			continue
		}
		for _, column := range hidden {
			if !desc.IsHidden(column) {
				continue
			}
			diff[column] = domain.FieldChange{Old: nil, New: domain.EncodeValue(t.rec.Field(column))}
		}
		break
	}
	return nil
}
