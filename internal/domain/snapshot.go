package domain

import "time"

// HistorySnapshot is a reconstructed, read-only view over one activity row.
// Field reads distinguish "absent because untracked" and "absent because
// hidden" from a plain missing field, so callers can tell policy from
// corruption. The underlying maps are copied on construction and on read;
// a snapshot can never be used to mutate history.
type HistorySnapshot struct {
	tableName string
	changed   time.Time
	version   int64
	key       map[string]any
	data      map[string]any
	userInfo  map[string]any
	extraInfo map[string]any
	untracked map[string]struct{}
	hidden    map[string]struct{}
}

// NewHistorySnapshot builds a read-only snapshot view from an activity row
// plus the entity type's untracked and hidden column sets.
func NewHistorySnapshot(row ActivitySnapshot, untracked, hidden []string) *HistorySnapshot {
	snap := &HistorySnapshot{
		tableName: row.TableName,
		changed:   row.Changed,
		version:   row.Version,
		key:       CloneValues(row.Key),
		data:      CloneValues(row.Data),
		userInfo:  CloneValues(row.UserInfo),
		extraInfo: CloneValues(row.ExtraInfo),
		untracked: make(map[string]struct{}, len(untracked)),
		hidden:    make(map[string]struct{}, len(hidden)),
	}
	for _, name := range untracked {
		snap.untracked[name] = struct{}{}
	}
	for _, name := range hidden {
		snap.hidden[name] = struct{}{}
	}
	return snap
}

// Get reads a snapshotted field value. Untracked fields fail with
// UntrackedFieldAccess, hidden fields with HiddenFieldAccess, and any other
// absent field with FieldNotFound.
func (s *HistorySnapshot) Get(field string) (any, error) {
	if _, ok := s.untracked[field]; ok {
		return nil, &UntrackedFieldAccess{Field: field}
	}
	if _, ok := s.hidden[field]; ok {
		return nil, &HiddenFieldAccess{Field: field}
	}
	value, ok := s.data[field]
	if !ok {
		return nil, &FieldNotFound{Field: field}
	}
	return value, nil
}

// TableName reports the logical entity type this snapshot belongs to.
func (s *HistorySnapshot) TableName() string { return s.tableName }

// Changed reports when this version became the entity's state.
func (s *HistorySnapshot) Changed() time.Time { return s.changed }

// Version reports the 0-based per-entity version number.
func (s *HistorySnapshot) Version() int64 { return s.version }

// Key returns a copy of the primary-key tuple.
func (s *HistorySnapshot) Key() map[string]any { return CloneValues(s.key) }

// Data returns a copy of the encoded field snapshot.
func (s *HistorySnapshot) Data() map[string]any { return CloneValues(s.data) }

// UserInfo returns a copy of the actor/origin metadata.
func (s *HistorySnapshot) UserInfo() map[string]any { return CloneValues(s.userInfo) }

// ExtraInfo returns a copy of the free-form annotation map.
func (s *HistorySnapshot) ExtraInfo() map[string]any { return CloneValues(s.extraInfo) }

// HiddenColsChanged returns the hidden column names recorded as changed in
// this version, or nil.
func (s *HistorySnapshot) HiddenColsChanged() []string {
	return ActivitySnapshot{ExtraInfo: s.extraInfo}.HiddenColsChanged()
}
