package session

import (
	"github.com/openaudit/chronolog/internal/domain"
	"github.com/openaudit/chronolog/internal/schema"
)

// FieldHistory is the three-way change history for one field since the
// record was loaded: a non-empty Added or Deleted side marks a real change,
// while Unchanged-only means the field was at most touched with an equal
// value.
type FieldHistory struct {
	Added     []any
	Unchanged []any
	Deleted   []any
}

// HasChanges reports whether the field carries a recorded added or
// deleted/replaced entry.
func (h FieldHistory) HasChanges() bool {
	return len(h.Added) > 0 || len(h.Deleted) > 0
}

// Versioned is the capability interface entity types implement to
// participate in versioning. The flush dispatcher filters the new, dirty
// and deleted sets by this interface; anything else moves through the
// session untouched.
type Versioned interface {
	// Descriptor returns the static type descriptor registered at startup.
	Descriptor() *schema.Descriptor
	// Field reads the current value of one column.
	Field(name string) any
	// FieldHistory returns the three-way history for one column since load.
	// Records always carry their loaded baseline, so a deferred field can
	// never be silently treated as unchanged.
	FieldHistory(name string) FieldHistory
	// RelationshipChanged reports whether a relationship property was
	// reassigned since load, independent of its FK columns being set yet.
	RelationshipChanged(name string) bool
	// PrimaryKey returns the entity's primary-key tuple, excluding version.
	PrimaryKey() map[string]any
	// LiveVersion returns the live version counter.
	LiveVersion() int64
	// SetLiveVersion updates the live version counter.
	SetLiveVersion(version int64)
	// RecordedChanges returns per-instance annotations attached before
	// flush, consumed into extra_info by the change-info resolver.
	RecordedChanges() map[string]string
}

// Record is the standard Versioned implementation: a column/value map with
// a loaded baseline for change tracking. Applications that map their own
// structs can implement Versioned directly instead.
type Record struct {
	desc        *schema.Descriptor
	values      map[string]any
	baseline    map[string]any
	hasBaseline bool
	version     int64
	changedRels map[string]struct{}
	recorded    map[string]string
}

// NewRecord creates a record for an entity that does not exist yet. Every
// set field counts as added until the first flush.
func NewRecord(desc *schema.Descriptor, values map[string]any) *Record {
	return &Record{
		desc:        desc,
		values:      domain.CloneValues(values),
		changedRels: map[string]struct{}{},
		recorded:    map[string]string{},
	}
}

// LoadRecord creates a record for an entity loaded from storage. The given
// values become the change-tracking baseline.
func LoadRecord(desc *schema.Descriptor, values map[string]any, version int64) *Record {
	return &Record{
		desc:        desc,
		values:      domain.CloneValues(values),
		baseline:    domain.CloneValues(values),
		hasBaseline: true,
		version:     version,
		changedRels: map[string]struct{}{},
		recorded:    map[string]string{},
	}
}

// Descriptor implements Versioned.
func (r *Record) Descriptor() *schema.Descriptor { return r.desc }

// Field implements Versioned.
func (r *Record) Field(name string) any { return r.values[name] }

// Set assigns a column value.
func (r *Record) Set(name string, value any) { r.values[name] = value }

// Values returns a copy of the current column values.
func (r *Record) Values() map[string]any { return domain.CloneValues(r.values) }

// SetRef reassigns a relationship property, writing its local foreign-key
// column values and marking the relationship changed. Passing nil FK values
// still marks the change, covering hosts that resolve FK columns only at
// flush time.
func (r *Record) SetRef(property string, fkValues map[string]any) {
	for column, value := range fkValues {
		r.values[column] = value
	}
	r.changedRels[property] = struct{}{}
}

// RecordChange attaches a per-instance annotation merged into extra_info on
// the next flush. Cleared once consumed.
func (r *Record) RecordChange(key, value string) {
	r.recorded[key] = value
}

// FieldHistory implements Versioned.
func (r *Record) FieldHistory(name string) FieldHistory {
	current, hasCurrent := r.values[name]
	base, hasBase := r.baseline[name]
	if !r.hasBaseline || !hasBase {
		if hasCurrent {
			return FieldHistory{Added: []any{current}}
		}
		return FieldHistory{}
	}
	if !hasCurrent {
		return FieldHistory{Deleted: []any{base}}
	}
	if domain.ValuesEqual(current, base) {
		return FieldHistory{Unchanged: []any{current}}
	}
	return FieldHistory{Added: []any{current}, Deleted: []any{base}}
}

// RelationshipChanged implements Versioned.
func (r *Record) RelationshipChanged(name string) bool {
	_, ok := r.changedRels[name]
	return ok
}

// PrimaryKey implements Versioned.
func (r *Record) PrimaryKey() map[string]any {
	key := make(map[string]any, len(r.desc.PrimaryKey))
	for _, column := range r.desc.PrimaryKey {
		key[column] = r.values[column]
	}
	return key
}

// LiveVersion implements Versioned.
func (r *Record) LiveVersion() int64 { return r.version }

// SetLiveVersion implements Versioned.
func (r *Record) SetLiveVersion(version int64) {
	r.version = version
	r.values[schema.VersionColumn] = version
}

// RecordedChanges implements Versioned.
func (r *Record) RecordedChanges() map[string]string {
	out := make(map[string]string, len(r.recorded))
	for key, value := range r.recorded {
		out[key] = value
	}
	return out
}

// FinalizeFlush implements FlushFinalizer.
func (r *Record) FinalizeFlush() { r.resetBaseline() }

// resetBaseline makes the current values the new change-tracking baseline
// and clears relationship marks and consumed annotations. Called by the
// session after a successful flush.
func (r *Record) resetBaseline() {
	r.baseline = domain.CloneValues(r.values)
	r.hasBaseline = true
	r.changedRels = map[string]struct{}{}
	r.recorded = map[string]string{}
}

// physicallyDirty reports whether any column or relationship changed since
// load, untracked columns included. The session uses it to decide what the
// persister must write; snapshot-worthiness is the engine's call.
func (r *Record) physicallyDirty() bool {
	if !r.hasBaseline {
		return true
	}
	if len(r.changedRels) > 0 {
		return true
	}
	for _, column := range r.desc.Columns {
		if r.FieldHistory(column).HasChanges() {
			return true
		}
	}
	return false
}
