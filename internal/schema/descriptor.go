package schema

import (
	"fmt"
	"sort"
	"sync"
)

// VersionColumn is the live version counter column. It is pure versioning
// metadata: never part of the snapshot key, never tracked, never diffed.
const VersionColumn = "version"

// Descriptor statically describes one versioned entity type. Descriptors are
// built once at startup via Registry.Register, so flush-time lookups are
// O(1) map probes with no reflection.
type Descriptor struct {
	// TableName is the logical entity type name used as the activity
	// table_name discriminator.
	TableName string
	// PrimaryKey is the ordered primary-key column tuple, excluding the
	// version column.
	PrimaryKey []string
	// Columns is the ordered full column list mapped on the entity,
	// including untracked and hidden columns.
	Columns []string
	// Untracked columns are never snapshotted and never trigger versioning
	// on their own.
	Untracked []string
	// Hidden columns trigger versioning and are named in extra_info, but
	// their values are never stored.
	Hidden []string
	// Relationships maps a relationship property name to the local
	// foreign-key columns it writes through. Only FK-bearing relationships
	// belong here; a reassignment of one counts as a synthetic dirty field
	// when no scalar column is dirty.
	Relationships map[string][]string
	// DisableIndices lists columns whose indices are not carried to legacy
	// shadow tables. Metadata for hosts running the legacy scheme.
	DisableIndices []string
	// LegacyHistoryTable overrides the shadow-history table name used by
	// the migration engine. Defaults to TableName + "_history".
	LegacyHistoryTable string
	// CreatedAtColumn names the creation timestamp column, when present.
	// The migration engine backfills the earliest snapshot's changed
	// timestamp from it.
	CreatedAtColumn string
	// CopyValidators controls whether host-side field validation applies to
	// reconstructed historical objects. Metadata only; chronolog itself
	// never validates payloads.
	CopyValidators bool
	// Base points at the concrete-table-inheritance base type, when the
	// entity physically joins a second table by shared primary key.
	Base *Descriptor

	untrackedSet map[string]struct{}
	hiddenSet    map[string]struct{}
	trackedCols  []string
}

func (d *Descriptor) normalize() error {
	if d.TableName == "" {
		return fmt.Errorf("descriptor requires a table name")
	}
	if len(d.PrimaryKey) == 0 {
		return fmt.Errorf("descriptor %q requires at least one primary key column", d.TableName)
	}
	for _, col := range d.PrimaryKey {
		if col == VersionColumn {
			return fmt.Errorf("descriptor %q: %q cannot be a primary key column", d.TableName, VersionColumn)
		}
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("descriptor %q requires a column list", d.TableName)
	}

	d.untrackedSet = make(map[string]struct{}, len(d.Untracked))
	for _, col := range d.Untracked {
		d.untrackedSet[col] = struct{}{}
	}
	d.hiddenSet = make(map[string]struct{}, len(d.Hidden))
	for _, col := range d.Hidden {
		if _, ok := d.untrackedSet[col]; ok {
			return fmt.Errorf("descriptor %q: column %q cannot be both hidden and untracked", d.TableName, col)
		}
		d.hiddenSet[col] = struct{}{}
	}

	d.trackedCols = d.trackedCols[:0]
	for _, col := range d.Columns {
		if col == VersionColumn {
			continue
		}
		if _, ok := d.untrackedSet[col]; ok {
			continue
		}
		d.trackedCols = append(d.trackedCols, col)
	}
	return nil
}

// IsUntracked reports whether a column is excluded from tracking entirely.
func (d *Descriptor) IsUntracked(column string) bool {
	_, ok := d.untrackedSet[column]
	return ok
}

// IsHidden reports whether a column's values are redacted from snapshots.
func (d *Descriptor) IsHidden(column string) bool {
	_, ok := d.hiddenSet[column]
	return ok
}

// TrackedColumns returns the ordered columns eligible for snapshotting:
// everything mapped except untracked columns and versioning metadata.
// Hidden columns are tracked; the engine strips their values after encoding.
func (d *Descriptor) TrackedColumns() []string {
	out := make([]string, len(d.trackedCols))
	copy(out, d.trackedCols)
	return out
}

// ColumnsToRoot returns the descriptor's columns merged with its base
// type's, base first, without duplicates. Single-table types simply return
// their own column list.
func (d *Descriptor) ColumnsToRoot() []string {
	if d.Base == nil {
		return d.Columns
	}
	seen := make(map[string]struct{}, len(d.Base.Columns)+len(d.Columns))
	merged := make([]string, 0, len(d.Base.Columns)+len(d.Columns))
	for _, column := range append(append([]string{}, d.Base.Columns...), d.Columns...) {
		if _, ok := seen[column]; ok {
			continue
		}
		seen[column] = struct{}{}
		merged = append(merged, column)
	}
	return merged
}

// SnapshotColumns returns the tracked, non-hidden columns merged to the
// inheritance root: exactly the set of keys allowed to appear in a
// snapshot's data payload. Both the type's own column policies and its base
// type's apply.
func (d *Descriptor) SnapshotColumns() []string {
	out := []string{}
	for _, col := range d.ColumnsToRoot() {
		if col == VersionColumn {
			continue
		}
		if d.IsUntracked(col) || d.IsHidden(col) {
			continue
		}
		if d.Base != nil && (d.Base.IsUntracked(col) || d.Base.IsHidden(col)) {
			continue
		}
		out = append(out, col)
	}
	return out
}

// HistoryTable returns the legacy shadow-history table name for this type.
func (d *Descriptor) HistoryTable() string {
	if d.LegacyHistoryTable != "" {
		return d.LegacyHistoryTable
	}
	return d.TableName + "_history"
}

// Registry holds the declarative type registrations consulted during flush.
type Registry struct {
	mu      sync.RWMutex
	byTable map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTable: map[string]*Descriptor{}}
}

// Register validates and installs a descriptor. Registering the same table
// name twice is an error; registration happens once at startup.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("cannot register a nil descriptor")
	}
	if err := d.normalize(); err != nil {
		return err
	}
	if d.Base != nil {
		if err := d.Base.normalize(); err != nil {
			return fmt.Errorf("base descriptor of %q: %w", d.TableName, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byTable[d.TableName]; exists {
		return fmt.Errorf("descriptor for table %q already registered", d.TableName)
	}
	r.byTable[d.TableName] = d
	return nil
}

// Lookup resolves a descriptor by table name.
func (r *Registry) Lookup(tableName string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byTable[tableName]
	return d, ok
}

// Tables returns the registered table names in sorted order.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]string, 0, len(r.byTable))
	for name := range r.byTable {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}
