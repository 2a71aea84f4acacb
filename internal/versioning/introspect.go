package versioning

import (
	"sort"

	"github.com/openaudit/chronolog/internal/schema"
	"github.com/openaudit/chronolog/internal/session"
)

// DirtyFields returns the sorted tracked fields that changed on rec since it
// was loaded. The version column and untracked columns never appear. When no
// scalar column changed, a reassigned FK-bearing relationship contributes its
// property name as a single synthetic dirty field, so pure relationship
// reassignments still version even when the host resolves FK columns late.
func DirtyFields(rec session.Versioned) []string {
	desc := rec.Descriptor()

	dirty := []string{}
	for _, column := range desc.ColumnsToRoot() {
		if column == schema.VersionColumn || desc.IsUntracked(column) {
			continue
		}
		if rec.FieldHistory(column).HasChanges() {
			dirty = append(dirty, column)
		}
	}

	if len(dirty) == 0 {
		for property, fkColumns := range desc.Relationships {
			if len(fkColumns) == 0 {
				continue
			}
			if rec.RelationshipChanged(property) {
				dirty = append(dirty, property)
				break
			}
		}
	}

	sort.Strings(dirty)
	return dirty
}
