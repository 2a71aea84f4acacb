package domain

import (
	"reflect"
	"time"
)

// FieldChange is an (old, new) value pair for one field.
type FieldChange struct {
	Old any
	New any
}

// FieldDiff maps field names to their (old, new) change pairs.
type FieldDiff map[string]FieldChange

// DiffData computes the symmetric difference between two encoded field maps.
// Fields present on only one side diff against nil; fields present on both
// sides appear only when their values differ.
func DiffData(from, to map[string]any) FieldDiff {
	diff := FieldDiff{}
	for name, oldValue := range from {
		newValue, ok := to[name]
		if !ok {
			diff[name] = FieldChange{Old: oldValue, New: nil}
			continue
		}
		if !ValuesEqual(oldValue, newValue) {
			diff[name] = FieldChange{Old: oldValue, New: newValue}
		}
	}
	for name, newValue := range to {
		if _, ok := from[name]; !ok {
			diff[name] = FieldChange{Old: nil, New: newValue}
		}
	}
	return diff
}

// DiffSnapshots diffs two reconstructed snapshots. A nil side is treated as
// an empty state, so every field on the other side diffs against nil.
func DiffSnapshots(from, to *HistorySnapshot) FieldDiff {
	var fromData, toData map[string]any
	if from != nil {
		fromData = from.data
	}
	if to != nil {
		toData = to.data
	}
	return DiffData(fromData, toData)
}

// ValuesEqual reports whether two field values compare equal for dirty
// detection and diffing. Timestamps compare by instant so that the same
// moment in different locations is not treated as a change.
func ValuesEqual(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
