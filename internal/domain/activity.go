package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// HiddenColsChangedKey is the extra_info entry listing hidden columns that
// changed in a version. Only the names are recorded, never the values.
const HiddenColsChangedKey = "hidden_cols_changed"

// ActivitySnapshot is one immutable historical record in the shared activity
// table. Snapshots for all tracked entity types share the table and are keyed
// by (table_name, key, version). Version N holds the state the entity held
// at version N, so the newest row mirrors the live state and the live
// counter is always one past the highest snapshot version.
type ActivitySnapshot struct {
	ID        int64
	TableName string
	Changed   time.Time
	Version   int64
	Key       map[string]any
	Data      map[string]any
	UserInfo  map[string]any
	ExtraInfo map[string]any
}

// HiddenColsChanged returns the hidden column names recorded for this
// version, or nil when none changed.
func (s ActivitySnapshot) HiddenColsChanged() []string {
	raw, ok := s.ExtraInfo[HiddenColsChangedKey]
	if !ok {
		return nil
	}
	switch cols := raw.(type) {
	case []string:
		out := make([]string, len(cols))
		copy(out, cols)
		return out
	case []any:
		out := make([]string, 0, len(cols))
		for _, col := range cols {
			if name, ok := col.(string); ok {
				out = append(out, name)
			}
		}
		return out
	default:
		return nil
	}
}

// KeyString renders the primary-key tuple as canonical JSON, suitable for
// equality comparison and map indexing. encoding/json emits object keys in
// sorted order, so identical tuples always render identically.
func (s ActivitySnapshot) KeyString() (string, error) {
	encoded, err := json.Marshal(s.Key)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot key: %w", err)
	}
	return string(encoded), nil
}

// CloneValues returns a shallow copy of a field-value map. A nil input
// yields an empty, non-nil map.
func CloneValues(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
