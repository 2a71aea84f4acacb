package domain

import (
	"fmt"
	"time"
)

// TimeFormat is the snapshot serialization format for timestamps:
// ISO-8601 with microsecond precision and an explicit offset suffix.
// Values are normalized to UTC before formatting, so the suffix is always
// "+00:00" rather than "Z". Downstream parsing and chronological comparison
// depend on this exact layout.
const TimeFormat = "2006-01-02T15:04:05.000000-07:00"

// SerializeTime normalizes a timestamp to UTC and renders it in TimeFormat.
func SerializeTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// DecodeTime parses a TimeFormat string back into a UTC timestamp. Round
// trips are exact to microsecond precision.
func DecodeTime(value string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode snapshot timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

// EncodeValue coerces a single field value into a JSON-safe representation.
// Nil passes through, as do strings, booleans and numeric types. Timestamps
// serialize via SerializeTime. Everything else, enums and custom types
// included, falls back to its string form.
func EncodeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string, bool:
		return v
	case int, int8, int16, int32, int64:
		return v
	case uint, uint8, uint16, uint32, uint64:
		return v
	case float32, float64:
		return v
	case time.Time:
		return SerializeTime(v)
	case *time.Time:
		if v == nil {
			return nil
		}
		return SerializeTime(*v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// EncodeFields encodes the named fields of a value map into a JSON-safe
// key/value structure. Fields absent from values encode as nil. The result
// is deterministic for identical input; hidden/untracked policy is applied
// by the caller, never here.
func EncodeFields(values map[string]any, fields []string) map[string]any {
	encoded := make(map[string]any, len(fields))
	for _, name := range fields {
		encoded[name] = EncodeValue(values[name])
	}
	return encoded
}
