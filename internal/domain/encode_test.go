package domain

import (
	"testing"
	"time"
)

type priority int

func (p priority) String() string {
	if p > 1 {
		return "HIGH"
	}
	return "LOW"
}

func TestSerializeTimeRoundTrip(t *testing.T) {
	loc := time.FixedZone("EST", -5*60*60)
	original := time.Date(2016, 6, 13, 9, 45, 12, 345678000, loc)

	encoded := SerializeTime(original)
	if encoded != "2016-06-13T14:45:12.345678+00:00" {
		t.Fatalf("unexpected serialized timestamp: %s", encoded)
	}

	decoded, err := DecodeTime(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.Equal(original) {
		t.Fatalf("expected round trip to %v, got %v", original, decoded)
	}
	if decoded.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", decoded.Location())
	}
}

func TestDecodeTimeRejectsGarbage(t *testing.T) {
	if _, err := DecodeTime("not-a-timestamp"); err == nil {
		t.Fatal("expected error for invalid timestamp")
	}
}

func TestEncodeValue(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	cases := []struct {
		name  string
		value any
		want  any
	}{
		{"nil", nil, nil},
		{"string", "hello", "hello"},
		{"bool", true, true},
		{"int", 42, 42},
		{"float", 4.5, 4.5},
		{"time", now, "2024-01-02T03:04:05.000000+00:00"},
		{"time pointer", &now, "2024-01-02T03:04:05.000000+00:00"},
		{"nil time pointer", (*time.Time)(nil), nil},
		{"stringer", priority(5), "HIGH"},
	}
	for _, tc := range cases {
		if got := EncodeValue(tc.value); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestEncodeFields(t *testing.T) {
	values := map[string]any{"title": "Task 0", "count": 3}
	encoded := EncodeFields(values, []string{"title", "count", "missing"})

	if len(encoded) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(encoded))
	}
	if encoded["title"] != "Task 0" || encoded["count"] != 3 {
		t.Fatalf("unexpected encoded values: %v", encoded)
	}
	if encoded["missing"] != nil {
		t.Fatalf("expected absent field to encode as nil, got %v", encoded["missing"])
	}
}
