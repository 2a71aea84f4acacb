package repository

import (
	"context"
	"time"

	"github.com/openaudit/chronolog/internal/domain"
)

// TimeBounds optionally restricts a snapshot listing to a changed-timestamp
// window. Both bounds are inclusive.
type TimeBounds struct {
	Before *time.Time
	After  *time.Time
}

// ActivityRepository defines the snapshot store contract: append-only
// inserts, equality lookup by (table_name, key) with optional time bounds,
// and the explicitly-gated administrative delete. The versioning engine is
// the only writer; the query layer and migration engine read through it.
type ActivityRepository interface {
	// Insert appends one snapshot row and returns it with the
	// store-assigned surrogate id.
	Insert(ctx context.Context, snap domain.ActivitySnapshot) (domain.ActivitySnapshot, error)
	// ListByEntity returns all snapshots for one entity ordered by changed
	// ascending, which tracks version ascending by construction.
	ListByEntity(ctx context.Context, tableName string, key map[string]any, bounds TimeBounds) ([]domain.ActivitySnapshot, error)
	// LatestBefore returns the most recent snapshot with changed <= at, or
	// nil when the entity has no snapshot that early.
	LatestBefore(ctx context.Context, tableName string, key map[string]any, at time.Time) (*domain.ActivitySnapshot, error)
	// ByVersion returns the snapshot at an exact version, or nil.
	ByVersion(ctx context.Context, tableName string, key map[string]any, version int64) (*domain.ActivitySnapshot, error)
	// MaxVersion returns the highest snapshot version for the entity; ok is
	// false when no snapshots exist.
	MaxVersion(ctx context.Context, tableName string, key map[string]any) (int64, bool, error)
	// DeleteVersion removes one snapshot row. Callers must hold the
	// allow-deleting-history scope; the engine enforces the gate.
	DeleteVersion(ctx context.Context, tableName string, key map[string]any, version int64) error
}
