package migration

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openaudit/chronolog/internal/schema"
)

// Querier is the subset of *pgxpool.Pool the converter issues its SQL
// through. Each statement commits independently; the converter never opens
// an explicit transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const activityTable = "activity"

// defaultBatchSize bounds the per-call entity batch when Update tops up via
// Convert.
const defaultBatchSize = 10000

// Converter backfills one entity type's legacy shadow-history table into the
// unified activity table. Conversion is chunked by entity, resumable via a
// primary-key watermark, and commits each SQL step separately so partial
// progress survives a crash.
//
// The legacy scheme stored (timestamp T, state before T) pairs; the activity
// table wants (timestamp T, state as of T). After copying rows verbatim, the
// converter shifts every snapshot's changed timestamp, user info and extra
// info to the next chronological row's original values, partitioned by entity
// key and ordered by version. The earliest snapshot takes the entity's
// created_at column value when the descriptor names one.
type Converter struct {
	db   Querier
	desc *schema.Descriptor
}

// NewConverter creates a converter for one registered entity type. It fails
// up front with MissingVersionColumn when the type's tables carry no version
// column, since per-entity version numbering cannot be derived.
func NewConverter(db Querier, desc *schema.Descriptor) (*Converter, error) {
	if _, err := liveVersionExpr(desc); err != nil {
		return nil, err
	}
	return &Converter{db: db, desc: desc}, nil
}

// Convert migrates up to batchSize entities past the current watermark: all
// their shadow-history rows plus one synthetic current-state snapshot each,
// followed by the timestamp shift and created_at backfill for exactly those
// entities. Returns the number of activity rows written; 0 once exhausted.
// Requires a single integer primary key; ConvertAll has no such restriction.
func (c *Converter) Convert(ctx context.Context, batchSize int) (int, error) {
	pk, err := chunkColumn(c.desc)
	if err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	watermark, err := c.watermark(ctx, pk)
	if err != nil {
		return 0, err
	}

	ids, err := c.nextEntityIDs(ctx, pk, watermark, batchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	written := 0
	tag, err := c.db.Exec(ctx, historyInsertSQL(c.desc, true, true), c.desc.TableName, strippedKeys(c.desc), ids)
	if err != nil {
		return written, fmt.Errorf("failed to copy shadow history rows: %w", err)
	}
	written += int(tag.RowsAffected())

	tag, err = c.db.Exec(ctx, currentStateInsertSQL(c.desc, true, true), c.desc.TableName, strippedKeys(c.desc), ids)
	if err != nil {
		return written, fmt.Errorf("failed to insert current-state snapshots: %w", err)
	}
	written += int(tag.RowsAffected())

	if _, err := c.db.Exec(ctx, shiftSQL(c.desc, true), c.desc.TableName, ids); err != nil {
		return written, fmt.Errorf("failed to shift snapshot timestamps: %w", err)
	}

	if sql := createdAtBackfillSQL(c.desc, true); sql != "" {
		if _, err := c.db.Exec(ctx, sql, c.desc.TableName, ids); err != nil {
			return written, fmt.Errorf("failed to backfill creation timestamps: %w", err)
		}
	}

	log.Printf("[MIGRATE] converted %d rows for table=%s (%d entities)", written, c.desc.TableName, len(ids))
	return written, nil
}

// ConvertAll runs the full transformation in one unchunked pass. Faster than
// repeated Convert calls but not idempotent: invoking it twice for the same
// entity type duplicates rows, as no dedup guard applies at this level.
func (c *Converter) ConvertAll(ctx context.Context) (int, error) {
	written := 0
	tag, err := c.db.Exec(ctx, historyInsertSQL(c.desc, false, false), c.desc.TableName, strippedKeys(c.desc))
	if err != nil {
		return written, fmt.Errorf("failed to copy shadow history rows: %w", err)
	}
	written += int(tag.RowsAffected())

	tag, err = c.db.Exec(ctx, currentStateInsertSQL(c.desc, false, false), c.desc.TableName, strippedKeys(c.desc))
	if err != nil {
		return written, fmt.Errorf("failed to insert current-state snapshots: %w", err)
	}
	written += int(tag.RowsAffected())

	if _, err := c.db.Exec(ctx, shiftSQL(c.desc, false), c.desc.TableName); err != nil {
		return written, fmt.Errorf("failed to shift snapshot timestamps: %w", err)
	}

	if sql := createdAtBackfillSQL(c.desc, false); sql != "" {
		if _, err := c.db.Exec(ctx, sql, c.desc.TableName); err != nil {
			return written, fmt.Errorf("failed to backfill creation timestamps: %w", err)
		}
	}

	log.Printf("[MIGRATE] converted %d rows for table=%s (full pass)", written, c.desc.TableName)
	return written, nil
}

// Update tops up a previous conversion for a minimal-downtime migration:
// entities whose shadow tables gained rows after the watermark (the latest
// migrated changed timestamp, or the explicit since bound) get their missing
// rows appended, their timestamps and change info restored from the shadow
// table, and the shift re-applied over the whole partition. It then drains
// Convert to pick up entities inserted after the initial conversion.
func (c *Converter) Update(ctx context.Context, since *time.Time) (int, error) {
	pk, err := chunkColumn(c.desc)
	if err != nil {
		return 0, err
	}

	watermark := since
	if watermark == nil {
		watermark, err = c.latestMigrated(ctx)
		if err != nil {
			return 0, err
		}
	}

	written := 0
	if watermark != nil {
		ids, err := c.changedEntityIDs(ctx, pk, *watermark)
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			tag, err := c.db.Exec(ctx, historyInsertSQL(c.desc, true, true), c.desc.TableName, strippedKeys(c.desc), ids)
			if err != nil {
				return written, fmt.Errorf("failed to append shadow history rows: %w", err)
			}
			written += int(tag.RowsAffected())

			// Previously migrated rows in these partitions carry shifted
			// timestamps; restore the shadow originals so one uniform shift
			// pass applies cleanly afterwards.
			if _, err := c.db.Exec(ctx, unshiftSQL(c.desc), c.desc.TableName, ids); err != nil {
				return written, fmt.Errorf("failed to restore shadow timestamps: %w", err)
			}

			tag, err = c.db.Exec(ctx, currentStateInsertSQL(c.desc, true, true), c.desc.TableName, strippedKeys(c.desc), ids)
			if err != nil {
				return written, fmt.Errorf("failed to refresh current-state snapshots: %w", err)
			}
			written += int(tag.RowsAffected())

			if _, err := c.db.Exec(ctx, shiftSQL(c.desc, true), c.desc.TableName, ids); err != nil {
				return written, fmt.Errorf("failed to shift snapshot timestamps: %w", err)
			}
			if sql := createdAtBackfillSQL(c.desc, true); sql != "" {
				if _, err := c.db.Exec(ctx, sql, c.desc.TableName, ids); err != nil {
					return written, fmt.Errorf("failed to backfill creation timestamps: %w", err)
				}
			}
			log.Printf("[MIGRATE] updated %d rows for table=%s (%d entities)", written, c.desc.TableName, len(ids))
		}
	}

	for {
		count, err := c.Convert(ctx, defaultBatchSize)
		if err != nil {
			return written, err
		}
		if count == 0 {
			break
		}
		written += count
	}
	return written, nil
}

// watermark returns the highest already-migrated primary-key value for this
// entity type, or -1 when nothing was migrated yet.
func (c *Converter) watermark(ctx context.Context, pk string) (int64, error) {
	query := fmt.Sprintf(
		`SELECT COALESCE(MAX((key->>%s)::bigint), -1) FROM %s WHERE table_name = $1`,
		quoteLiteral(pk), quoteIdent(activityTable),
	)
	var watermark int64
	if err := c.db.QueryRow(ctx, query, c.desc.TableName).Scan(&watermark); err != nil {
		return 0, fmt.Errorf("failed to resolve migration watermark: %w", err)
	}
	return watermark, nil
}

// nextEntityIDs selects the next batch of entity primary keys past the
// watermark, merging keys present in the live table and in the shadow table
// so deleted entities still migrate their history.
func (c *Converter) nextEntityIDs(ctx context.Context, pk string, watermark int64, batchSize int) ([]int64, error) {
	query := fmt.Sprintf(
		`SELECT id FROM (
			SELECT %[1]s.%[2]s AS id FROM %[1]s
			UNION
			SELECT %[3]s.%[2]s FROM %[3]s
		 ) candidates
		 WHERE id > $1
		 ORDER BY id ASC
		 LIMIT $2`,
		quoteIdent(c.desc.TableName), quoteIdent(pk), quoteIdent(c.desc.HistoryTable()),
	)
	return c.collectIDs(ctx, query, watermark, batchSize)
}

// changedEntityIDs selects already-migrated entities whose shadow tables
// gained rows after the watermark.
func (c *Converter) changedEntityIDs(ctx context.Context, pk string, watermark time.Time) ([]int64, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT %[1]s.%[2]s FROM %[1]s
		 WHERE %[1]s.changed > $1
		   AND %[1]s.%[2]s <= (
			SELECT COALESCE(MAX((key->>%[3]s)::bigint), -1) FROM %[4]s WHERE table_name = $2
		   )
		 ORDER BY %[1]s.%[2]s ASC`,
		quoteIdent(c.desc.HistoryTable()), quoteIdent(pk), quoteLiteral(pk), quoteIdent(activityTable),
	)
	rows, err := c.db.Query(ctx, query, watermark, c.desc.TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to find changed entities: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (c *Converter) collectIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entity batch: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]int64, error) {
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entity batch: %w", err)
	}
	return ids, nil
}

// latestMigrated returns the newest migrated changed timestamp for this
// entity type, or nil when no rows were migrated yet.
func (c *Converter) latestMigrated(ctx context.Context) (*time.Time, error) {
	query := fmt.Sprintf(`SELECT MAX(changed) FROM %s WHERE table_name = $1`, quoteIdent(activityTable))
	var latest *time.Time
	if err := c.db.QueryRow(ctx, query, c.desc.TableName).Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to resolve update watermark: %w", err)
	}
	return latest, nil
}

// chunkColumn returns the single primary-key column chunked conversion keys
// its watermark on.
func chunkColumn(desc *schema.Descriptor) (string, error) {
	if len(desc.PrimaryKey) != 1 {
		return "", fmt.Errorf("chunked conversion of %q requires a single integer primary key", desc.TableName)
	}
	return desc.PrimaryKey[0], nil
}
