package migration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/openaudit/chronolog/internal/domain"
	"github.com/openaudit/chronolog/internal/schema"
)

// The conversion SQL is assembled from sanitized identifiers and positional
// parameters only; no value is ever interpolated into the statement text.
// Each builder below produces one independently testable step.

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func qualify(table, column string) string {
	return quoteIdent(table) + "." + quoteIdent(column)
}

// liveFrom returns the FROM clause over the live table, joining the concrete
// inheritance base table by shared primary key when one is declared.
func liveFrom(desc *schema.Descriptor) string {
	from := quoteIdent(desc.TableName)
	if desc.Base == nil {
		return from
	}
	conds := make([]string, 0, len(desc.PrimaryKey))
	for _, pk := range desc.PrimaryKey {
		conds = append(conds, fmt.Sprintf("%s = %s", qualify(desc.TableName, pk), qualify(desc.Base.TableName, pk)))
	}
	return fmt.Sprintf("%s JOIN %s ON %s", from, quoteIdent(desc.Base.TableName), strings.Join(conds, " AND "))
}

// historyFrom returns the FROM clause over the shadow-history table, joining
// the base type's shadow table by primary key and version.
func historyFrom(desc *schema.Descriptor) string {
	from := quoteIdent(desc.HistoryTable())
	if desc.Base == nil {
		return from
	}
	conds := make([]string, 0, len(desc.PrimaryKey)+1)
	for _, pk := range desc.PrimaryKey {
		conds = append(conds, fmt.Sprintf("%s = %s", qualify(desc.HistoryTable(), pk), qualify(desc.Base.HistoryTable(), pk)))
	}
	conds = append(conds, fmt.Sprintf("%s = %s",
		qualify(desc.HistoryTable(), schema.VersionColumn), qualify(desc.Base.HistoryTable(), schema.VersionColumn)))
	return fmt.Sprintf("%s JOIN %s ON %s", from, quoteIdent(desc.Base.HistoryTable()), strings.Join(conds, " AND "))
}

// liveRowJSON encodes the live row (merged with its base row) as jsonb.
func liveRowJSON(desc *schema.Descriptor) string {
	expr := fmt.Sprintf("row_to_json(%s.*)::jsonb", quoteIdent(desc.TableName))
	if desc.Base != nil {
		expr += fmt.Sprintf(" || row_to_json(%s.*)::jsonb", quoteIdent(desc.Base.TableName))
	}
	return expr
}

// historyRowJSON encodes the shadow-history row (merged with its base shadow
// row) as jsonb.
func historyRowJSON(desc *schema.Descriptor) string {
	expr := fmt.Sprintf("row_to_json(%s.*)::jsonb", quoteIdent(desc.HistoryTable()))
	if desc.Base != nil {
		expr += fmt.Sprintf(" || row_to_json(%s.*)::jsonb", quoteIdent(desc.Base.HistoryTable()))
	}
	return expr
}

// keyObject builds the entity-key jsonb expression from the primary-key
// columns of the given physical table.
func keyObject(desc *schema.Descriptor, table string) string {
	pairs := make([]string, 0, len(desc.PrimaryKey))
	for _, pk := range desc.PrimaryKey {
		pairs = append(pairs, fmt.Sprintf("%s, %s", quoteLiteral(pk), qualify(table, pk)))
	}
	return fmt.Sprintf("json_build_object(%s)::jsonb", strings.Join(pairs, ", "))
}

// liveVersionExpr locates the live version column on the entity's table or
// its base table.
func liveVersionExpr(desc *schema.Descriptor) (string, error) {
	if containsColumn(desc.Columns, schema.VersionColumn) {
		return qualify(desc.TableName, schema.VersionColumn), nil
	}
	if desc.Base != nil && containsColumn(desc.Base.Columns, schema.VersionColumn) {
		return qualify(desc.Base.TableName, schema.VersionColumn), nil
	}
	return "", &domain.MissingVersionColumn{Table: desc.TableName}
}

func containsColumn(columns []string, name string) bool {
	for _, column := range columns {
		if column == name {
			return true
		}
	}
	return false
}

// createdAtExpr locates the creation timestamp column, or returns "".
func createdAtExpr(desc *schema.Descriptor) string {
	if desc.CreatedAtColumn != "" {
		return qualify(desc.TableName, desc.CreatedAtColumn)
	}
	if desc.Base != nil && desc.Base.CreatedAtColumn != "" {
		return qualify(desc.Base.TableName, desc.Base.CreatedAtColumn)
	}
	return ""
}

// strippedKeys returns the sorted top-level keys removed from every migrated
// data payload: legacy bookkeeping columns, the version counter, and the
// type's hidden and untracked columns.
func strippedKeys(desc *schema.Descriptor) []string {
	seen := map[string]struct{}{}
	keys := []string{"change_info", "changed", schema.VersionColumn}
	for _, key := range keys {
		seen[key] = struct{}{}
	}
	add := func(cols []string) {
		for _, col := range cols {
			if _, ok := seen[col]; ok {
				continue
			}
			seen[col] = struct{}{}
			keys = append(keys, col)
		}
	}
	add(desc.Hidden)
	add(desc.Untracked)
	if desc.Base != nil {
		add(desc.Base.Hidden)
		add(desc.Base.Untracked)
	}
	sort.Strings(keys)
	return keys
}

// historyInsertSQL copies shadow-history rows into the activity table in
// snapshot format: the legacy change_info splits into user_info and its
// nested extra annotations. $1 = table_name, $2 = stripped keys; $3 = entity
// id batch when limited. The guarded form skips (key, version) pairs already
// migrated.
func historyInsertSQL(desc *schema.Descriptor, guarded, limited bool) string {
	hist := desc.HistoryTable()
	histKey := keyObject(desc, hist)
	version := fmt.Sprintf("COALESCE(%s, 0)", qualify(hist, schema.VersionColumn))

	query := fmt.Sprintf(
		`INSERT INTO %s (table_name, changed, version, key, data, user_info, extra_info)
SELECT $1, %s, %s,
       %s,
       (%s) - $2::text[],
       COALESCE(%s #- '{extra}', '{}'::jsonb),
       COALESCE(%s -> 'extra', '{}')::jsonb
FROM %s`,
		quoteIdent(activityTable),
		qualify(hist, "changed"), version,
		histKey,
		historyRowJSON(desc),
		qualify(hist, "change_info"),
		qualify(hist, "change_info"),
		historyFrom(desc),
	)

	conds := []string{}
	if limited {
		conds = append(conds, fmt.Sprintf("%s = ANY($3::bigint[])", qualify(hist, desc.PrimaryKey[0])))
	}
	if guarded {
		conds = append(conds, fmt.Sprintf(
			`NOT EXISTS (
	SELECT 1 FROM %s existing
	WHERE existing.table_name = $1 AND existing.key = %s AND existing.version = %s
)`, quoteIdent(activityTable), histKey, version))
	}
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, "\n  AND ")
	}
	return query
}

// currentStateInsertSQL writes one synthetic snapshot per entity capturing
// the live row's present values at the live version number. Same parameters
// as historyInsertSQL.
func currentStateInsertSQL(desc *schema.Descriptor, guarded, limited bool) string {
	versionColumn, err := liveVersionExpr(desc)
	if err != nil {
		// NewConverter rejects descriptors without a version column.
		panic(err)
	}
	version := fmt.Sprintf("COALESCE(%s, 0)", versionColumn)
	liveKey := keyObject(desc, desc.TableName)

	query := fmt.Sprintf(
		`INSERT INTO %s (table_name, changed, version, key, data, user_info, extra_info)
SELECT $1, current_timestamp, %s,
       %s,
       (%s) - $2::text[],
       '{}'::jsonb, '{}'::jsonb
FROM %s`,
		quoteIdent(activityTable),
		version,
		liveKey,
		liveRowJSON(desc),
		liveFrom(desc),
	)

	conds := []string{}
	if limited {
		conds = append(conds, fmt.Sprintf("%s = ANY($3::bigint[])", qualify(desc.TableName, desc.PrimaryKey[0])))
	}
	if guarded {
		conds = append(conds, fmt.Sprintf(
			`NOT EXISTS (
	SELECT 1 FROM %s existing
	WHERE existing.table_name = $1 AND existing.key = %s AND existing.version = %s
)`, quoteIdent(activityTable), liveKey, version))
	}
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, "\n  AND ")
	}
	return query
}

// shiftSQL converts (timestamp, state-before) rows into (timestamp,
// state-as-of) rows: every snapshot takes the changed timestamp, user info
// and extra info of its predecessor in version order, partitioned by entity
// key. The earliest snapshot keeps its own timestamp with empty info.
// $1 = table_name; $2 = entity id batch when limited.
func shiftSQL(desc *schema.Descriptor, limited bool) string {
	where := "WHERE table_name = $1"
	if limited {
		where += fmt.Sprintf(" AND (key->>%s)::bigint = ANY($2::bigint[])", quoteLiteral(desc.PrimaryKey[0]))
	}
	return fmt.Sprintf(
		`WITH lck AS (
	SELECT id,
	       coalesce(lag(changed) OVER w, changed) AS new_changed,
	       coalesce(lag(user_info) OVER w, '{}'::jsonb) AS new_user_info,
	       coalesce(lag(extra_info) OVER w, '{}'::jsonb) AS new_extra_info
	FROM %[1]s
	%[2]s
	WINDOW w AS (PARTITION BY key ORDER BY version)
)
UPDATE %[1]s SET changed = lck.new_changed,
	user_info = lck.new_user_info,
	extra_info = lck.new_extra_info
FROM lck
WHERE %[1]s.id = lck.id`,
		quoteIdent(activityTable), where)
}

// unshiftSQL restores already-migrated rows to the shadow table's original
// timestamps and change info, matched by (key, version), so a partition can
// be re-shifted after new rows are appended. $1 = table_name, $2 = entity id
// batch.
func unshiftSQL(desc *schema.Descriptor) string {
	hist := desc.HistoryTable()
	return fmt.Sprintf(
		`UPDATE %[1]s SET changed = %[2]s,
	user_info = COALESCE(%[3]s #- '{extra}', '{}'::jsonb),
	extra_info = COALESCE(%[3]s -> 'extra', '{}')::jsonb
FROM %[4]s
WHERE %[1]s.table_name = $1
  AND %[1]s.key = %[5]s
  AND %[1]s.version = COALESCE(%[6]s, 0)
  AND %[7]s = ANY($2::bigint[])`,
		quoteIdent(activityTable),
		qualify(hist, "changed"),
		qualify(hist, "change_info"),
		historyFrom(desc),
		keyObject(desc, hist),
		qualify(hist, schema.VersionColumn),
		qualify(hist, desc.PrimaryKey[0]),
	)
}

// createdAtBackfillSQL rewrites each entity's version-0 snapshot timestamp to
// the live row's creation timestamp. Returns "" when the descriptor names no
// created_at column. $1 = table_name; $2 = entity id batch when limited.
func createdAtBackfillSQL(desc *schema.Descriptor, limited bool) string {
	created := createdAtExpr(desc)
	if created == "" {
		return ""
	}
	where := ""
	if limited {
		where = fmt.Sprintf("WHERE %s = ANY($2::bigint[])", qualify(desc.TableName, desc.PrimaryKey[0]))
	}
	return fmt.Sprintf(
		`UPDATE %[1]s SET changed = src.created_at
FROM (
	SELECT %[2]s AS key, %[3]s AS created_at
	FROM %[4]s
	%[5]s
) src
WHERE %[1]s.table_name = $1 AND %[1]s.version = 0 AND %[1]s.key = src.key`,
		quoteIdent(activityTable),
		keyObject(desc, desc.TableName),
		created,
		liveFrom(desc),
		where)
}
