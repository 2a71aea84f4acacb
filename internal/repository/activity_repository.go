package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openaudit/chronolog/internal/domain"
)

const activityColumns = "id, table_name, changed, version, key, data, user_info, extra_info"

// activityRepository implements ActivityRepository over the shared Postgres
// activity table.
type activityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository wires a repository backed by pgxpool.
func NewActivityRepository(pool *pgxpool.Pool) ActivityRepository {
	return &activityRepository{pool: pool}
}

func (r *activityRepository) Insert(ctx context.Context, snap domain.ActivitySnapshot) (domain.ActivitySnapshot, error) {
	keyJSON, dataJSON, userJSON, extraJSON, err := marshalPayloads(snap)
	if err != nil {
		return domain.ActivitySnapshot{}, err
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO activity (table_name, changed, version, key, data, user_info, extra_info)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		snap.TableName,
		snap.Changed,
		snap.Version,
		keyJSON,
		dataJSON,
		userJSON,
		extraJSON,
	)
	if err := row.Scan(&snap.ID); err != nil {
		return domain.ActivitySnapshot{}, fmt.Errorf("failed to insert activity row: %w", err)
	}
	return snap, nil
}

func (r *activityRepository) ListByEntity(ctx context.Context, tableName string, key map[string]any, bounds TimeBounds) ([]domain.ActivitySnapshot, error) {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity key: %w", err)
	}

	query := `SELECT ` + activityColumns + `
		 FROM activity
		 WHERE table_name = $1 AND key = $2::jsonb`
	args := []any{tableName, keyJSON}
	if bounds.Before != nil {
		args = append(args, *bounds.Before)
		query += fmt.Sprintf(" AND changed <= $%d", len(args))
	}
	if bounds.After != nil {
		args = append(args, *bounds.After)
		query += fmt.Sprintf(" AND changed >= $%d", len(args))
	}
	query += " ORDER BY changed ASC, version ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity rows: %w", err)
	}
	defer rows.Close()

	snapshots := []domain.ActivitySnapshot{}
	for rows.Next() {
		snap, err := scanActivityRow(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity rows: %w", err)
	}
	return snapshots, nil
}

func (r *activityRepository) LatestBefore(ctx context.Context, tableName string, key map[string]any, at time.Time) (*domain.ActivitySnapshot, error) {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity key: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT `+activityColumns+`
		 FROM activity
		 WHERE table_name = $1 AND key = $2::jsonb AND changed <= $3
		 ORDER BY changed DESC, version DESC
		 LIMIT 1`,
		tableName, keyJSON, at,
	)
	snap, err := scanActivityRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func (r *activityRepository) ByVersion(ctx context.Context, tableName string, key map[string]any, version int64) (*domain.ActivitySnapshot, error) {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity key: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT `+activityColumns+`
		 FROM activity
		 WHERE table_name = $1 AND key = $2::jsonb AND version = $3`,
		tableName, keyJSON, version,
	)
	snap, err := scanActivityRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func (r *activityRepository) MaxVersion(ctx context.Context, tableName string, key map[string]any) (int64, bool, error) {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal entity key: %w", err)
	}

	var max *int64
	err = r.pool.QueryRow(
		ctx,
		`SELECT MAX(version) FROM activity WHERE table_name = $1 AND key = $2::jsonb`,
		tableName, keyJSON,
	).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("failed to compute max snapshot version: %w", err)
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

func (r *activityRepository) DeleteVersion(ctx context.Context, tableName string, key map[string]any, version int64) error {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal entity key: %w", err)
	}

	if _, err := r.pool.Exec(
		ctx,
		`DELETE FROM activity WHERE table_name = $1 AND key = $2::jsonb AND version = $3`,
		tableName, keyJSON, version,
	); err != nil {
		return fmt.Errorf("failed to delete activity row: %w", err)
	}
	return nil
}

func marshalPayloads(snap domain.ActivitySnapshot) (key, data, user, extra []byte, err error) {
	if key, err = json.Marshal(nonNil(snap.Key)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal snapshot key: %w", err)
	}
	if data, err = json.Marshal(nonNil(snap.Data)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal snapshot data: %w", err)
	}
	if user, err = json.Marshal(nonNil(snap.UserInfo)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal snapshot user info: %w", err)
	}
	if extra, err = json.Marshal(nonNil(snap.ExtraInfo)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal snapshot extra info: %w", err)
	}
	return key, data, user, extra, nil
}

func nonNil(values map[string]any) map[string]any {
	if values == nil {
		return map[string]any{}
	}
	return values
}

func scanActivityRow(row pgx.Row) (domain.ActivitySnapshot, error) {
	var (
		snap      domain.ActivitySnapshot
		keyJSON   []byte
		dataJSON  []byte
		userJSON  []byte
		extraJSON []byte
	)
	if err := row.Scan(
		&snap.ID,
		&snap.TableName,
		&snap.Changed,
		&snap.Version,
		&keyJSON,
		&dataJSON,
		&userJSON,
		&extraJSON,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ActivitySnapshot{}, err
		}
		return domain.ActivitySnapshot{}, fmt.Errorf("failed to scan activity row: %w", err)
	}

	for _, payload := range []struct {
		raw  []byte
		dest *map[string]any
		name string
	}{
		{keyJSON, &snap.Key, "key"},
		{dataJSON, &snap.Data, "data"},
		{userJSON, &snap.UserInfo, "user_info"},
		{extraJSON, &snap.ExtraInfo, "extra_info"},
	} {
		if err := json.Unmarshal(payload.raw, payload.dest); err != nil {
			return domain.ActivitySnapshot{}, fmt.Errorf("failed to decode activity %s payload: %w", payload.name, err)
		}
	}
	return snap, nil
}
