package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openaudit/chronolog/internal/domain"
)

// MemoryActivityRepository is an in-memory ActivityRepository with the same
// ordering and lookup semantics as the Postgres implementation. Used by the
// test suites and suitable for embedded, non-durable deployments.
type MemoryActivityRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   []domain.ActivitySnapshot
}

// NewMemoryActivityRepository creates an empty in-memory store.
func NewMemoryActivityRepository() *MemoryActivityRepository {
	return &MemoryActivityRepository{nextID: 1}
}

func canonicalKey(key map[string]any) (string, error) {
	encoded, err := json.Marshal(nonNil(key))
	if err != nil {
		return "", fmt.Errorf("failed to marshal entity key: %w", err)
	}
	return string(encoded), nil
}

func (r *MemoryActivityRepository) Insert(ctx context.Context, snap domain.ActivitySnapshot) (domain.ActivitySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap.ID = r.nextID
	r.nextID++
	snap.Key = domain.CloneValues(snap.Key)
	snap.Data = domain.CloneValues(snap.Data)
	snap.UserInfo = domain.CloneValues(snap.UserInfo)
	snap.ExtraInfo = domain.CloneValues(snap.ExtraInfo)
	r.rows = append(r.rows, snap)
	return snap, nil
}

func (r *MemoryActivityRepository) matchingRows(tableName string, key map[string]any) ([]domain.ActivitySnapshot, error) {
	wantKey, err := canonicalKey(key)
	if err != nil {
		return nil, err
	}

	matched := []domain.ActivitySnapshot{}
	for _, row := range r.rows {
		if row.TableName != tableName {
			continue
		}
		rowKey, err := canonicalKey(row.Key)
		if err != nil {
			return nil, err
		}
		if rowKey == wantKey {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

func (r *MemoryActivityRepository) ListByEntity(ctx context.Context, tableName string, key map[string]any, bounds TimeBounds) ([]domain.ActivitySnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched, err := r.matchingRows(tableName, key)
	if err != nil {
		return nil, err
	}

	filtered := matched[:0]
	for _, row := range matched {
		if bounds.Before != nil && row.Changed.After(*bounds.Before) {
			continue
		}
		if bounds.After != nil && row.Changed.Before(*bounds.After) {
			continue
		}
		filtered = append(filtered, row)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].Changed.Equal(filtered[j].Changed) {
			return filtered[i].Changed.Before(filtered[j].Changed)
		}
		return filtered[i].Version < filtered[j].Version
	})
	return append([]domain.ActivitySnapshot(nil), filtered...), nil
}

func (r *MemoryActivityRepository) LatestBefore(ctx context.Context, tableName string, key map[string]any, at time.Time) (*domain.ActivitySnapshot, error) {
	rows, err := r.ListByEntity(ctx, tableName, key, TimeBounds{Before: &at})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[len(rows)-1]
	return &latest, nil
}

func (r *MemoryActivityRepository) ByVersion(ctx context.Context, tableName string, key map[string]any, version int64) (*domain.ActivitySnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched, err := r.matchingRows(tableName, key)
	if err != nil {
		return nil, err
	}
	for _, row := range matched {
		if row.Version == version {
			found := row
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryActivityRepository) MaxVersion(ctx context.Context, tableName string, key map[string]any) (int64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched, err := r.matchingRows(tableName, key)
	if err != nil {
		return 0, false, err
	}
	if len(matched) == 0 {
		return 0, false, nil
	}
	max := matched[0].Version
	for _, row := range matched[1:] {
		if row.Version > max {
			max = row.Version
		}
	}
	return max, true, nil
}

func (r *MemoryActivityRepository) DeleteVersion(ctx context.Context, tableName string, key map[string]any, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantKey, err := canonicalKey(key)
	if err != nil {
		return err
	}
	kept := r.rows[:0]
	for _, row := range r.rows {
		rowKey, err := canonicalKey(row.Key)
		if err != nil {
			return err
		}
		if row.TableName == tableName && rowKey == wantKey && row.Version == version {
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return nil
}

// Len reports the number of stored rows, across all entities.
func (r *MemoryActivityRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
