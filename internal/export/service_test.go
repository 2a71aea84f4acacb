package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"reflect"
	"testing"
	"time"

	"github.com/openaudit/chronolog/internal/changeinfo"
	"github.com/openaudit/chronolog/internal/domain"
	"github.com/openaudit/chronolog/internal/repository"
	"github.com/openaudit/chronolog/internal/schema"
)

func exportDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		TableName:  "todos",
		PrimaryKey: []string{"id"},
		Columns:    []string{"id", "title", "text", "version"},
	}
}

func seedTrail(t *testing.T) *repository.MemoryActivityRepository {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryActivityRepository()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	rows := []domain.ActivitySnapshot{
		{
			TableName: "todos",
			Changed:   base,
			Version:   0,
			Key:       map[string]any{"id": int64(1)},
			Data:      map[string]any{"id": int64(1), "title": "Task 0"},
			UserInfo:  map[string]any{changeinfo.UserIDKey: "alice", changeinfo.RemoteAddrKey: "10.0.0.1"},
			ExtraInfo: map[string]any{},
		},
		{
			TableName: "todos",
			Changed:   base.Add(time.Hour),
			Version:   1,
			Key:       map[string]any{"id": int64(1)},
			Data:      map[string]any{"id": int64(1), "title": "Task 0.1", "text": "notes"},
			UserInfo:  map[string]any{changeinfo.UserIDKey: "bob"},
			ExtraInfo: map[string]any{"rationale": "edited"},
		},
	}
	for _, row := range rows {
		if _, err := store.Insert(ctx, row); err != nil {
			t.Fatalf("seed insert failed: %v", err)
		}
	}
	return store
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	store := seedTrail(t)
	service := NewService(store)

	var buf bytes.Buffer
	err := service.ExportCSV(ctx, &buf, exportDescriptor(), map[string]any{"id": int64(1)}, repository.TimeBounds{})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse export: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d records", len(records))
	}

	// Meta columns first, then the sorted union of data fields.
	wantHeader := []string{"version", "changed", "user_id", "remote_addr", "extra_info", "id", "text", "title"}
	if !reflect.DeepEqual(records[0], wantHeader) {
		t.Fatalf("unexpected header: %v", records[0])
	}

	first := records[1]
	if first[0] != "0" || first[2] != "alice" || first[3] != "10.0.0.1" {
		t.Fatalf("unexpected first row: %v", first)
	}
	if first[1] != "2024-01-01T12:00:00.000000+00:00" {
		t.Fatalf("unexpected changed timestamp: %v", first[1])
	}
	// A field absent from this version exports as empty.
	if first[6] != "" || first[7] != "Task 0" {
		t.Fatalf("unexpected data columns: %v", first)
	}

	second := records[2]
	if second[0] != "1" || second[6] != "notes" || second[7] != "Task 0.1" {
		t.Fatalf("unexpected second row: %v", second)
	}
	if second[4] != `{"rationale":"edited"}` {
		t.Fatalf("unexpected extra info column: %v", second[4])
	}
}

func TestExportCSVEmptyTrail(t *testing.T) {
	ctx := context.Background()
	service := NewService(repository.NewMemoryActivityRepository())

	var buf bytes.Buffer
	err := service.ExportCSV(ctx, &buf, exportDescriptor(), map[string]any{"id": int64(404)}, repository.TimeBounds{})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse export: %v", err)
	}
	if len(records) != 1 || len(records[0]) != len(metaColumns) {
		t.Fatalf("expected a bare meta header, got %v", records)
	}
}

func TestExportXLSXProducesWorkbook(t *testing.T) {
	ctx := context.Background()
	store := seedTrail(t)
	service := NewService(store, WithSheetName("History"))

	var buf bytes.Buffer
	err := service.ExportXLSX(ctx, &buf, exportDescriptor(), map[string]any{"id": int64(1)}, repository.TimeBounds{})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	// XLSX workbooks are zip archives.
	if buf.Len() < 4 || buf.Bytes()[0] != 'P' || buf.Bytes()[1] != 'K' {
		t.Fatalf("expected a zip container, got %d bytes", buf.Len())
	}
}
