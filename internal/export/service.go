package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/openaudit/chronolog/internal/changeinfo"
	"github.com/openaudit/chronolog/internal/domain"
	"github.com/openaudit/chronolog/internal/repository"
	"github.com/openaudit/chronolog/internal/schema"
)

// Fixed leading columns of every export; the entity's own snapshotted fields
// follow in sorted order.
var metaColumns = []string{"version", "changed", "user_id", "remote_addr", "extra_info"}

// Service exports an entity's audit trail from the activity table to CSV or
// XLSX.
type Service struct {
	store     repository.ActivityRepository
	sheetName string
}

type Option func(*Service)

// WithSheetName customizes the XLSX sheet name.
func WithSheetName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.sheetName = name
		}
	}
}

func NewService(store repository.ActivityRepository, opts ...Option) *Service {
	service := &Service{
		store:     store,
		sheetName: "Audit Trail",
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ExportCSV streams the audit trail for one entity as CSV.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, desc *schema.Descriptor, key map[string]any, bounds repository.TimeBounds) error {
	rows, fields, err := s.trail(ctx, desc, key, bounds)
	if err != nil {
		return err
	}

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(append(append([]string{}, metaColumns...), fields...)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		record, err := exportRecord(row, fields)
		if err != nil {
			return err
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	log.Printf("[EXPORT] wrote %d rows for table=%s as csv", len(rows), desc.TableName)
	return nil
}

// ExportXLSX writes the audit trail for one entity as an XLSX workbook.
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer, desc *schema.Descriptor, key map[string]any, bounds repository.TimeBounds) error {
	rows, fields, err := s.trail(ctx, desc, key, bounds)
	if err != nil {
		return err
	}

	book := excelize.NewFile()
	defer book.Close()

	index, err := book.NewSheet(s.sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	book.SetActiveSheet(index)
	if err := book.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	header := append(append([]string{}, metaColumns...), fields...)
	if err := s.writeSheetRow(book, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		record, err := exportRecord(row, fields)
		if err != nil {
			return err
		}
		if err := s.writeSheetRow(book, i+2, record); err != nil {
			return err
		}
	}

	if err := book.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	log.Printf("[EXPORT] wrote %d rows for table=%s as xlsx", len(rows), desc.TableName)
	return nil
}

func (s *Service) writeSheetRow(book *excelize.File, rowIndex int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowIndex)
	if err != nil {
		return fmt.Errorf("resolve cell: %w", err)
	}
	row := make([]any, len(values))
	for i, value := range values {
		row[i] = value
	}
	if err := book.SetSheetRow(s.sheetName, cell, &row); err != nil {
		return fmt.Errorf("write sheet row: %w", err)
	}
	return nil
}

// trail loads the entity's snapshots and computes the sorted union of their
// data field names.
func (s *Service) trail(ctx context.Context, desc *schema.Descriptor, key map[string]any, bounds repository.TimeBounds) ([]domain.ActivitySnapshot, []string, error) {
	rows, err := s.store.ListByEntity(ctx, desc.TableName, key, bounds)
	if err != nil {
		return nil, nil, fmt.Errorf("list audit trail: %w", err)
	}

	fieldSet := map[string]struct{}{}
	for _, row := range rows {
		for name := range row.Data {
			fieldSet[name] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return rows, fields, nil
}

func exportRecord(row domain.ActivitySnapshot, fields []string) ([]string, error) {
	extraJSON, err := json.Marshal(row.ExtraInfo)
	if err != nil {
		return nil, fmt.Errorf("encode extra info: %w", err)
	}
	record := []string{
		fmt.Sprintf("%d", row.Version),
		domain.SerializeTime(row.Changed),
		formatValue(row.UserInfo[changeinfo.UserIDKey]),
		formatValue(row.UserInfo[changeinfo.RemoteAddrKey]),
		string(extraJSON),
	}
	for _, field := range fields {
		record = append(record, formatValue(row.Data[field]))
	}
	return record, nil
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
