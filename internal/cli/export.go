package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openaudit/chronolog/internal/export"
	"github.com/openaudit/chronolog/internal/repository"
)

// NewExportCommand creates the export command: write one entity's audit
// trail to a CSV or XLSX file.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var keyRaw string
	var outPath string

	cmd := &cobra.Command{
		Use:          "export <table>",
		Short:        "Export an entity's audit trail to CSV or XLSX",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, registry, conn, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer conn.Close()

			desc, err := lookupType(registry, args[0])
			if err != nil {
				return err
			}

			key := map[string]any{}
			if err := json.Unmarshal([]byte(keyRaw), &key); err != nil {
				return fmt.Errorf("invalid --key value %q: %w", keyRaw, err)
			}

			out, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer out.Close()

			store := repository.NewActivityRepository(conn.Pool)
			service := export.NewService(store)

			switch strings.ToLower(filepath.Ext(outPath)) {
			case ".xlsx":
				err = service.ExportXLSX(cmd.Context(), out, desc, key, repository.TimeBounds{})
			default:
				err = service.ExportCSV(cmd.Context(), out, desc, key, repository.TimeBounds{})
			}
			if err != nil {
				return err
			}
			fmt.Printf("exported audit trail to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyRaw, "key", "", `entity key as JSON, e.g. '{"id": 42}'`)
	cmd.Flags().StringVar(&outPath, "out", "audit.csv", "output file (.csv or .xlsx)")
	cmd.MarkFlagRequired("key")
	return cmd
}
