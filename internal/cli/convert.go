package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openaudit/chronolog/internal/migration"
)

// NewConvertCommand creates the convert command: chunked, resumable
// conversion of one entity type's legacy shadow-history table.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	var batchSize int
	var drain bool

	cmd := &cobra.Command{
		Use:          "convert <table>",
		Short:        "Convert a legacy history table into the activity table, in batches",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, registry, conn, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer conn.Close()

			desc, err := lookupType(registry, args[0])
			if err != nil {
				return err
			}
			converter, err := migration.NewConverter(conn.Pool, desc)
			if err != nil {
				return err
			}

			size := batchSize
			if size <= 0 {
				size = cfg.Migration.BatchSize
			}

			total := 0
			for {
				count, err := converter.Convert(cmd.Context(), size)
				if err != nil {
					return err
				}
				total += count
				fmt.Printf("converted %d rows\n", count)
				if count == 0 || !drain {
					break
				}
			}
			fmt.Printf("total: %d rows\n", total)
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "entities per batch (default from config)")
	cmd.Flags().BoolVar(&drain, "drain", false, "repeat batches until exhausted")
	return cmd
}

// NewConvertAllCommand creates the convert-all command: single unchunked
// conversion pass. Must only run once per entity type.
func NewConvertAllCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "convert-all <table>",
		Short:        "Convert a legacy history table in one pass (run once per type)",
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
			converter, err := migration.NewConverter(conn.Pool, desc)
			if err != nil {
				return err
			}
			count, err := converter.ConvertAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("converted %d rows\n", count)
			return nil
		},
	}
}

// NewUpdateCommand creates the update command: incremental top-up after an
// initial conversion, for minimal-downtime cutovers.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var sinceRaw string

	cmd := &cobra.Command{
		Use:          "update <table>",
		Short:        "Top up a previous conversion with changes made since",
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
			converter, err := migration.NewConverter(conn.Pool, desc)
			if err != nil {
				return err
			}

			var since *time.Time
			if sinceRaw != "" {
				parsed, err := time.Parse(time.RFC3339, sinceRaw)
				if err != nil {
					return fmt.Errorf("invalid --since value %q: %w", sinceRaw, err)
				}
				since = &parsed
			}

			count, err := converter.Update(cmd.Context(), since)
			if err != nil {
				return err
			}
			fmt.Printf("appended %d rows\n", count)
			return nil
		},
	}

	cmd.Flags().StringVar(&sinceRaw, "since", "", "explicit watermark (RFC3339); default: latest migrated timestamp")
	return cmd
}
