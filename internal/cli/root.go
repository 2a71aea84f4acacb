package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openaudit/chronolog/internal/config"
	"github.com/openaudit/chronolog/internal/db"
	"github.com/openaudit/chronolog/internal/schema"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command for the chronolog CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "chronolog",
		Short: "Audit-versioning administration",
		Long: `Administrative operations for the chronolog audit-versioning layer:
schema migrations, legacy history-table conversion, audit-trail export and
the read-only audit API server.`,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", ".", "directory containing config.yaml")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewConvertCommand(opts))
	cmd.AddCommand(NewConvertAllCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// loadConfig reads the configuration for the invoked command.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// connect opens the database pool and builds the type registry.
func connect(ctx context.Context, opts *RootOptions) (config.Config, *schema.Registry, *db.Connection, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cfg, registry, conn, nil
}

// lookupType resolves a registered entity type or fails with the known names.
func lookupType(registry *schema.Registry, tableName string) (*schema.Descriptor, error) {
	desc, ok := registry.Lookup(tableName)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q; registered types: %v", tableName, registry.Tables())
	}
	return desc, nil
}
