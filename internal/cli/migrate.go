package cli

import (
	"github.com/spf13/cobra"

	"github.com/openaudit/chronolog/internal/db"
)

// NewMigrateCommand creates the migrate command: apply the embedded activity
// table schema migrations.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Apply activity table schema migrations",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			return db.RunMigrations(cfg.Database)
		},
	}
}
