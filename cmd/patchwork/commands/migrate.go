package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/patchwork/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the package database",
		Long: `Apply every pending schema migration to the package database and
print the resulting schema version. Other commands migrate on open; this
command only prepares the database.`,
		Example: `  patchwork migrate --db /var/lib/patchwork/patchwork.db`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := stores.Open(cmd.Context(), stores.Config{
				Path:         cfg.Database.Path,
				MaxOpenConns: cfg.Database.MaxOpenConns,
			})
			if err != nil {
				return fmt.Errorf("failed to migrate %s: %w", cfg.Database.Path, err)
			}
			defer store.Close()

			version, dirty, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			if dirty {
				return fmt.Errorf("database %s is at dirty schema version %d", cfg.Database.Path, version)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", cfg.Database.Path, version)
			return nil
		},
	}

	return cmd
}
