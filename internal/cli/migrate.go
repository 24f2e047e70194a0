package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/powrelay/internal/storage/migrations"
	"github.com/cuongbtq/powrelay/shared/postgresql"
)

var migrateDirections = []string{"up", "down"}

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or revert the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrateDirections,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, rootOpts, args[0])
		},
	}
}

func runMigrate(cmd *cobra.Command, opts *RootOptions, direction string) error {
	cfg, log, err := opts.load(cmd)
	if err != nil {
		return err
	}

	if cfg.Database.Host == "" || cfg.Database.Database == "" {
		return fmt.Errorf("database host and name are required")
	}

	client, err := postgresql.NewClient(cmd.Context(), cfg.PostgresConfig(), log.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer client.Close()

	return client.Migrate(migrations.FS, direction)
}
