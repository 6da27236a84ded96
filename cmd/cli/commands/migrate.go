package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateCmd creates the migrate command
func MigrateCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres migrations or create mongo indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.Database(); err != nil {
				return err
			}

			switch {
			case app.postgres != nil:
				applied, err := app.postgres.RunMigrations(app.Ctx, app.Logger)
				if err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				fmt.Printf("\n✓ Postgres migrations applied: %d\n", len(applied))
			case app.mongo != nil:
				if err := app.mongo.EnsureIndexes(app.Ctx); err != nil {
					return fmt.Errorf("failed to create indexes: %w", err)
				}
				fmt.Println("\n✓ Mongo indexes created")
			}
			return nil
		},
	}
}
