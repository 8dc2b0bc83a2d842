package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/agentbank/internal/app/storage/postgres"
	"github.com/R3E-Network/agentbank/internal/platform/migrations"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("DATABASE_DSN is required to migrate")
			}
			db, err := postgres.Open(cmd.Context(), cfg.Database.DSN, 1, 1)
			if err != nil {
				return err
			}
			defer db.Close()

			out := NewPrinter(cmd.OutOrStdout())
			if down {
				if err := migrations.Down(db, log.WithComponent("migrations")); err != nil {
					return fmt.Errorf("roll back: %w", err)
				}
				out.Success("schema rolled back")
				return nil
			}
			if err := migrations.Apply(db, log.WithComponent("migrations")); err != nil {
				return err
			}
			out.Success("schema is current")
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back every migration")
	return cmd
}
