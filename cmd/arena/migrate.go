package main

import (
	"fmt"

	"botarena/internal/arena/repository"
	"botarena/internal/common/db"

	"github.com/spf13/cobra"
)

func newMigrateCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			database, err := db.Open(ctx, &state.cfg.Database.Config)
			if err != nil {
				return fmt.Errorf("init database failed: %w", err)
			}
			defer database.Close()

			applied, err := repository.Migrate(ctx, database)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}
