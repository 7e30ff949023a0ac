package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"nonlinear-editor-backend/internal/database"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.database(cmd.Context())
			if err != nil {
				return err
			}
			migrator := database.NewMigrator(db.DB(), ctx.logger)
			out := cmd.OutOrStdout()

			if statusOnly {
				pending, err := migrator.Pending(cmd.Context())
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(out, "Database is up to date")
					return nil
				}
				fmt.Fprintf(out, "%d pending migration(s):\n", len(pending))
				for _, name := range pending {
					fmt.Fprintf(out, "  %s\n", name)
				}
				return nil
			}

			applied, err := migrator.Run(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "No migrations to apply")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(out, "Applied %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "List pending migrations without applying them")
	return cmd
}
