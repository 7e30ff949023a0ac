package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "editorctl",
		Short:         "Operator tools for the editor backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newUsageCommand(ctx))
	rootCmd.AddCommand(newTierCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))

	return rootCmd
}
