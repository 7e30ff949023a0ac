package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"nonlinear-editor-backend/internal/validation"
)

func newUsageCommand(ctx *commandContext) *cobra.Command {
	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Manage monthly generation counters",
	}
	usageCmd.AddCommand(newUsageResetCommand(ctx))
	return usageCmd
}

func newUsageResetCommand(ctx *commandContext) *cobra.Command {
	var due bool

	cmd := &cobra.Command{
		Use:   "reset [user-id]",
		Short: "Zero a user's generation counters, or every counter past its reset time with --due",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if due == (len(args) == 1) {
				return errors.New("pass either a user id or --due")
			}
			if due {
				db, err := ctx.database(cmd.Context())
				if err != nil {
					return err
				}
				n, err := db.ResetExpiredUsage(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset usage for %d profile(s)\n", n)
				return nil
			}

			userID, err := validation.ParseUUID("user id", args[0])
			if err != nil {
				return err
			}
			db, err := ctx.database(cmd.Context())
			if err != nil {
				return err
			}
			if err := db.ResetUsage(cmd.Context(), userID, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset usage for %s\n", userID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&due, "due", false, "Reset every profile whose monthly reset time has passed")
	return cmd
}
