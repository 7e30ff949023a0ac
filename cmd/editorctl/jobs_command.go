package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/services"
)

const (
	defaultStaleAge = 30 * time.Minute
	promptColumn    = 40
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and expire generation jobs",
	}
	jobsCmd.AddCommand(newJobsStaleCommand(ctx))
	jobsCmd.AddCommand(newJobsExpireCommand(ctx))
	return jobsCmd
}

func newJobsStaleCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List unfinished jobs older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.database(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := db.ListStaleJobs(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stale jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(jobs, time.Now()))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", defaultStaleAge, "Minimum job age")
	return cmd
}

func newJobsExpireCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Fail unfinished jobs older than --older-than and refund their generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			db, err := ctx.database(cmd.Context())
			if err != nil {
				return err
			}
			c, err := cache.New(cache.Options{Name: "editorctl", MaxEntries: 100})
			if err != nil {
				return err
			}
			defer c.Close()

			usage := services.NewUsageService(db, db, c, ctx.logger)
			projects := services.NewProjectService(db, nil, usage, c, nil, ctx.logger)
			gen := services.NewGenerationService(db, nil, nil, projects, usage, c, nil, ctx.logger, ctx.config.GenerationJobTimeout)

			n, err := gen.ExpireStale(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d job(s)\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", defaultStaleAge, "Minimum job age")
	return cmd
}

func renderJobs(jobs []models.ProcessingJob, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID.String(),
			j.UserID.String(),
			string(j.Kind),
			string(j.Status),
			strconv.Itoa(j.Progress) + "%",
			humanize.RelTime(j.CreatedAt, now, "ago", "from now"),
			truncatePrompt(j.Prompt, promptColumn),
		})
	}
	return renderTable(
		[]string{"Job", "User", "Kind", "Status", "Progress", "Created", "Prompt"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func truncatePrompt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
