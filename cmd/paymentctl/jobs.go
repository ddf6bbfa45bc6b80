package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"savings/internal/app"
)

func replayCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "replay-crediting",
		Short: "Retry post-settlement steps that failed after a payment succeeded",
		Long: `Replays the crediting task queue oldest first. Each step (credit target,
write transaction log, notify) is idempotent, so replaying a task that already
completed elsewhere only marks it resolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *app.Container) error {
				report, err := c.Crediting.ReplayPending(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d resolved=%d failed=%d\n",
					report.Attempted, report.Resolved, report.Failed)
				if report.Failed > 0 {
					return fmt.Errorf("%d crediting tasks still failing", report.Failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of tasks to replay")
	return cmd
}

func expireCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "expire-pending",
		Short: "Resolve payments left pending past a cutoff",
		Long: `Verifies every payment pending for longer than --older-than with the
gateway. Payments the gateway reports as settled are settled normally; the
rest are marked failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withContainer(cmd.Context(), func(c *app.Container) error {
				report, err := c.Reconciler.ExpireStale(cmd.Context(), olderThan, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checked=%d settled=%d expired=%d errors=%d\n",
					report.Checked, report.Settled, report.Expired, report.Errors)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Age after which a pending payment is stale")
	cmd.Flags().IntVar(&limit, "limit", 500, "Maximum number of payments to check")
	return cmd
}
