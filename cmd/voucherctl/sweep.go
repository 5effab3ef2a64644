package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepThreshold time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Recover transactions left behind by a crash or restart",
	Long: `Stale PENDING transactions are processed in this process, VERIFIED ones are
paid out, and VERIFYING or TRANSFER_PENDING ones move to MANUAL_REVIEW.

Do not run this while the server is still processing the same database with
a threshold shorter than its verify timeout.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepThreshold, "threshold", 15*time.Minute, "minimum age since the last status change")
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	requeue := func(id string) error {
		fmt.Printf("processing %s\n", id)
		return a.Service.Process(ctx, id)
	}
	report, err := a.Service.Sweep(ctx, sweepThreshold, requeue)
	fmt.Printf("requeued=%d resumed=%d escalated=%d\n", report.Requeued, report.Resumed, report.Escalated)
	return err
}
