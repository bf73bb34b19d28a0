package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepPartitions []string

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Finalize entities that have not been seen for the grace window",
		Long: `Runs the timeout sweep once and exits. Every active entity whose last
sighting is at least engine.grace_window_seconds old is finalized with
reason "timeout", whether or not a poll observed its absence.

Useful after an outage of the serve process, or from cron when serve runs
without its own sweep loop. Requires a persistent storage driver.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
	cmd.Flags().StringSliceVarP(&sweepPartitions, "partition", "p", nil, "partitions to sweep (default: all configured)")
	return cmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()
	warnEphemeral(cmd, application)

	n, err := application.Services().Sweep(cmd.Context(), sweepPartitions...)
	fmt.Fprintf(cmd.OutOrStdout(), "Finalized %d entities\n", n)
	return err
}
