package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"queuewatch/internal/formatting"
	"queuewatch/internal/server"
)

var (
	statusDay       string
	statusPartition string
	statusOutput    string
	statusServer    string
	statusNoColor   bool
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daily queue summary or the monitor heartbeats",
		Long: `Without --server, reads the store and prints one row per partition for
the selected day: waiting, in service, finalized, total and the average
wait of finalized entities.

With --server, asks a running "queuewatch serve" for the heartbeat of each
monitor instead.`,
		Example: `  queuewatch status
  queuewatch status --day 2026-03-09 --partition centro -o json
  queuewatch status --server localhost:9108`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	cmd.Flags().StringVar(&statusDay, "day", "", "reference day as YYYY-MM-DD (default: today)")
	cmd.Flags().StringVarP(&statusPartition, "partition", "p", "", "limit the summary to one partition")
	cmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format: table, json or yaml")
	cmd.Flags().StringVar(&statusServer, "server", "", "address of a running serve process to read heartbeats from")
	cmd.Flags().BoolVar(&statusNoColor, "no-color", false, "disable colored table output")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseOutputFormat(statusOutput)
	if err != nil {
		return err
	}
	formatter := formatting.New(formatting.Options{Format: format, Color: !statusNoColor})

	if statusServer != "" {
		heartbeats, err := server.FetchHeartbeats(cmd.Context(), nil, statusServer)
		if err != nil {
			return err
		}
		return formatter.FormatHeartbeats(cmd.OutOrStdout(), heartbeats)
	}

	if statusDay != "" {
		if _, err := time.Parse(time.DateOnly, statusDay); err != nil {
			return fmt.Errorf("invalid --day %q, expected YYYY-MM-DD", statusDay)
		}
	}

	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()
	warnEphemeral(cmd, application)

	summaries, err := application.Services().Summaries(cmd.Context(), statusPartition, statusDay)
	if err != nil {
		return err
	}
	return formatter.FormatSummaries(cmd.OutOrStdout(), summaries)
}
