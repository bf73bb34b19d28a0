package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll every configured partition and reconcile continuously",
		Long: `Starts one monitor per configured partition. Each monitor polls its
listing on the configured interval during working hours and reconciles the
snapshot into the store.

Alongside the monitors, the timeout sweep finalizes entities unseen for the
grace window and the purge job removes days older than the retention.

When metrics are enabled, /metrics, /health and /status are served on
metrics.listen_address. Editing the config file updates the grace window,
the finalize mode and the debounce interval without a restart.

The process stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Run(ctx)
}
