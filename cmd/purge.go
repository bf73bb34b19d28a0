package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"queuewatch/internal/storage"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete history older than the retention window",
		Long: `Deletes every entity whose reference day is older than
storage.cleanup_retention_days days and exits.`,
		Args: cobra.NoArgs,
		RunE: runPurge,
	}
}

func runPurge(cmd *cobra.Command, args []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()
	warnEphemeral(cmd, application)

	s := application.Services()
	n, err := s.Purge(cmd.Context())
	if err != nil {
		return err
	}

	cutoff := storage.RetentionCutoff(s.Clock.Now(), s.Config.Storage.CleanupRetentionDays, s.Location)
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d entities with reference day before %s\n", n, cutoff)
	return nil
}
