package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"queuewatch/internal/app"
)

// newApplication bootstraps the application from the persistent flags.
// Callers must Close the returned application.
func newApplication(cmd *cobra.Command) (*app.Application, error) {
	cfg := app.NewConfig(configPath, envFile, logLevel)
	cfg.LogOutput = cmd.ErrOrStderr()

	application, err := app.NewApplication(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, nil
}

// warnEphemeral notes that one-shot commands see an empty store when the
// memory driver is configured.
func warnEphemeral(cmd *cobra.Command, application *app.Application) {
	if driver := application.Services().Config.Storage.Driver; driver == "" || driver == "memory" {
		fmt.Fprintln(cmd.ErrOrStderr(), "note: storage.driver is memory; this command only sees data created by this process")
	}
}
