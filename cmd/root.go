package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"queuewatch/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfig indicates the configuration could not be loaded or is invalid.
	ExitCodeConfig = 2
)

var (
	// configPath is the YAML configuration file. Empty selects the user config.
	configPath string

	// envFile is an optional dotenv file layered under the process environment.
	envFile string

	// logLevel overrides logging.level from the configuration.
	logLevel string
)

// rootCmd represents the base command for the queuewatch application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "queuewatch",
	Short: "Track who is waiting in upstream queues and for how long",
	Long: `queuewatch polls queue listings (reception desks, doctor rooms, any
upstream that only shows who is present right now), reconciles every
snapshot into durable per-day entities and finalizes the ones that left.

A snapshot is only trusted to close entities when every page of the
listing was fetched, so upstream outages never look like an empty queue.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "queuewatch version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var single config.ConfigurationError
	if errors.As(err, &single) {
		return ExitCodeConfig
	}

	var collection *config.ConfigurationErrorCollection
	if errors.As(err, &collection) {
		return ExitCodeConfig
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/queuewatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with QUEUEWATCH_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides the config file)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newStatusCmd())
}
