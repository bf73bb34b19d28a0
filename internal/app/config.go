package app

import (
	"io"

	"code.cloudfoundry.org/clock"

	"queuewatch/internal/config"
)

// Config holds the application configuration
type Config struct {
	// ConfigPath is the YAML file to load. Empty selects
	// ~/.config/queuewatch/config.yaml.
	ConfigPath string

	// EnvFile is an optional dotenv file whose variables are used when they
	// are not exported in the process environment.
	EnvFile string

	// LogLevel overrides logging.level from the file when set.
	LogLevel string

	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer

	// Clock is the time source of every component. Defaults to the wall
	// clock.
	Clock clock.Clock

	// QueueConfig is the loaded configuration. When set before
	// NewApplication, loading is skipped.
	QueueConfig *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(configPath, envFile, logLevel string) *Config {
	return &Config{
		ConfigPath: configPath,
		EnvFile:    envFile,
		LogLevel:   logLevel,
	}
}
