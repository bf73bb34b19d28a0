package app

import (
	"context"
	"fmt"
	"os"

	"code.cloudfoundry.org/clock"

	"queuewatch/internal/config"
	"queuewatch/pkg/logging"
)

// Application represents the main application structure that bootstraps and
// runs queuewatch.
//
// Example usage:
//
//	cfg := app.NewConfig("/etc/queuewatch/config.yaml", "", "")
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	defer application.Close()
//	return application.Run(ctx)
type Application struct {
	config   *Config
	lookup   config.LookupEnvFunc
	services *Services
}

// NewApplication creates and initializes a new application instance.
//
//  1. Resolves the environment lookup (process environment over EnvFile)
//  2. Loads and validates the configuration
//  3. Configures logging from the configuration and the LogLevel override
//  4. Opens the store and builds the engine and monitors
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stderr
	}

	lookup, err := config.EnvFileLookup(cfg.EnvFile)
	if err != nil {
		return nil, err
	}

	if cfg.QueueConfig == nil {
		queueCfg, err := config.LoadWithEnv(cfg.ConfigPath, lookup)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg.QueueConfig = &queueCfg
	}

	if err := initLogging(cfg); err != nil {
		return nil, err
	}
	if cfg.ConfigPath != "" {
		logging.Info("Bootstrap", "Loaded configuration from %s", cfg.ConfigPath)
	}

	services, err := InitializeServices(ctx, *cfg.QueueConfig, cfg.Clock)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		lookup:   lookup,
		services: services,
	}, nil
}

// Services returns the initialized services.
func (a *Application) Services() *Services {
	return a.services
}

// Close releases the store.
func (a *Application) Close() error {
	return a.services.Close()
}

func initLogging(cfg *Config) error {
	levelName := cfg.QueueConfig.Logging.Level
	if cfg.LogLevel != "" {
		levelName = cfg.LogLevel
	}
	level, ok := logging.ParseLevel(levelName)
	if !ok {
		return fmt.Errorf("invalid log level %q (use debug, info, warn or error)", levelName)
	}

	if cfg.QueueConfig.Logging.Format == "json" {
		logging.InitJSON(level, cfg.LogOutput)
	} else {
		logging.InitForCLI(level, cfg.LogOutput)
	}
	return nil
}
