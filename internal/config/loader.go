package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"queuewatch/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/queuewatch"
	configFileName = "config.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "QUEUEWATCH_"
)

// LookupEnvFunc matches os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

// DefaultConfigPath returns ~/.config/queuewatch/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// Load reads the configuration at path, layered over the defaults, applies
// QUEUEWATCH_* environment overrides and validates the result.
//
// An empty path selects DefaultConfigPath, and a missing file at the default
// location is not an error. An explicitly given path must exist.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup LookupEnvFunc) (Config, error) {
	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, &config); err != nil {
			return Config{}, err
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", path)
	default:
		return Config{}, ConfigurationError{
			FilePath:  path,
			ErrorType: ErrorTypeIO,
			Message:   err.Error(),
		}
	}

	if err := applyEnv(&config, lookup); err != nil {
		return Config{}, err
	}
	normalize(&config)

	if err := Validate(config); err != nil {
		var collection *ConfigurationErrorCollection
		if errors.As(err, &collection) {
			for i := range collection.Errors {
				collection.Errors[i].FilePath = path
			}
		}
		return Config{}, err
	}
	return config, nil
}

// Parse decodes YAML data over the defaults and validates it, without
// consulting the environment.
func Parse(data []byte) (Config, error) {
	config := GetDefaultConfig()
	if err := decode("", data, &config); err != nil {
		return Config{}, err
	}
	normalize(&config)
	if err := Validate(config); err != nil {
		return Config{}, err
	}
	return config, nil
}

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

func decode(path string, data []byte, config *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		ce := ConfigurationError{
			FilePath:    path,
			ErrorType:   ErrorTypeParse,
			Message:     "malformed configuration",
			Details:     err.Error(),
			Suggestions: []string{"check the YAML syntax and field names against the documented keys"},
		}
		if m := yamlLinePattern.FindStringSubmatch(err.Error()); m != nil {
			ce.LineNumber, _ = strconv.Atoi(m[1])
		}
		return ce
	}
	return nil
}

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"GRACE_WINDOW_SECONDS", func(c *Config, v string) error { return setInt(&c.Engine.GraceWindowSeconds, v) }},
	{"MIN_REWRITE_INTERVAL_SECONDS", func(c *Config, v string) error { return setInt(&c.Engine.MinRewriteIntervalSeconds, v) }},
	{"FINALIZE_MODE", func(c *Config, v string) error { c.Engine.FinalizeMode = v; return nil }},
	{"IDENTITY_HASH", func(c *Config, v string) error { c.Engine.IdentityHash = v; return nil }},
	{"TIMEZONE", func(c *Config, v string) error { c.Engine.Timezone = v; return nil }},
	{"STORAGE_DRIVER", func(c *Config, v string) error { c.Storage.Driver = v; return nil }},
	{"STORAGE_DSN", func(c *Config, v string) error { c.Storage.DSN = v; return nil }},
	{"CLEANUP_RETENTION_DAYS", func(c *Config, v string) error { return setInt(&c.Storage.CleanupRetentionDays, v) }},
	{"POLL_INTERVAL_SECONDS", func(c *Config, v string) error { return setInt(&c.Monitor.PollIntervalSeconds, v) }},
	{"METRICS_ADDRESS", func(c *Config, v string) error { c.Metrics.ListenAddress = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
}

func applyEnv(config *Config, lookup LookupEnvFunc) error {
	if lookup == nil {
		return nil
	}

	errs := NewConfigurationErrorCollection()
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(config, strings.TrimSpace(v)); err != nil {
			errs.Add(ConfigurationError{
				Field:     EnvPrefix + b.name,
				ErrorType: ErrorTypeEnv,
				Message:   err.Error(),
			})
		}
	}
	return errs.ErrOrNil()
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%q is not an integer", v)
	}
	*dst = n
	return nil
}

// normalize lowercases enumerations and fills per-partition field defaults.
func normalize(config *Config) {
	config.Engine.FinalizeMode = strings.ToLower(strings.TrimSpace(config.Engine.FinalizeMode))
	config.Engine.IdentityHash = strings.ToLower(strings.TrimSpace(config.Engine.IdentityHash))
	config.Storage.Driver = strings.ToLower(strings.TrimSpace(config.Storage.Driver))
	config.Logging.Level = strings.ToLower(strings.TrimSpace(config.Logging.Level))
	config.Logging.Format = strings.ToLower(strings.TrimSpace(config.Logging.Format))
	if config.Storage.Table == "" {
		config.Storage.Table = DefaultTable
	}

	for i := range config.Partitions {
		f := &config.Partitions[i].Fields
		if f.Name == "" {
			f.Name = "name"
		}
		if f.Arrival == "" {
			f.Arrival = "arrival"
		}
	}
}
