package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	finalizeModes  = []string{"immediate", "timeout"}
	identityHashes = []string{"md5", "blake3"}
	storageDrivers = []string{"memory", "postgres"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"text", "json"}
)

// Validate checks cfg and returns a *ConfigurationErrorCollection describing
// every problem found, or nil.
func Validate(cfg Config) error {
	errs := NewConfigurationErrorCollection()

	validateEngine(cfg.Engine, errs)
	validateStorage(cfg.Storage, errs)
	validateMonitor(cfg.Monitor, errs)

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.ListenAddress) == "" {
		errs.AddValidation("metrics.listen_address", "is required when metrics are enabled")
	}
	validateOneOf(errs, "logging.level", cfg.Logging.Level, logLevels)
	validateOneOf(errs, "logging.format", cfg.Logging.Format, logFormats)

	seen := make(map[string]bool, len(cfg.Partitions))
	for i, p := range cfg.Partitions {
		validatePartition(i, p, seen, errs)
	}
	validateGraceWindow(cfg, errs)

	return errs.ErrOrNil()
}

func validateEngine(e EngineConfig, errs *ConfigurationErrorCollection) {
	if e.GraceWindowSeconds <= 0 {
		errs.AddValidation("engine.grace_window_seconds", fmt.Sprintf("must be positive, got %d", e.GraceWindowSeconds))
	}
	if e.MinRewriteIntervalSeconds <= 0 {
		errs.AddValidation("engine.min_rewrite_interval_seconds", fmt.Sprintf("must be positive, got %d", e.MinRewriteIntervalSeconds))
	}
	if e.ArrivalBucketSeconds <= 0 {
		errs.AddValidation("engine.arrival_bucket_seconds", fmt.Sprintf("must be positive, got %d", e.ArrivalBucketSeconds))
	}
	validateOneOf(errs, "engine.finalize_mode", e.FinalizeMode, finalizeModes)
	validateOneOf(errs, "engine.identity_hash", e.IdentityHash, identityHashes)
	if _, err := e.Location(); err != nil {
		errs.AddValidation("engine.timezone", err.Error(), "use an IANA zone name such as America/Sao_Paulo, or Local")
	}
}

func validateStorage(s StorageConfig, errs *ConfigurationErrorCollection) {
	validateOneOf(errs, "storage.driver", s.Driver, storageDrivers)
	if s.Driver == "postgres" && strings.TrimSpace(s.DSN) == "" {
		errs.AddValidation("storage.dsn", "is required for the postgres driver",
			"set storage.dsn or QUEUEWATCH_STORAGE_DSN")
	}
	if s.CleanupRetentionDays <= 0 {
		errs.AddValidation("storage.cleanup_retention_days", fmt.Sprintf("must be positive, got %d", s.CleanupRetentionDays))
	}
}

func validateMonitor(m MonitorConfig, errs *ConfigurationErrorCollection) {
	if m.PollIntervalSeconds <= 0 {
		errs.AddValidation("monitor.poll_interval_seconds", "must be positive")
	}
	if m.SweepIntervalSeconds <= 0 {
		errs.AddValidation("monitor.sweep_interval_seconds", "must be positive")
	}
	if m.PurgeIntervalSeconds <= 0 {
		errs.AddValidation("monitor.purge_interval_seconds", "must be positive")
	}
	if m.RequestTimeoutSeconds <= 0 {
		errs.AddValidation("monitor.request_timeout_seconds", "must be positive")
	}
	start, end, err := m.WorkingHours.Bounds()
	if err != nil {
		errs.AddValidation("monitor.working_hours", err.Error())
	} else if start >= end {
		errs.AddValidation("monitor.working_hours", fmt.Sprintf("start %s must be before end %s", m.WorkingHours.Start, m.WorkingHours.End))
	}
}

func validatePartition(i int, p PartitionConfig, seen map[string]bool, errs *ConfigurationErrorCollection) {
	field := fmt.Sprintf("partitions[%d]", i)

	if strings.TrimSpace(p.Key) == "" {
		errs.AddValidation(field+".key", "is required")
	} else if seen[p.Key] {
		errs.AddValidation(field+".key", fmt.Sprintf("duplicate partition key %q", p.Key))
	}
	seen[p.Key] = true

	if len(p.URLs) == 0 {
		errs.AddValidation(field+".urls", "must have at least one item")
	}
	for j, raw := range p.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.AddValidation(fmt.Sprintf("%s.urls[%d]", field, j), fmt.Sprintf("invalid URL %q", raw))
		}
	}
	if p.PollIntervalSeconds < 0 {
		errs.AddValidation(field+".poll_interval_seconds", "must not be negative")
	}

	ignored := make(map[string]bool, len(p.IgnoreFields))
	for _, f := range p.IgnoreFields {
		ignored[f] = true
	}
	for j, f := range p.Fields.IdentityFields {
		switch {
		case strings.TrimSpace(f) == "":
			errs.AddValidation(fmt.Sprintf("%s.fields.identity_fields[%d]", field, j), "must not be empty")
		case p.Fields.Status != "" && f == p.Fields.Status:
			errs.AddValidation(fmt.Sprintf("%s.fields.identity_fields[%d]", field, j),
				fmt.Sprintf("%q is the status field and changes while the occupant waits", f))
		case ignored[f]:
			errs.AddValidation(fmt.Sprintf("%s.fields.identity_fields[%d]", field, j),
				fmt.Sprintf("%q is listed in ignore_fields", f))
		}
	}
}

// validateGraceWindow requires the grace window to outlast the worst-case
// age of a stored LastSeenAt for a present entity: one rewrite interval plus
// the longest poll interval.
func validateGraceWindow(cfg Config, errs *ConfigurationErrorCollection) {
	grace, rewrite := cfg.Engine.GraceWindowSeconds, cfg.Engine.MinRewriteIntervalSeconds
	if grace <= 0 || rewrite <= 0 || cfg.Monitor.PollIntervalSeconds <= 0 {
		return
	}

	poll := cfg.Monitor.PollIntervalSeconds
	for _, p := range cfg.Partitions {
		if p.PollIntervalSeconds > poll {
			poll = p.PollIntervalSeconds
		}
	}

	if grace <= rewrite+poll {
		errs.AddValidation("engine.grace_window_seconds",
			fmt.Sprintf("must exceed min_rewrite_interval_seconds plus the longest poll interval (%d + %d), got %d", rewrite, poll, grace),
			fmt.Sprintf("use at least %d", rewrite+poll+1))
	}
}

// validateOneOf checks if a value is in a list of allowed values
func validateOneOf(errs *ConfigurationErrorCollection, field, value string, allowed []string) {
	for _, allowedValue := range allowed {
		if strings.EqualFold(value, allowedValue) {
			return
		}
	}
	errs.AddValidation(field, fmt.Sprintf("%q must be one of: %s", value, strings.Join(allowed, ", ")))
}
