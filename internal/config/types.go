package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level configuration structure for queuewatch.
type Config struct {
	Engine     EngineConfig      `yaml:"engine"`
	Storage    StorageConfig     `yaml:"storage"`
	Monitor    MonitorConfig     `yaml:"monitor"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Logging    LoggingConfig     `yaml:"logging"`
	Partitions []PartitionConfig `yaml:"partitions"`
}

// EngineConfig holds the reconciliation tunables. The grace window and the
// finalize mode can be changed at runtime by editing the config file.
type EngineConfig struct {
	GraceWindowSeconds        int    `yaml:"grace_window_seconds"`         // Minimum absence before finalizing (default: 300)
	MinRewriteIntervalSeconds int    `yaml:"min_rewrite_interval_seconds"` // Debounce refresh interval (default: 30)
	FinalizeMode              string `yaml:"finalize_mode"`                // "immediate" or "timeout" (default: timeout)
	IdentityHash              string `yaml:"identity_hash"`                // "md5" or "blake3" (default: md5)
	ArrivalBucketSeconds      int    `yaml:"arrival_bucket_seconds"`       // Arrival truncation for identities (default: 60)
	Timezone                  string `yaml:"timezone"`                     // IANA zone for reference days (default: Local)
}

// GraceWindow returns the grace window as a duration.
func (e EngineConfig) GraceWindow() time.Duration {
	return time.Duration(e.GraceWindowSeconds) * time.Second
}

// MinRewriteInterval returns the debounce refresh interval as a duration.
func (e EngineConfig) MinRewriteInterval() time.Duration {
	return time.Duration(e.MinRewriteIntervalSeconds) * time.Second
}

// ArrivalBucket returns the arrival truncation as a duration.
func (e EngineConfig) ArrivalBucket() time.Duration {
	return time.Duration(e.ArrivalBucketSeconds) * time.Second
}

// Location loads the configured timezone.
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" || strings.EqualFold(e.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(e.Timezone)
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver               string `yaml:"driver"`                 // "memory" or "postgres" (default: memory)
	DSN                  string `yaml:"dsn,omitempty"`          // Connection string for postgres
	Table                string `yaml:"table,omitempty"`        // Entity table name (default: queue_entities)
	CleanupRetentionDays int    `yaml:"cleanup_retention_days"` // Days of history kept by the purge job (default: 7)
}

// MonitorConfig controls the poll loops and the background jobs.
type MonitorConfig struct {
	PollIntervalSeconds   int          `yaml:"poll_interval_seconds"`   // Default poll interval per partition (default: 15)
	SweepIntervalSeconds  int          `yaml:"sweep_interval_seconds"`  // Timeout sweep interval (default: 60)
	PurgeIntervalSeconds  int          `yaml:"purge_interval_seconds"`  // Retention purge interval (default: 3600)
	RequestTimeoutSeconds int          `yaml:"request_timeout_seconds"` // Upstream fetch timeout (default: 20)
	WorkingHours          WorkingHours `yaml:"working_hours"`
}

// PollInterval returns the default poll interval as a duration.
func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

// SweepInterval returns the sweep interval as a duration.
func (m MonitorConfig) SweepInterval() time.Duration {
	return time.Duration(m.SweepIntervalSeconds) * time.Second
}

// PurgeInterval returns the retention purge interval as a duration.
func (m MonitorConfig) PurgeInterval() time.Duration {
	return time.Duration(m.PurgeIntervalSeconds) * time.Second
}

// RequestTimeout returns the upstream fetch timeout as a duration.
func (m MonitorConfig) RequestTimeout() time.Duration {
	return time.Duration(m.RequestTimeoutSeconds) * time.Second
}

// WorkingHours is the daily window in which monitors poll, as "HH:MM"
// local times. An empty window means always.
type WorkingHours struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Bounds returns the window as minutes since midnight.
func (w WorkingHours) Bounds() (start, end int, err error) {
	if w.Start == "" && w.End == "" {
		return 0, 24 * 60, nil
	}
	if start, err = parseClock(w.Start); err != nil {
		return 0, 0, fmt.Errorf("working_hours.start: %w", err)
	}
	if end, err = parseClock(w.End); err != nil {
		return 0, 0, fmt.Errorf("working_hours.end: %w", err)
	}
	return start, end, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // default: ":9108"
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text or json (default: text)
}

// PartitionConfig describes one independently polled queue.
type PartitionConfig struct {
	Key                 string            `yaml:"key"`
	URLs                []string          `yaml:"urls"`
	Headers             map[string]string `yaml:"headers,omitempty"`
	RecordsPath         string            `yaml:"records_path,omitempty"` // Dotted path to the record list in the response
	Fields              FieldMapping      `yaml:"fields"`
	IgnoreFields        []string          `yaml:"ignore_fields,omitempty"`
	PollIntervalSeconds int               `yaml:"poll_interval_seconds,omitempty"` // Overrides monitor.poll_interval_seconds
}

// PollInterval returns the partition poll interval, falling back to def.
func (p PartitionConfig) PollInterval(def time.Duration) time.Duration {
	if p.PollIntervalSeconds > 0 {
		return time.Duration(p.PollIntervalSeconds) * time.Second
	}
	return def
}

// FieldMapping names the upstream fields the poller reads.
type FieldMapping struct {
	ID              string   `yaml:"id,omitempty"`
	Name            string   `yaml:"name"`
	Arrival         string   `yaml:"arrival"`
	Status          string   `yaml:"status,omitempty"`
	InServiceValues []string `yaml:"in_service_values,omitempty"`
	IdentityFields  []string `yaml:"identity_fields,omitempty"` // Hashed only when name and arrival are both missing
}
