// Package app provides application bootstrap and lifecycle management for
// queuewatch.
//
// NewApplication loads the configuration (defaults, YAML file, dotenv file,
// QUEUEWATCH_* environment), initializes logging and builds the services:
// the entity store, the Prometheus registry, the reconciliation engine and
// one monitor per configured partition. Run then starts the metrics server,
// the config file watcher and the supervisor, reports readiness to systemd
// and blocks until the context is cancelled.
//
// The one-shot commands (sweep, purge, status) use the same services
// without starting the monitors.
package app
