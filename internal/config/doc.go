// Package config provides configuration management for queuewatch.
//
// Configuration is read from a single YAML file, by default
// ~/.config/queuewatch/config.yaml, which users can override with the
// --config flag. Loading happens in layers:
//
//  1. GetDefaultConfig supplies every default.
//  2. The YAML file is decoded on top; unknown keys are rejected.
//  3. QUEUEWATCH_* environment variables override individual fields.
//  4. Validate checks the result and reports every problem at once as a
//     *ConfigurationErrorCollection.
//
// # Example
//
//	engine:
//	  grace_window_seconds: 300
//	  min_rewrite_interval_seconds: 30
//	  finalize_mode: timeout
//	  timezone: America/Sao_Paulo
//	storage:
//	  driver: postgres
//	  dsn: postgres://queuewatch@localhost/queuewatch?sslmode=disable
//	  cleanup_retention_days: 7
//	partitions:
//	  - key: reception
//	    urls: ["https://clinic.example/api/reception/queue"]
//	    records_path: data.items
//	    fields:
//	      id: ticket
//	      name: patient
//	      arrival: arrived_at
//
// # Hot Reload
//
// Watcher observes the config file with fsnotify and hands every valid
// new configuration to a callback. Only the engine tunables (grace window
// and finalize mode) are applied to a running process; other changes take
// effect on restart.
package config
