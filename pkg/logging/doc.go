// Package logging provides the structured logger used by every queuewatch
// subsystem.
//
// It wraps Go's slog package behind a small printf-style API that tags every
// entry with the emitting subsystem:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Monitor", "Polling %s every %s", partition, interval)
//	logging.Warn("Reconciler", "Snapshot for %s is %s, finalization paused", partition, quality)
//	logging.Error("Storage", err, "Failed to finalize %s", identity)
//
// Output is text by default; InitJSON switches to slog's JSON handler for
// log shippers. Messages below the configured level are dropped before
// formatting.
package logging
