// Package storage selects and opens the entity store configured for the
// process.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"queuewatch/internal/config"
	"queuewatch/internal/reconciler"
	"queuewatch/internal/storage/memstore"
	"queuewatch/internal/storage/postgres"
	"queuewatch/pkg/logging"
)

// ErrUnknownDriver is returned by Open for an unsupported storage.driver.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Store is the full persistence surface used by the process: the
// reconciler's contract plus reporting and retention.
type Store interface {
	reconciler.Store

	// EntitiesForDay returns every entity of a reference day. An empty
	// partitionKey selects all partitions.
	EntitiesForDay(ctx context.Context, partitionKey, day string) ([]reconciler.Entity, error)

	// Purge deletes entities whose reference day sorts before beforeDay
	// and returns how many were removed.
	Purge(ctx context.Context, beforeDay string) (int, error)

	Close() error
}

var (
	_ Store = (*memstore.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		logging.Info("Storage", "Using in-memory store")
		return memstore.New()
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DSN, cfg.Table)
		if err != nil {
			return nil, err
		}
		logging.Info("Storage", "Using postgres store (table %s)", cfg.Table)
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// RetentionCutoff returns the first reference day kept when retaining
// retentionDays days of history as of now, in loc.
func RetentionCutoff(now time.Time, retentionDays int, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, -retentionDays).Format("2006-01-02")
}

// PurgeExpired deletes the entities older than the retention window.
func PurgeExpired(ctx context.Context, s Store, now time.Time, retentionDays int, loc *time.Location) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d days", retentionDays)
	}

	cutoff := RetentionCutoff(now, retentionDays, loc)
	n, err := s.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Storage", "Purged %d entities with reference day before %s", n, cutoff)
	}
	return n, nil
}
