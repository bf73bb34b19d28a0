package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"queuewatch/pkg/logging"
)

// Sweep finalizes every active entity of partitionKey that has not been seen
// for at least graceWindow, whether or not a reconcile cycle observed its
// absence. It covers restarts, stopped pollers and long runs of untrusted
// snapshots.
//
// An entity observed by this process within graceWindow is kept even when
// its stored LastSeenAt is older, since debounced observations are not
// written.
//
// Sweep holds the partition lock, so it never interleaves with a Reconcile
// of the same partition. The debounce entry of every finalized identity is
// invalidated, and entries of past reference days are evicted. Individual
// finalize failures are joined into the returned error; the count covers
// only successful finalizations.
func (e *Engine) Sweep(ctx context.Context, partitionKey string, graceWindow time.Duration) (int, error) {
	if graceWindow <= 0 {
		return 0, fmt.Errorf("sweep of %s: grace window must be positive, got %s", partitionKey, graceWindow)
	}

	lock := e.partitionLock(partitionKey)
	lock.Lock()
	defer lock.Unlock()

	now := e.clock.Now()
	stale, err := e.store.ActiveEntities(ctx, partitionKey, now.Add(-graceWindow))
	if err != nil {
		e.metrics.PersistenceErrors.WithLabelValues(partitionKey, "active").Inc()
		return 0, &PersistenceError{Op: "load stale", PartitionKey: partitionKey, Err: err}
	}

	var (
		finalized int
		errs      []error
	)
	for _, entity := range stale {
		if now.Sub(e.lastSeen(entity)) < graceWindow {
			continue
		}
		if err := e.store.Finalize(ctx, partitionKey, entity.Identity, now, ReasonTimeout); err != nil {
			e.metrics.PersistenceErrors.WithLabelValues(partitionKey, "finalize").Inc()
			errs = append(errs, &PersistenceError{Op: "finalize", PartitionKey: partitionKey, Identity: entity.Identity, Err: err})
			continue
		}
		e.cache.Invalidate(entity.Identity)
		finalized++
	}

	if n := e.cache.EvictBefore(e.resolver.ReferenceDay(now)); n > 0 {
		logging.Debug("Reconciler", "Evicted %d debounce entries of past days", n)
	}

	if finalized > 0 {
		e.metrics.Finalized.WithLabelValues(partitionKey, string(ReasonTimeout)).Add(float64(finalized))
		logging.Info("Reconciler", "Sweep finalized %d entities of %s unseen for %s", finalized, partitionKey, graceWindow)
	}

	return finalized, errors.Join(errs...)
}
