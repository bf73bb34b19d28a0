package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"queuewatch/pkg/logging"
)

// EngineConfig holds configuration for the Engine.
type EngineConfig struct {
	// GraceWindow is the minimum time since LastSeenAt before an absent
	// entity may be finalized in timeout mode.
	// Defaults to 5 minutes if not specified.
	GraceWindow time.Duration

	// FinalizeMode selects immediate or timeout finalization.
	// Defaults to FinalizeModeTimeout.
	FinalizeMode FinalizeMode

	// MinRewriteInterval is the debounce refresh interval used when Cache
	// is nil. Defaults to 30 seconds.
	MinRewriteInterval time.Duration

	// Clock is the time source. Defaults to the wall clock.
	Clock clock.Clock

	// Resolver derives identities. Defaults to an MD5 resolver in time.Local.
	Resolver *Resolver

	// Cache is the process-wide debounce cache. One is created if nil.
	Cache *DebounceCache

	// Metrics receives engine counters. Unregistered metrics are used if nil.
	Metrics *Metrics
}

// Engine reconciles partition snapshots against the Store.
type Engine struct {
	store    Store
	clock    clock.Clock
	resolver *Resolver
	cache    *DebounceCache
	metrics  *Metrics

	// mu guards locks, graceWindow and mode. It is never held during Store I/O.
	mu          sync.Mutex
	locks       map[string]*sync.Mutex
	graceWindow time.Duration
	mode        FinalizeMode
}

// NewEngine creates a new reconciliation engine.
func NewEngine(store Store, config EngineConfig) *Engine {
	// Apply defaults
	if config.GraceWindow == 0 {
		config.GraceWindow = 5 * time.Minute
	}
	if config.FinalizeMode == "" {
		config.FinalizeMode = FinalizeModeTimeout
	}
	if config.MinRewriteInterval == 0 {
		config.MinRewriteInterval = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.NewClock()
	}
	if config.Resolver == nil {
		config.Resolver = NewResolver(nil, 0, nil)
	}
	if config.Cache == nil {
		config.Cache = NewDebounceCache(config.Clock, config.MinRewriteInterval)
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics(nil)
	}

	return &Engine{
		store:       store,
		clock:       config.Clock,
		resolver:    config.Resolver,
		cache:       config.Cache,
		metrics:     config.Metrics,
		locks:       make(map[string]*sync.Mutex),
		graceWindow: config.GraceWindow,
		mode:        config.FinalizeMode,
	}
}

// SetTunables replaces the grace window and finalize mode. Cycles already in
// flight keep the values they started with.
func (e *Engine) SetTunables(graceWindow time.Duration, mode FinalizeMode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if graceWindow > 0 {
		e.graceWindow = graceWindow
	}
	if mode != "" {
		e.mode = mode
	}
	logging.Info("Reconciler", "Tunables updated: grace window %s, finalize mode %s", e.graceWindow, e.mode)
}

// GraceWindow returns the current grace window.
func (e *Engine) GraceWindow() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graceWindow
}

// Cache returns the debounce cache shared by this engine.
func (e *Engine) Cache() *DebounceCache {
	return e.cache
}

// Resolver returns the identity resolver used by this engine.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

func (e *Engine) tunables() (time.Duration, FinalizeMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graceWindow, e.mode
}

// partitionLock returns the mutex serializing work on partitionKey.
func (e *Engine) partitionLock(partitionKey string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[partitionKey]
	if !ok {
		l = &sync.Mutex{}
		e.locks[partitionKey] = l
	}
	return l
}

// Reconcile applies one snapshot of partitionKey.
//
// Observed records are upserted (subject to debouncing) unless the snapshot
// is an ERROR snapshot. Active entities missing from the snapshot are then
// finalized when the snapshot is TRUSTED and the configured mode allows it.
// Per-entity store failures are collected in the result and left for the
// next cycle; the returned error is non-nil only when the active set could
// not be loaded or the snapshot belongs to another partition.
func (e *Engine) Reconcile(ctx context.Context, partitionKey string, snap Snapshot) (ReconcileResult, error) {
	var result ReconcileResult

	if snap.PartitionKey != "" && snap.PartitionKey != partitionKey {
		return result, fmt.Errorf("snapshot for partition %q passed to reconcile of %q", snap.PartitionKey, partitionKey)
	}
	if snap.FetchQuality == "" {
		snap.FetchQuality = QualityError
	}

	lock := e.partitionLock(partitionKey)
	lock.Lock()
	defer lock.Unlock()

	graceWindow, mode := e.tunables()
	now := e.clock.Now()
	observedAt := snap.ObservedAt
	if observedAt.IsZero() {
		observedAt = now
	}

	e.metrics.Cycles.WithLabelValues(partitionKey, string(snap.FetchQuality)).Inc()

	present := make(map[string]struct{}, len(snap.Records))
	if snap.FetchQuality != QualityError {
		e.applyRecords(ctx, partitionKey, snap.Records, observedAt, present, &result)
	}

	active, err := e.store.ActiveEntities(ctx, partitionKey, time.Time{})
	if err != nil {
		e.metrics.PersistenceErrors.WithLabelValues(partitionKey, "active").Inc()
		return result, &PersistenceError{Op: "load active", PartitionKey: partitionKey, Err: err}
	}
	e.metrics.ActiveEntities.WithLabelValues(partitionKey).Set(float64(len(active)))

	for _, entity := range active {
		if _, ok := present[entity.Identity]; ok {
			continue
		}

		if !snap.FetchQuality.IsTrusted() {
			result.Skipped = append(result.Skipped, entity.Identity)
			continue
		}

		if mode == FinalizeModeTimeout && now.Sub(e.lastSeen(entity)) < graceWindow {
			result.Skipped = append(result.Skipped, entity.Identity)
			continue
		}

		if err := e.store.Finalize(ctx, partitionKey, entity.Identity, now, ReasonAbsent); err != nil {
			e.metrics.PersistenceErrors.WithLabelValues(partitionKey, "finalize").Inc()
			result.Errors = append(result.Errors, &PersistenceError{Op: "finalize", PartitionKey: partitionKey, Identity: entity.Identity, Err: err})
			continue
		}
		e.cache.Invalidate(entity.Identity)
		result.Finalized = append(result.Finalized, entity.Identity)
	}

	if n := len(result.Finalized); n > 0 {
		e.metrics.Finalized.WithLabelValues(partitionKey, string(ReasonAbsent)).Add(float64(n))
	}
	if n := len(result.Skipped); n > 0 {
		e.metrics.FinalizeSkipped.WithLabelValues(partitionKey).Add(float64(n))
	}
	if !snap.FetchQuality.IsTrusted() && len(result.Skipped) > 0 {
		logging.Warn("Reconciler", "Snapshot for %s is %s, finalization paused for %d absent entities",
			partitionKey, snap.FetchQuality, len(result.Skipped))
	}

	logging.Debug("Reconciler", "Reconciled %s (%s): %d upserted, %d debounced, %d finalized, %d skipped, %d errors",
		partitionKey, snap.FetchQuality, result.Upserted, result.Debounced, len(result.Finalized), len(result.Skipped), len(result.Errors))

	return result, nil
}

// applyRecords resolves and upserts every record, marking identities as
// present.
func (e *Engine) applyRecords(ctx context.Context, partitionKey string, records []RawRecord, observedAt time.Time, present map[string]struct{}, result *ReconcileResult) {
	day := e.resolver.ReferenceDay(observedAt)

	for _, rec := range records {
		identity, weak := e.resolver.Resolve(partitionKey, rec, day)
		if _, dup := present[identity]; dup {
			continue
		}
		present[identity] = struct{}{}

		if weak {
			result.Weak++
			e.metrics.WeakIdentities.WithLabelValues(partitionKey).Inc()
		}

		e.applyRecord(ctx, partitionKey, identity, day, rec, observedAt, result)
		e.cache.Observe(identity, day, observedAt)
	}
}

func (e *Engine) applyRecord(ctx context.Context, partitionKey, identity, day string, rec RawRecord, observedAt time.Time, result *ReconcileResult) {
	status := StatusWaiting
	if rec.InService {
		status = StatusInService
	}

	if !e.cache.ShouldWrite(identity, Signature(status, rec.Payload)) {
		result.Debounced++
		e.metrics.Debounced.WithLabelValues(partitionKey).Inc()
		return
	}

	entity := Entity{
		PartitionKey: partitionKey,
		Identity:     identity,
		ReferenceDay: day,
		Status:       status,
		FirstSeenAt:  observedAt,
		LastSeenAt:   observedAt,
		Payload:      rec.Payload,
	}
	if err := e.store.Upsert(ctx, entity); err != nil {
		// Forget the signature so the next cycle retries the write.
		e.cache.Invalidate(identity)
		e.metrics.PersistenceErrors.WithLabelValues(partitionKey, "upsert").Inc()
		result.Errors = append(result.Errors, &PersistenceError{Op: "upsert", PartitionKey: partitionKey, Identity: identity, Err: err})
		return
	}
	result.Upserted++
	e.metrics.Upserts.WithLabelValues(partitionKey).Inc()
}

// lastSeen is the later of the stored LastSeenAt and the last observation
// this process made of the entity.
func (e *Engine) lastSeen(entity Entity) time.Time {
	if observed, ok := e.cache.LastObserved(entity.Identity); ok && observed.After(entity.LastSeenAt) {
		return observed
	}
	return entity.LastSeenAt
}
