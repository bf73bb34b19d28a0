package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_FinalizesOnlyStaleEntities(t *testing.T) {
	engine, store, clk := newTestEngine(FinalizeModeTimeout, time.Hour, time.Nanosecond)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, t0, patient("Ana", t0)))
	require.NoError(t, err)

	clk.Increment(8 * time.Minute)
	_, err = engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, clk.Now(), patient("Ana", t0), patient("Bia", t0)))
	require.NoError(t, err)

	// Ana was refreshed at +8m, so nothing is stale yet.
	clk.Increment(5 * time.Minute)
	n, err := engine.Sweep(ctx, "U1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Both were last seen exactly one grace window ago.
	clk.Increment(5 * time.Minute)
	n, err = engine.Sweep(ctx, "U1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, e := range store.snapshotState() {
		assert.Equal(t, StatusFinalized, e.Status)
		assert.Equal(t, ReasonTimeout, e.FinalizeReason)
		require.NotNil(t, e.FinalizedAt)
		assert.Equal(t, clk.Now(), *e.FinalizedAt)
	}
}

func TestSweep_KeepsRecentlySeen(t *testing.T) {
	engine, store, clk := newTestEngine(FinalizeModeTimeout, time.Hour, time.Nanosecond)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, t0, patient("Ana", t0)))
	require.NoError(t, err)

	clk.Increment(9 * time.Minute)
	_, err = engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, clk.Now(), patient("Bia", t0)))
	require.NoError(t, err)

	clk.Increment(time.Minute)
	n, err := engine.Sweep(ctx, "U1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ana, _ := engine.Resolver().Resolve("U1", patient("Ana", t0), "2026-03-10")
	bia, _ := engine.Resolver().Resolve("U1", patient("Bia", t0), "2026-03-10")
	gotAna, _ := store.get("U1", ana)
	gotBia, _ := store.get("U1", bia)
	assert.Equal(t, StatusFinalized, gotAna.Status)
	assert.Equal(t, StatusWaiting, gotBia.Status)
}

func TestSweep_InvalidatesDebounceCache(t *testing.T) {
	engine, _, clk := newTestEngine(FinalizeModeTimeout, time.Hour, time.Hour)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, t0, patient("Ana", t0)))
	require.NoError(t, err)
	require.Equal(t, 1, engine.Cache().Len())

	clk.Increment(20 * time.Minute)
	n, err := engine.Sweep(ctx, "U1", 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, 0, engine.Cache().Len())
}

func TestSweep_ReappearanceStaysFinalized(t *testing.T) {
	engine, store, clk := newTestEngine(FinalizeModeTimeout, time.Hour, time.Hour)
	ctx := context.Background()
	ana := patient("Ana", t0)
	id, _ := engine.Resolver().Resolve("U1", ana, "2026-03-10")

	_, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, t0, ana))
	require.NoError(t, err)

	clk.Increment(20 * time.Minute)
	_, err = engine.Sweep(ctx, "U1", 10*time.Minute)
	require.NoError(t, err)

	res, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, clk.Now(), ana))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted, "the write is attempted because the cache entry was invalidated")

	got, _ := store.get("U1", id)
	assert.Equal(t, StatusFinalized, got.Status)
}

func TestSweep_RejectsNonPositiveGrace(t *testing.T) {
	engine, _, _ := newTestEngine(FinalizeModeTimeout, time.Hour, time.Hour)

	for _, grace := range []time.Duration{0, -time.Minute} {
		_, err := engine.Sweep(context.Background(), "U1", grace)
		assert.Error(t, err)
	}
}

func TestSweep_Errors(t *testing.T) {
	t.Run("load failure", func(t *testing.T) {
		engine, store, _ := newTestEngine(FinalizeModeTimeout, time.Hour, time.Hour)
		store.failActive = errors.New("connection refused")

		n, err := engine.Sweep(context.Background(), "U1", time.Minute)
		assert.Equal(t, 0, n)
		var perr *PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "load stale", perr.Op)
	})

	t.Run("finalize failure", func(t *testing.T) {
		engine, store, clk := newTestEngine(FinalizeModeTimeout, time.Hour, time.Hour)
		ctx := context.Background()
		_, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, t0, patient("Ana", t0), patient("Bia", t0)))
		require.NoError(t, err)

		store.failFinalize = errors.New("read-only transaction")
		clk.Increment(time.Hour)
		n, err := engine.Sweep(ctx, "U1", time.Minute)
		assert.Equal(t, 0, n)
		assert.ErrorContains(t, err, "read-only transaction")
		assert.Equal(t, 2, engine.Cache().Len(), "failed finalizations keep their cache entries")
	})
}

func TestSweep_KeepsDebouncedPresentEntity(t *testing.T) {
	engine, store, clk := newTestEngine(FinalizeModeTimeout, 30*time.Second, 30*time.Second)
	ctx := context.Background()
	ana := patient("Ana", t0)
	id, _ := engine.Resolver().Resolve("U1", ana, "2026-03-10")

	_, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, t0, ana))
	require.NoError(t, err)

	clk.Increment(20 * time.Second)
	res, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, clk.Now(), ana))
	require.NoError(t, err)
	require.Equal(t, 1, res.Debounced, "the stored LastSeenAt stays at t0")

	clk.Increment(15 * time.Second)
	n, err := engine.Sweep(ctx, "U1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "Ana was observed 15s ago")

	clk.Increment(5 * time.Second)
	_, err = engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, clk.Now(), ana))
	require.NoError(t, err)

	got, _ := store.get("U1", id)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, clk.Now(), got.LastSeenAt)
}

func TestSweep_FinalizesOnceObservationAgesOut(t *testing.T) {
	engine, _, clk := newTestEngine(FinalizeModeTimeout, 30*time.Second, 30*time.Second)
	ctx := context.Background()
	ana := patient("Ana", t0)

	_, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, t0, ana))
	require.NoError(t, err)
	clk.Increment(20 * time.Second)
	_, err = engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, clk.Now(), ana))
	require.NoError(t, err)

	clk.Increment(30 * time.Second)
	n, err := engine.Sweep(ctx, "U1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweep_EvictsPastDayCacheEntries(t *testing.T) {
	engine, _, clk := newTestEngine(FinalizeModeImmediate, time.Hour, time.Hour)
	ctx := context.Background()
	ana := patient("Ana", t0)

	// Finalized, then seen again the same day: the entity is no longer
	// active, so only the day change can release its cache entry.
	_, err := engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, t0, ana))
	require.NoError(t, err)
	clk.Increment(time.Minute)
	_, err = engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, clk.Now()))
	require.NoError(t, err)
	clk.Increment(time.Minute)
	_, err = engine.Reconcile(ctx, "U1", snapshotOf("U1", QualityTrusted, clk.Now(), ana))
	require.NoError(t, err)
	require.Equal(t, 1, engine.Cache().Len())

	_, err = engine.Sweep(ctx, "U1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Cache().Len(), "same-day entries are kept")

	clk.Increment(24 * time.Hour)
	_, err = engine.Sweep(ctx, "U1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, engine.Cache().Len())
}
