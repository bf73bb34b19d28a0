package memstore_test

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/reconciler"
	"queuewatch/internal/storage/memstore"
	"queuewatch/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		s, err := memstore.New()
		require.NoError(t, err)
		return s
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	s, err := memstore.New()
	require.NoError(t, err)
	ctx := context.Background()

	payload := map[string]string{"name": "Ana"}
	require.NoError(t, s.Upsert(ctx, reconciler.Entity{
		PartitionKey: "U1", Identity: "a", ReferenceDay: "2026-03-10",
		Status: reconciler.StatusWaiting, Payload: payload,
	}))
	payload["name"] = "mutated"

	got, err := s.ActiveEntities(ctx, "U1", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ana", got[0].Payload["name"])

	got[0].Payload["name"] = "mutated again"
	again, err := s.ActiveEntities(ctx, "U1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "Ana", again[0].Payload["name"])
}

// A full engine over the memdb store: one write per debounce interval and a
// trusted absence finalizes.
func TestStore_WithEngine(t *testing.T) {
	s, err := memstore.New()
	require.NoError(t, err)

	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	clk := fakeclock.NewFakeClock(start)
	engine := reconciler.NewEngine(s, reconciler.EngineConfig{
		FinalizeMode:       reconciler.FinalizeModeImmediate,
		MinRewriteInterval: 30 * time.Second,
		Clock:              clk,
		Resolver:           reconciler.NewResolver(reconciler.Blake3Hash, time.Minute, time.UTC),
	})
	ctx := context.Background()
	rec := reconciler.RawRecord{Name: "Ana", ArrivedAt: start}

	for i := 0; i < 100; i++ {
		_, err := engine.Reconcile(ctx, "U1", reconciler.Snapshot{
			PartitionKey: "U1", FetchQuality: reconciler.QualityTrusted,
			Records: []reconciler.RawRecord{rec}, ObservedAt: clk.Now(),
		})
		require.NoError(t, err)
		clk.Increment(100 * time.Millisecond)
	}
	assert.Equal(t, memstore.Stats{Inserts: 1}, s.Stats())

	res, err := engine.Reconcile(ctx, "U1", reconciler.Snapshot{
		PartitionKey: "U1", FetchQuality: reconciler.QualityTrusted, ObservedAt: clk.Now(),
	})
	require.NoError(t, err)
	assert.Len(t, res.Finalized, 1)
	assert.Equal(t, int64(1), s.Stats().Finalizes)

	active, err := s.ActiveEntities(ctx, "U1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, active)
}
