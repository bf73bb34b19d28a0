// Package storagetest holds the behavioral contract every entity store must
// satisfy, runnable against any implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/reconciler"
)

// Store is the surface exercised by the contract.
type Store interface {
	reconciler.Store
	EntitiesForDay(ctx context.Context, partitionKey, day string) ([]reconciler.Entity, error)
	Purge(ctx context.Context, beforeDay string) (int, error)
}

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) Store

var t0 = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func entity(partition, identity, day string, status reconciler.Status, seen time.Time) reconciler.Entity {
	return reconciler.Entity{
		PartitionKey: partition,
		Identity:     identity,
		ReferenceDay: day,
		Status:       status,
		FirstSeenAt:  seen,
		LastSeenAt:   seen,
		Payload:      map[string]string{"name": identity},
	}
}

func find(t *testing.T, s Store, partition, identity, day string) reconciler.Entity {
	t.Helper()
	all, err := s.EntitiesForDay(context.Background(), partition, day)
	require.NoError(t, err)
	for _, e := range all {
		if e.Identity == identity {
			return e
		}
	}
	t.Fatalf("entity %s/%s not found on %s", partition, identity, day)
	return reconciler.Entity{}
}

// Run executes the contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("upsert keeps first seen and advances last seen", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, entity("U1", "a", "2026-03-10", reconciler.StatusWaiting, t0)))

		later := entity("U1", "a", "2026-03-10", reconciler.StatusWaiting, t0.Add(time.Minute))
		later.Payload = map[string]string{"name": "a", "wait": "1"}
		require.NoError(t, s.Upsert(ctx, later))

		got := find(t, s, "U1", "a", "2026-03-10")
		assert.True(t, t0.Equal(got.FirstSeenAt))
		assert.True(t, t0.Add(time.Minute).Equal(got.LastSeenAt))
		assert.Equal(t, "1", got.Payload["wait"])
	})

	t.Run("upsert never moves last seen backward", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, entity("U1", "a", "2026-03-10", reconciler.StatusWaiting, t0.Add(time.Minute))))
		require.NoError(t, s.Upsert(ctx, entity("U1", "a", "2026-03-10", reconciler.StatusWaiting, t0)))

		got := find(t, s, "U1", "a", "2026-03-10")
		assert.True(t, t0.Add(time.Minute).Equal(got.LastSeenAt))
	})

	t.Run("status never decreases", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, entity("U1", "a", "2026-03-10", reconciler.StatusInService, t0)))
		require.NoError(t, s.Upsert(ctx, entity("U1", "a", "2026-03-10", reconciler.StatusWaiting, t0.Add(time.Second))))

		assert.Equal(t, reconciler.StatusInService, find(t, s, "U1", "a", "2026-03-10").Status)
	})

	t.Run("finalized entities are immutable", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, entity("U1", "a", "2026-03-10", reconciler.StatusWaiting, t0)))
		require.NoError(t, s.Finalize(ctx, "U1", "a", t0.Add(time.Minute), reconciler.ReasonAbsent))

		require.NoError(t, s.Upsert(ctx, entity("U1", "a", "2026-03-10", reconciler.StatusInService, t0.Add(2*time.Minute))))
		require.NoError(t, s.Finalize(ctx, "U1", "a", t0.Add(3*time.Minute), reconciler.ReasonTimeout))

		got := find(t, s, "U1", "a", "2026-03-10")
		assert.Equal(t, reconciler.StatusFinalized, got.Status)
		assert.Equal(t, reconciler.ReasonAbsent, got.FinalizeReason)
		require.NotNil(t, got.FinalizedAt)
		assert.True(t, t0.Add(time.Minute).Equal(*got.FinalizedAt))
		assert.True(t, t0.Equal(got.LastSeenAt))
	})

	t.Run("finalize of an unknown entity is a no-op", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Finalize(ctx, "U1", "ghost", t0, reconciler.ReasonAbsent))
	})

	t.Run("active entities filter by partition status and age", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, entity("U1", "old", "2026-03-10", reconciler.StatusWaiting, t0)))
		require.NoError(t, s.Upsert(ctx, entity("U1", "edge", "2026-03-10", reconciler.StatusInService, t0.Add(5*time.Minute))))
		require.NoError(t, s.Upsert(ctx, entity("U1", "fresh", "2026-03-10", reconciler.StatusWaiting, t0.Add(9*time.Minute))))
		require.NoError(t, s.Upsert(ctx, entity("U1", "done", "2026-03-10", reconciler.StatusWaiting, t0)))
		require.NoError(t, s.Finalize(ctx, "U1", "done", t0.Add(time.Minute), reconciler.ReasonAbsent))
		require.NoError(t, s.Upsert(ctx, entity("U2", "other", "2026-03-10", reconciler.StatusWaiting, t0)))

		all, err := s.ActiveEntities(ctx, "U1", time.Time{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"old", "edge", "fresh"}, identities(all))

		stale, err := s.ActiveEntities(ctx, "U1", t0.Add(5*time.Minute))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"old", "edge"}, identities(stale), "the cutoff is inclusive")
	})

	t.Run("entities for day", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, entity("U1", "a", "2026-03-10", reconciler.StatusWaiting, t0)))
		require.NoError(t, s.Upsert(ctx, entity("U2", "b", "2026-03-10", reconciler.StatusWaiting, t0)))
		require.NoError(t, s.Upsert(ctx, entity("U1", "c", "2026-03-11", reconciler.StatusWaiting, t0.Add(24*time.Hour))))

		u1, err := s.EntitiesForDay(ctx, "U1", "2026-03-10")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, identities(u1))

		all, err := s.EntitiesForDay(ctx, "", "2026-03-10")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, identities(all))
	})

	t.Run("purge removes days before the cutoff", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, entity("U1", "a", "2026-03-01", reconciler.StatusWaiting, t0)))
		require.NoError(t, s.Upsert(ctx, entity("U1", "b", "2026-03-02", reconciler.StatusWaiting, t0)))
		require.NoError(t, s.Upsert(ctx, entity("U1", "c", "2026-03-03", reconciler.StatusWaiting, t0)))

		n, err := s.Purge(ctx, "2026-03-03")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		left, err := s.EntitiesForDay(ctx, "U1", "2026-03-03")
		require.NoError(t, err)
		assert.Len(t, left, 1)

		gone, err := s.EntitiesForDay(ctx, "U1", "2026-03-01")
		require.NoError(t, err)
		assert.Empty(t, gone)
	})
}

func identities(entities []reconciler.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Identity)
	}
	return out
}
