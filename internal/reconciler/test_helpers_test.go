package reconciler

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
)

var t0 = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

// fakeStore is an in-memory Store honoring the Store contract, with write
// counters and failure injection.
type fakeStore struct {
	mu sync.Mutex

	entities  map[string]Entity
	upserts   map[string]int
	finalizes map[string]int

	failUpsert   error
	failFinalize error
	failActive   error

	// activeHook runs inside ActiveEntities, outside the store lock.
	activeHook func(partitionKey string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities:  make(map[string]Entity),
		upserts:   make(map[string]int),
		finalizes: make(map[string]int),
	}
}

func fakeKey(partitionKey, identity string) string {
	return partitionKey + "/" + identity
}

func (s *fakeStore) Upsert(_ context.Context, entity Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpsert != nil {
		return s.failUpsert
	}

	key := fakeKey(entity.PartitionKey, entity.Identity)
	s.upserts[key]++

	existing, ok := s.entities[key]
	if !ok {
		s.entities[key] = entity
		return nil
	}
	if existing.Status.IsTerminal() {
		return nil
	}

	existing.Status = existing.Status.Advance(entity.Status)
	if entity.LastSeenAt.After(existing.LastSeenAt) {
		existing.LastSeenAt = entity.LastSeenAt
	}
	existing.Payload = entity.Payload
	s.entities[key] = existing
	return nil
}

func (s *fakeStore) ActiveEntities(_ context.Context, partitionKey string, olderThan time.Time) ([]Entity, error) {
	if s.activeHook != nil {
		s.activeHook(partitionKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failActive != nil {
		return nil, s.failActive
	}

	var out []Entity
	for _, e := range s.entities {
		if e.PartitionKey != partitionKey || e.Status.IsTerminal() {
			continue
		}
		if !olderThan.IsZero() && e.LastSeenAt.After(olderThan) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) Finalize(_ context.Context, partitionKey, identity string, at time.Time, reason FinalizeReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failFinalize != nil {
		return s.failFinalize
	}

	key := fakeKey(partitionKey, identity)
	e, ok := s.entities[key]
	if !ok || e.Status.IsTerminal() {
		return nil
	}
	s.finalizes[key]++
	e.Status = StatusFinalized
	e.FinalizedAt = &at
	e.FinalizeReason = reason
	s.entities[key] = e
	return nil
}

func (s *fakeStore) get(partitionKey, identity string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[fakeKey(partitionKey, identity)]
	return e, ok
}

func (s *fakeStore) upsertCount(partitionKey, identity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts[fakeKey(partitionKey, identity)]
}

func (s *fakeStore) snapshotState() map[string]Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entity, len(s.entities))
	for k, v := range s.entities {
		out[k] = v
	}
	return out
}

// newTestEngine builds an engine over a fresh fakeStore and fake clock
// starting at t0, resolving reference days in UTC.
func newTestEngine(mode FinalizeMode, grace, rewrite time.Duration) (*Engine, *fakeStore, *fakeclock.FakeClock) {
	clk := fakeclock.NewFakeClock(t0)
	store := newFakeStore()
	engine := NewEngine(store, EngineConfig{
		GraceWindow:        grace,
		FinalizeMode:       mode,
		MinRewriteInterval: rewrite,
		Clock:              clk,
		Resolver:           NewResolver(MD5Hash, time.Minute, time.UTC),
	})
	return engine, store, clk
}

func patient(name string, arrived time.Time) RawRecord {
	return RawRecord{
		Name:      name,
		ArrivedAt: arrived,
		Payload:   map[string]string{"name": name, "professional": "Dr. Silva"},
	}
}

func snapshotOf(partition string, quality FetchQuality, at time.Time, records ...RawRecord) Snapshot {
	return Snapshot{
		PartitionKey: partition,
		FetchQuality: quality,
		Records:      records,
		ObservedAt:   at,
	}
}
