// Package memstore is an in-process entity store backed by go-memdb.
//
// It is the default store for single-instance deployments and tests. All
// data is lost when the process exits.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"queuewatch/internal/reconciler"
)

const (
	tableEntity = "entity"

	indexID              = "id"
	indexPartitionStatus = "partition_status"
	indexPartitionDay    = "partition_day"
	indexDay             = "day"
)

// record is the stored form of an entity. Stored records are never mutated;
// updates insert a modified copy.
type record struct {
	PartitionKey   string
	Identity       string
	ReferenceDay   string
	Status         string
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	FinalizedAt    *time.Time
	FinalizeReason string
	Payload        map[string]string
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableEntity: {
				Name: tableEntity,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "PartitionKey"},
								&memdb.StringFieldIndex{Field: "Identity"},
							},
						},
					},
					indexPartitionStatus: {
						Name: indexPartitionStatus,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "PartitionKey"},
								&memdb.StringFieldIndex{Field: "Status"},
							},
						},
					},
					indexPartitionDay: {
						Name:         indexPartitionDay,
						AllowMissing: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "PartitionKey"},
								&memdb.StringFieldIndex{Field: "ReferenceDay"},
							},
						},
					},
					indexDay: {
						Name:         indexDay,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "ReferenceDay"},
					},
				},
			},
		},
	}
}

// Stats counts the operations that changed the store.
type Stats struct {
	Inserts   int64
	Updates   int64
	Finalizes int64
	Purged    int64
}

// Store is a go-memdb backed entity store.
type Store struct {
	db *memdb.MemDB

	inserts   atomic.Int64
	updates   atomic.Int64
	finalizes atomic.Int64
	purged    atomic.Int64
}

// New creates an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &Store{db: db}, nil
}

// Upsert creates or refreshes an entity. Finalized entities are left
// untouched, FirstSeenAt is kept and the status never moves backward.
func (s *Store) Upsert(_ context.Context, entity reconciler.Entity) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableEntity, indexID, entity.PartitionKey, entity.Identity)
	if err != nil {
		return fmt.Errorf("lookup %s/%s: %w", entity.PartitionKey, entity.Identity, err)
	}

	var next *record
	if raw == nil {
		next = fromEntity(entity)
		s.inserts.Add(1)
	} else {
		existing := raw.(*record)
		if reconciler.Status(existing.Status).IsTerminal() {
			return nil
		}
		copied := *existing
		next = &copied
		next.Status = string(reconciler.Status(existing.Status).Advance(entity.Status))
		if entity.LastSeenAt.After(next.LastSeenAt) {
			next.LastSeenAt = entity.LastSeenAt
		}
		next.Payload = clonePayload(entity.Payload)
		s.updates.Add(1)
	}

	if err := txn.Insert(tableEntity, next); err != nil {
		return fmt.Errorf("insert %s/%s: %w", entity.PartitionKey, entity.Identity, err)
	}
	txn.Commit()
	return nil
}

// ActiveEntities returns the non-finalized entities of partitionKey whose
// LastSeenAt is at or before olderThan. A zero olderThan returns all of them.
func (s *Store) ActiveEntities(_ context.Context, partitionKey string, olderThan time.Time) ([]reconciler.Entity, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	var out []reconciler.Entity
	for _, status := range []reconciler.Status{reconciler.StatusWaiting, reconciler.StatusInService} {
		it, err := txn.Get(tableEntity, indexPartitionStatus, partitionKey, string(status))
		if err != nil {
			return nil, fmt.Errorf("list %s entities of %s: %w", status, partitionKey, err)
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			r := obj.(*record)
			if !olderThan.IsZero() && r.LastSeenAt.After(olderThan) {
				continue
			}
			out = append(out, r.toEntity())
		}
	}

	sortEntities(out)
	return out, nil
}

// Finalize closes an entity. Unknown and already finalized entities are
// a no-op.
func (s *Store) Finalize(_ context.Context, partitionKey, identity string, at time.Time, reason reconciler.FinalizeReason) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableEntity, indexID, partitionKey, identity)
	if err != nil {
		return fmt.Errorf("lookup %s/%s: %w", partitionKey, identity, err)
	}
	if raw == nil {
		return nil
	}
	existing := raw.(*record)
	if reconciler.Status(existing.Status).IsTerminal() {
		return nil
	}

	next := *existing
	finalizedAt := at
	next.Status = string(reconciler.StatusFinalized)
	next.FinalizedAt = &finalizedAt
	next.FinalizeReason = string(reason)

	if err := txn.Insert(tableEntity, &next); err != nil {
		return fmt.Errorf("finalize %s/%s: %w", partitionKey, identity, err)
	}
	txn.Commit()
	s.finalizes.Add(1)
	return nil
}

// EntitiesForDay returns every entity of the reference day. An empty
// partitionKey returns the day's entities of all partitions.
func (s *Store) EntitiesForDay(_ context.Context, partitionKey, day string) ([]reconciler.Entity, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)
	if partitionKey == "" {
		it, err = txn.Get(tableEntity, indexDay, day)
	} else {
		it, err = txn.Get(tableEntity, indexPartitionDay, partitionKey, day)
	}
	if err != nil {
		return nil, fmt.Errorf("list entities of %s: %w", day, err)
	}

	var out []reconciler.Entity
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*record).toEntity())
	}
	sortEntities(out)
	return out, nil
}

// Purge deletes every entity whose reference day sorts before beforeDay.
func (s *Store) Purge(_ context.Context, beforeDay string) (int, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.LowerBound(tableEntity, indexDay, "")
	if err != nil {
		return 0, fmt.Errorf("scan days: %w", err)
	}

	var doomed []*record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := obj.(*record)
		if r.ReferenceDay >= beforeDay {
			break
		}
		doomed = append(doomed, r)
	}

	for _, r := range doomed {
		if err := txn.Delete(tableEntity, r); err != nil {
			return 0, fmt.Errorf("delete %s/%s: %w", r.PartitionKey, r.Identity, err)
		}
	}
	txn.Commit()

	s.purged.Add(int64(len(doomed)))
	return len(doomed), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Stats returns operation counters since creation.
func (s *Store) Stats() Stats {
	return Stats{
		Inserts:   s.inserts.Load(),
		Updates:   s.updates.Load(),
		Finalizes: s.finalizes.Load(),
		Purged:    s.purged.Load(),
	}
}

func fromEntity(e reconciler.Entity) *record {
	r := &record{
		PartitionKey:   e.PartitionKey,
		Identity:       e.Identity,
		ReferenceDay:   e.ReferenceDay,
		Status:         string(e.Status),
		FirstSeenAt:    e.FirstSeenAt,
		LastSeenAt:     e.LastSeenAt,
		FinalizeReason: string(e.FinalizeReason),
		Payload:        clonePayload(e.Payload),
	}
	if r.Status == "" {
		r.Status = string(reconciler.StatusWaiting)
	}
	if e.FinalizedAt != nil {
		at := *e.FinalizedAt
		r.FinalizedAt = &at
	}
	return r
}

func (r *record) toEntity() reconciler.Entity {
	e := reconciler.Entity{
		PartitionKey:   r.PartitionKey,
		Identity:       r.Identity,
		ReferenceDay:   r.ReferenceDay,
		Status:         reconciler.Status(r.Status),
		FirstSeenAt:    r.FirstSeenAt,
		LastSeenAt:     r.LastSeenAt,
		FinalizeReason: reconciler.FinalizeReason(r.FinalizeReason),
		Payload:        clonePayload(r.Payload),
	}
	if r.FinalizedAt != nil {
		at := *r.FinalizedAt
		e.FinalizedAt = &at
	}
	return e
}

func clonePayload(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func sortEntities(entities []reconciler.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].PartitionKey != entities[j].PartitionKey {
			return entities[i].PartitionKey < entities[j].PartitionKey
		}
		if !entities[i].FirstSeenAt.Equal(entities[j].FirstSeenAt) {
			return entities[i].FirstSeenAt.Before(entities[j].FirstSeenAt)
		}
		return entities[i].Identity < entities[j].Identity
	})
}
