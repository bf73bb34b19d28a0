package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a tracked entity.
type Status string

const (
	// StatusWaiting means the occupant is present and waiting.
	StatusWaiting Status = "WAITING"

	// StatusInService means the upstream reports the occupant as being attended.
	StatusInService Status = "IN_SERVICE"

	// StatusFinalized means the occupant has left the queue. Terminal.
	StatusFinalized Status = "FINALIZED"
)

func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 1
	case StatusInService:
		return 2
	case StatusFinalized:
		return 3
	default:
		return 0
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusFinalized
}

// Advance returns the status that results from observing next while in s.
// Transitions never go backward, so an IN_SERVICE entity reported as waiting
// again stays IN_SERVICE.
func (s Status) Advance(next Status) Status {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// FetchQuality classifies how far a snapshot can be trusted.
type FetchQuality string

const (
	// QualityTrusted means the poll completed and the listing is complete.
	QualityTrusted FetchQuality = "TRUSTED"

	// QualityPartial means some of the listing could not be fetched.
	QualityPartial FetchQuality = "PARTIAL"

	// QualityError means the poll failed and the listing carries no information.
	QualityError FetchQuality = "ERROR"
)

// IsTrusted reports whether absences in this snapshot may finalize entities.
func (q FetchQuality) IsTrusted() bool {
	return q == QualityTrusted
}

// FinalizeMode selects how absent entities become eligible for finalization.
type FinalizeMode string

const (
	// FinalizeModeImmediate finalizes on the first trusted absence.
	FinalizeModeImmediate FinalizeMode = "immediate"

	// FinalizeModeTimeout finalizes only once the grace window has elapsed
	// since the entity was last seen.
	FinalizeModeTimeout FinalizeMode = "timeout"
)

// ParseFinalizeMode parses a configuration value into a FinalizeMode.
func ParseFinalizeMode(s string) (FinalizeMode, error) {
	switch FinalizeMode(strings.ToLower(strings.TrimSpace(s))) {
	case FinalizeModeImmediate:
		return FinalizeModeImmediate, nil
	case FinalizeModeTimeout, "":
		return FinalizeModeTimeout, nil
	default:
		return "", fmt.Errorf("unknown finalize mode %q (expected %q or %q)", s, FinalizeModeImmediate, FinalizeModeTimeout)
	}
}

// FinalizeReason records which path closed an entity.
type FinalizeReason string

const (
	// ReasonAbsent is set when a reconcile cycle observed the absence.
	ReasonAbsent FinalizeReason = "absent"

	// ReasonTimeout is set when the sweep closed a long-absent entity.
	ReasonTimeout FinalizeReason = "timeout"
)

// RawRecord is one occupant as reported by a poller, before identity
// resolution.
type RawRecord struct {
	// ExternalID is a durable upstream key, when the source provides one.
	ExternalID string

	// Name is the occupant's display name.
	Name string

	// ArrivedAt is the upstream arrival time. Zero when unknown.
	ArrivedAt time.Time

	// InService is true when the upstream marks the occupant as being attended.
	InService bool

	// Distinguishing holds the configured identity fields. They are hashed
	// only when both Name and ArrivedAt are missing, and must not include
	// values that change while the occupant waits (status, counters).
	Distinguishing map[string]string

	// Payload carries descriptive fields the engine stores but never interprets.
	Payload map[string]string
}

// Snapshot is the full listing of a partition as of one poll.
type Snapshot struct {
	PartitionKey string
	FetchQuality FetchQuality
	Records      []RawRecord
	ObservedAt   time.Time
}

// Entity is one tracked occupant as persisted by a Store.
type Entity struct {
	PartitionKey   string
	Identity       string
	ReferenceDay   string
	Status         Status
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	FinalizedAt    *time.Time
	FinalizeReason FinalizeReason
	Payload        map[string]string
}

// ReconcileResult summarizes one Reconcile call.
type ReconcileResult struct {
	// Upserted is the number of entities written to the store.
	Upserted int

	// Debounced is the number of observed entities whose write was suppressed.
	Debounced int

	// Weak is the number of identities built from insufficient fields.
	Weak int

	// Finalized lists identities closed in this cycle.
	Finalized []string

	// Skipped lists absent identities left open in this cycle.
	Skipped []string

	// Errors collects per-entity persistence failures. They are retried
	// naturally by the next cycle.
	Errors []error
}

// Store is the persistence boundary used by the Engine.
//
// Implementations must make every method idempotent:
//   - Upsert keys on (PartitionKey, Identity), keeps the first FirstSeenAt,
//     never lowers Status and never modifies a FINALIZED entity.
//   - ActiveEntities returns non-finalized entities of a partition whose
//     LastSeenAt is at or before olderThan; a zero olderThan applies no age
//     filter.
//   - Finalize on an already finalized entity is a no-op.
type Store interface {
	Upsert(ctx context.Context, entity Entity) error
	ActiveEntities(ctx context.Context, partitionKey string, olderThan time.Time) ([]Entity, error)
	Finalize(ctx context.Context, partitionKey, identity string, at time.Time, reason FinalizeReason) error
}
