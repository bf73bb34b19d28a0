// Package reconciler derives queue occupancy and lifecycle state from
// repeated "who is present now" snapshots.
//
// # Overview
//
// The upstream queue surfaces (reception desk, medical waiting room) only
// ever report who is currently present. They never emit a departure or
// completion event. The reconciler turns a stream of such snapshots into
// entity lifecycles:
//
//	WAITING ──(upstream marks in service)──▶ IN_SERVICE
//	   │                                         │
//	   └──────(absent + eligible)──▶ FINALIZED ◀─┘
//
// FINALIZED is terminal for an identity on its reference day.
//
// # Components
//
//   - Resolver: content-derived identities for occupants without a durable key
//   - DebounceCache: bounds persistence writes per identity
//   - Engine: per-partition diff of snapshot against persisted active entities
//   - Engine.Sweep: timeout-based finalization independent of diff cycles
//   - Store: the narrow persistence boundary (see internal/storage)
//
// # Safety guard
//
// A snapshot whose FetchQuality is not TRUSTED never finalizes anything. A
// failed or partial poll is indistinguishable from an empty queue, so
// finalizing on it would close every open entity at once.
//
// # Concurrency
//
// Reconcile and Sweep for the same partition are serialized by a
// per-partition mutex. Different partitions proceed in parallel, and no
// engine-wide lock is held during Store I/O. The DebounceCache is shared by
// all partitions and performs its check-and-set atomically.
//
// Example usage:
//
//	engine := reconciler.NewEngine(store, reconciler.EngineConfig{
//	    GraceWindow:  5 * time.Minute,
//	    FinalizeMode: reconciler.FinalizeModeTimeout,
//	})
//	result, err := engine.Reconcile(ctx, "U1", snapshot)
package reconciler
