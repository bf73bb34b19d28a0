package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "queuewatch"

// Metrics holds the counters the engine reports per partition.
//
// A Metrics built with a nil Registerer is fully functional but not
// exported, which is what tests and one-shot commands use.
type Metrics struct {
	Cycles            *prometheus.CounterVec
	Upserts           *prometheus.CounterVec
	Debounced         *prometheus.CounterVec
	Finalized         *prometheus.CounterVec
	FinalizeSkipped   *prometheus.CounterVec
	WeakIdentities    *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
	ActiveEntities    *prometheus.GaugeVec
}

// NewMetrics creates the engine metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_cycles_total",
			Help:      "Reconcile calls by partition and snapshot fetch quality.",
		}, []string{"partition", "quality"}),
		Upserts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entity_upserts_total",
			Help:      "Entity writes issued to the store.",
		}, []string{"partition"}),
		Debounced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entity_writes_debounced_total",
			Help:      "Observations whose write was suppressed by the debounce cache.",
		}, []string{"partition"}),
		Finalized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entities_finalized_total",
			Help:      "Entities finalized, by reason (absent or timeout).",
		}, []string{"partition", "reason"}),
		FinalizeSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "finalize_skipped_total",
			Help:      "Absent entities left open because of fetch quality or the grace window.",
		}, []string{"partition"}),
		WeakIdentities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "identity_weak_total",
			Help:      "Identities derived from insufficient distinguishing fields.",
		}, []string{"partition"}),
		PersistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persistence_errors_total",
			Help:      "Failed store operations by operation.",
		}, []string{"partition", "op"}),
		ActiveEntities: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_entities",
			Help:      "Non-finalized entities seen by the last reconcile cycle.",
		}, []string{"partition"}),
	}
}
