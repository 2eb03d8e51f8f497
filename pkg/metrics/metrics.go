// Package metrics exposes Prometheus instrumentation for the TxnLock,
// Block File, and B-Tree layers.
//
// NornicDB itself has no metrics package; this one is grounded in its
// general appetite for exposing internal engine counters (see
// pkg/cache's hit/miss tracking in the teacher lineage) generalized to
// Prometheus collectors, since a transactional index's lock contention and
// cache behavior are exactly the kind of thing an operator wants graphed.
//
// A Registry's collectors can be registered against a given
// prometheus.Registerer only once (NewRegistry panics on a duplicate);
// call NewRegistry with a fresh prometheus.NewRegistry() to get an
// independent set for tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the counters and gauges this core exposes.
// LockConflicts and LockSuspensions are registered but nothing in this
// module increments them: txnlock takes no Registry.
type Registry struct {
	LockConflicts     *prometheus.CounterVec
	LockSuspensions   *prometheus.CounterVec
	BlockCacheHits    prometheus.Counter
	BlockCacheMisses  prometheus.Counter
	BlockCacheEvicted prometheus.Counter
	BlockCacheSize    prometheus.Gauge
	NodeSplits        prometheus.Counter
	TombstonesCreated prometheus.Counter
	TombstonesRevived prometheus.Counter
}

// NewRegistry creates a fresh Registry and registers its collectors with
// reg. Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		LockConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txbtree",
			Subsystem: "txnlock",
			Name:      "conflicts_total",
			Help:      "TxnLock acquisitions refused with Conflict, by operation (read/write).",
		}, []string{"op"}),
		LockSuspensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txbtree",
			Subsystem: "txnlock",
			Name:      "suspensions_total",
			Help:      "TxnLock acquisitions that suspended on an active reservation, by operation.",
		}, []string{"op"}),
		BlockCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txbtree",
			Subsystem: "blockfile",
			Name:      "lock_cache_hits_total",
			Help:      "Per-block TxnLock cache lookups served from cache.",
		}),
		BlockCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txbtree",
			Subsystem: "blockfile",
			Name:      "lock_cache_misses_total",
			Help:      "Per-block TxnLock cache lookups that materialized a new lock.",
		}),
		BlockCacheEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txbtree",
			Subsystem: "blockfile",
			Name:      "lock_cache_evictions_total",
			Help:      "Per-block TxnLock cache entries evicted, for being over capacity or after their block left the listing.",
		}),
		BlockCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txbtree",
			Subsystem: "blockfile",
			Name:      "lock_cache_size",
			Help:      "Current number of entries in the per-block TxnLock cache.",
		}),
		NodeSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txbtree",
			Subsystem: "btree",
			Name:      "node_splits_total",
			Help:      "B-Tree nodes split during insert.",
		}),
		TombstonesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txbtree",
			Subsystem: "btree",
			Name:      "tombstones_created_total",
			Help:      "Keys marked deleted by delete_range.",
		}),
		TombstonesRevived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txbtree",
			Subsystem: "btree",
			Name:      "tombstones_revived_total",
			Help:      "Tombstoned keys cleared by a re-insert.",
		}),
	}
	reg.MustRegister(
		r.LockConflicts, r.LockSuspensions,
		r.BlockCacheHits, r.BlockCacheMisses, r.BlockCacheEvicted, r.BlockCacheSize,
		r.NodeSplits, r.TombstonesCreated, r.TombstonesRevived,
	)
	return r
}

// Noop returns a Registry backed by a private registry, for call sites
// that want metrics wired but don't care about exporting them (e.g. most
// tests).
func Noop() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}
