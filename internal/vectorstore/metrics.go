package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics holds the Prometheus metrics owned by a Store.
type storeMetrics struct {
	// orphanHits counts search hits whose index position had no vector id.
	orphanHits prometheus.Counter

	// saveFailures counts failed persistence attempts, partitioned by file.
	saveFailures *prometheus.CounterVec

	// loadFallbacks counts constructions that fell back to an empty store.
	loadFallbacks prometheus.Counter
}

// newStoreMetrics registers the store metrics against reg. A nil reg creates
// unregistered collectors so the store works without a registry.
func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	factory := promauto.With(reg)

	return &storeMetrics{
		orphanHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragstore",
			Subsystem: "vectorstore",
			Name:      "orphan_hits_total",
			Help:      "Search hits on index positions with no vector id (index/mapping desync).",
		}),
		saveFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragstore",
			Subsystem: "vectorstore",
			Name:      "save_failures_total",
			Help:      "Failed persistence writes, partitioned by file (index or mapping).",
		}, []string{"file"}),
		loadFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragstore",
			Subsystem: "vectorstore",
			Name:      "load_fallbacks_total",
			Help:      "Store constructions that discarded unreadable files and started empty.",
		}),
	}
}
