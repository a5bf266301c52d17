package core

import "github.com/prometheus/client_golang/prometheus"

var IngestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ministry",
	Subsystem: "store",
	Name:      "ingests",
}, []string{"result"})

var IndexWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ministry",
	Subsystem: "store",
	Name:      "index_writes",
}, []string{"kind"})

var StorageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ministry",
	Subsystem: "store",
	Name:      "storage_errors",
}, []string{"op"})

var UnknownClassifiers = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ministry",
	Subsystem: "store",
	Name:      "unknown_classifiers",
})

var ReindexDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "ministry",
	Subsystem: "store",
	Name:      "reindex_duration_seconds",
	Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
})

// Collectors returns the store's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{IngestCount, IndexWrites, StorageErrors, UnknownClassifiers, ReindexDuration}
}
