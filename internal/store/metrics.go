package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entityindexor_store_flush_duration_seconds",
			Help:    "Duration of finalized block flushes",
			Buckets: prometheus.DefBuckets,
		},
	)

	operationsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindexor_store_operations_applied_total",
			Help: "Total number of persisted operations applied by flushes",
		},
		[]string{"type"},
	)

	entitiesFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entityindexor_store_entities_flushed_total",
			Help: "Total number of entity versions persisted",
		},
	)

	rollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entityindexor_store_rollbacks_total",
			Help: "Total number of interrupted flushes rolled back on startup",
		},
	)

	undoEntriesRestored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entityindexor_store_undo_entries_restored_total",
			Help: "Total number of undo log entries restored during rollback",
		},
	)

	finalizedBlockNumber = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityindexor_store_finalized_block",
			Help: "Number of the last block flushed to the store",
		},
	)
)

func flushObserve(start time.Time, entities int, ops []VersionedOperation, block uint64) {
	flushDuration.Observe(time.Since(start).Seconds())
	entitiesFlushed.Add(float64(entities))
	for _, op := range ops {
		operationsApplied.WithLabelValues(op.Type.String()).Inc()
	}
	finalizedBlockNumber.Set(float64(block))
}

func rollbackObserve(restored int) {
	rollbacks.Inc()
	undoEntriesRestored.Add(float64(restored))
}
