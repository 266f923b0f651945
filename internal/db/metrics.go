package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entityindexor_sqlite_maintenance_runs_total",
			Help: "Total number of maintenance operations",
		},
	)

	maintenanceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindexor_sqlite_maintenance_outcomes_total",
			Help: "Total number of maintenance operations by outcome",
		},
		[]string{"status"},
	)

	maintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entityindexor_sqlite_maintenance_duration_seconds",
			Help:    "Duration of maintenance operations",
			Buckets: prometheus.DefBuckets,
		},
	)

	maintenanceLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityindexor_sqlite_maintenance_last_run_timestamp",
			Help: "Unix timestamp of last maintenance run",
		},
	)

	maintenanceSpaceReclaimed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityindexor_sqlite_maintenance_space_reclaimed_bytes",
			Help: "Bytes reclaimed by last maintenance operation",
		},
	)

	walCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindexor_sqlite_wal_checkpoint_total",
			Help: "Total number of WAL checkpoint operations",
		},
		[]string{"mode"},
	)

	vacuumRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entityindexor_sqlite_vacuum_total",
			Help: "Total number of VACUUM operations",
		},
	)

	dbSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entityindexor_sqlite_db_size_bytes",
			Help: "SQLite key/value store size in bytes, including WAL and shared memory files",
		},
		[]string{"type"},
	)
)

func maintenanceRunsInc() {
	maintenanceRuns.Inc()
}

func maintenanceDurationLog(duration time.Duration) {
	maintenanceDuration.Observe(duration.Seconds())
}

func maintenanceLastRunLog() {
	maintenanceLastRun.Set(float64(time.Now().UTC().Unix()))
}

func maintenanceErrorInc() {
	maintenanceOutcomes.WithLabelValues("error").Inc()
}

func maintenanceSuccessInc() {
	maintenanceOutcomes.WithLabelValues("success").Inc()
}

func maintenanceSpaceReclaimedLog(bytesReclaimed uint64) {
	maintenanceSpaceReclaimed.Set(float64(bytesReclaimed))
}

func walCheckpointInc(mode string) {
	walCheckpoints.WithLabelValues(mode).Inc()
}

func vacuumRunsInc() {
	vacuumRuns.Inc()
}

func dbSizeLog(sizeBytes int64) {
	dbSize.WithLabelValues("total").Set(float64(sizeBytes))
}
