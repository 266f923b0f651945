package follower

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	finalizedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityindexor_follower_finalized_block",
			Help: "Number of the finalized frontier",
		},
	)

	tipBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityindexor_follower_tip_block",
			Help: "Number of the highest processed block",
		},
	)

	blocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entityindexor_follower_blocks_processed_total",
			Help: "Total number of blocks whose logs were handled",
		},
	)

	logsHandled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entityindexor_follower_logs_handled_total",
			Help: "Total number of logs passed to handlers",
		},
	)

	reorgsAbsorbed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entityindexor_follower_reorgs_absorbed_total",
			Help: "Total number of branch switches resolved by back-filling parents",
		},
	)

	bloomSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entityindexor_follower_bloom_skips_total",
			Help: "Total number of per-block log fetches skipped by the header bloom",
		},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entityindexor_follower_step_duration_seconds",
			Help:    "Duration of follower steps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

func stepObserve(start time.Time, result string) {
	stepDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
