package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindexor_rpc_requests_total",
			Help: "Total number of chain provider calls by method",
		},
		[]string{"method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindexor_rpc_errors_total",
			Help: "Total number of failed chain provider calls by method and type",
		},
		[]string{"method", "error_type"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindexor_rpc_retries_total",
			Help: "Total number of retried chain provider calls by method",
		},
		[]string{"method"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entityindexor_rpc_request_duration_seconds",
			Help:    "Duration of chain provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func rpcRetryInc(method string) {
	rpcRetries.WithLabelValues(method).Inc()
}

// instrument records one call of method.
func instrument(method string, fn func() error) error {
	start := time.Now()
	err := fn()

	rpcRequests.WithLabelValues(method).Inc()
	rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		rpcErrors.WithLabelValues(method, errorType(err)).Inc()
	}

	return err
}

func errorType(err error) string {
	if ok, _ := IsTooManyResultsError(err); ok {
		return "too_many_results"
	}
	if retryableError(err) {
		return "transient"
	}
	return "permanent"
}
