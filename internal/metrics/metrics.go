// Package metrics holds the process-wide Prometheus collectors and the HTTP
// server exposing them. Component-specific collectors live next to their
// component.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	kvOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindexor_kv_operations_total",
			Help: "Total number of key/value operations",
		},
		[]string{"backend", "operation"},
	)

	kvOperationTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entityindexor_kv_operation_duration_seconds",
			Help:    "Duration of key/value operations",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), //nolint:mnd
		},
		[]string{"backend", "operation"},
	)

	kvErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindexor_kv_errors_total",
			Help: "Total number of failed key/value operations",
		},
		[]string{"backend", "operation"},
	)

	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityindexor_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityindexor_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	componentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entityindexor_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityindexor_goroutines",
			Help: "Number of active goroutines",
		},
	)

	memoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entityindexor_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

// KVOperation records one key/value operation that started at start.
func KVOperation(backend, operation string, start time.Time, err error) {
	kvOperations.WithLabelValues(backend, operation).Inc()
	kvOperationTime.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		kvErrors.WithLabelValues(backend, operation).Inc()
	}
}

// ErrorInc counts an error reported by component.
func ErrorInc(component, severity string) {
	errorsTotal.WithLabelValues(component, severity).Inc()
}

// ComponentHealthSet publishes the health of component.
func ComponentHealthSet(component string, healthy bool) {
	value := float64(1)
	if !healthy {
		value = 0
	}

	componentHealth.WithLabelValues(component).Set(value)
}

// UpdateSystemMetrics refreshes the runtime gauges.
func UpdateSystemMetrics() {
	uptime.Set(time.Since(startTime).Seconds())
	goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	memoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	memoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	memoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
