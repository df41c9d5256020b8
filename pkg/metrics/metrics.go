// Package metrics holds the Prometheus collectors of the maintenance
// operations. They register with the default registry on import.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts engine and pipeline runs by result
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_maint_operations_total",
		Help: "Total maintenance operations by operation and result",
	}, []string{"operation", "result"})

	// operationDuration tracks how long an operation held the scene
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scene_maint_operation_duration_seconds",
		Help:    "Maintenance operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
	}, []string{"operation"})

	// entitiesErased counts entities removed by deep delete
	entitiesErased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_maint_entities_erased_total",
		Help: "Total entities erased by deep delete",
	})

	// definitionsReclaimed counts definitions dropped once unused
	definitionsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_maint_definitions_reclaimed_total",
		Help: "Total definitions reclaimed by deep delete",
	})

	// definitionsCloned counts private copies made by deep unique
	definitionsCloned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_maint_definitions_cloned_total",
		Help: "Total definitions cloned by deep unique",
	})

	// purgeSteps counts purge steps by step label and result
	purgeSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_maint_purge_steps_total",
		Help: "Total purge steps by step and result",
	}, []string{"step", "result"})

	// purgeRemoved counts what each purge step removed
	purgeRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_maint_purge_removed_total",
		Help: "Total items removed by purge step",
	}, []string{"step"})

	// httpRequests counts API calls by route template, method and status code
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_maint_http_requests_total",
		Help: "Total HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})

	// httpDuration tracks request latency per route; SSE streams count
	// their whole lifetime
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scene_maint_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// purgeProgress is the progress of the current or last purge run
	purgeProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scene_maint_purge_progress_percent",
		Help: "Progress of the current or last purge run",
	})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveOperation records one engine or pipeline run
func ObserveOperation(operation string, start time.Time, err error) {
	operationsTotal.WithLabelValues(operation, result(err)).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveDelete records the counts of a committed deep delete
func ObserveDelete(removed, reclaimed int) {
	entitiesErased.Add(float64(removed))
	definitionsReclaimed.Add(float64(reclaimed))
}

// ObserveUnique records the counts of a committed deep unique
func ObserveUnique(cloned int) {
	definitionsCloned.Add(float64(cloned))
}

// ObservePurgeStep records one purge step
func ObservePurgeStep(step string, removed int, err error) {
	purgeSteps.WithLabelValues(step, result(err)).Inc()
	if err == nil {
		purgeRemoved.WithLabelValues(step).Add(float64(removed))
	}
}

// SetPurgeProgress updates the purge progress gauge
func SetPurgeProgress(percent int) {
	purgeProgress.Set(float64(percent))
}

// ObserveRequest records one served HTTP request
func ObserveRequest(route, method string, code int, d time.Duration) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
