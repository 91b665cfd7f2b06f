package metrics

import (
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "parallel_coordinator"
)

var (
	nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of test completions",
	}, []string{
		"execution_id",
		"result",
	})

	testDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Duration of individual tests",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{
		"execution_id",
	})

	quarantineEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "quarantine_events_total",
		Help:      "Count of quarantine and release events",
	}, []string{
		"action",
	})

	lockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "lock_contention_total",
		Help:      "Count of lock acquisitions refused because the resource was held",
	}, []string{
		"resource_id",
	})

	poolUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "pool_utilization",
		Help:      "Resource pool utilization percentage",
	}, []string{
		"pool_id",
	})

	workerLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "worker_load",
		Help:      "Current number of tests assigned to a worker",
	}, []string{
		"worker_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err string) string {
	errClean := nonAlphanumericRegex.ReplaceAllString(err, "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

// RecordError increments the error counter for the given label.
func RecordError(errLabel string) {
	errorsTotal.WithLabelValues(errToLabel(errLabel)).Inc()
}

// RecordTestCompletion records one finished test.
func RecordTestCompletion(executionID string, success bool, duration time.Duration) {
	result := "pass"
	if !success {
		result = "fail"
	}
	testsTotal.WithLabelValues(executionID, result).Inc()
	testDuration.WithLabelValues(executionID).Observe(duration.Seconds())
}

// RecordQuarantineEvent records a quarantine or release transition.
func RecordQuarantineEvent(action string) {
	quarantineEvents.WithLabelValues(action).Inc()
}

// RecordLockContention records a refused lock acquisition.
func RecordLockContention(resourceID string) {
	lockContention.WithLabelValues(resourceID).Inc()
}

// RecordPoolUtilization publishes a pool's utilization percentage.
func RecordPoolUtilization(poolID string, utilization float64) {
	poolUtilization.WithLabelValues(poolID).Set(utilization)
}

// RecordWorkerLoad publishes a worker's current load.
func RecordWorkerLoad(workerID string, load int) {
	workerLoad.WithLabelValues(workerID).Set(float64(load))
}
