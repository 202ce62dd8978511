// Package metrics holds the Prometheus collectors for the lifecycle core.
// Collectors are registered lazily by InitMetrics; every Record method is a
// no-op until then, so packages may record unconditionally.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Config cache metrics
	configRefreshTotal    *prometheus.CounterVec
	configRefreshDuration prometheus.Histogram
	configAge             prometheus.Gauge

	// Pool metrics
	poolRebuildTotal *prometheus.CounterVec
	poolOpen         *prometheus.GaugeVec

	// Query metrics
	queryAttemptsTotal *prometheus.CounterVec
	queryRetriesTotal  *prometheus.CounterVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// Recorder provides methods to record lifecycle metrics.
type Recorder struct{}

// NewRecorder creates a new Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	metricsOnce.Do(func() {
		configRefreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediavault_config_refresh_total",
				Help: "Total number of secret fetches by result",
			},
			[]string{"result"},
		)

		configRefreshDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mediavault_config_refresh_duration_seconds",
				Help:    "Duration of secret fetches in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		configAge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediavault_config_age_seconds",
				Help: "Age of the cached configuration at its last read",
			},
		)

		poolRebuildTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediavault_pool_rebuild_total",
				Help: "Total number of pool constructions by role and result",
			},
			[]string{"role", "result"},
		)

		poolOpen = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mediavault_pool_open",
				Help: "Whether a pool is installed for the role (1=open, 0=absent)",
			},
			[]string{"role"},
		)

		queryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediavault_query_attempts_total",
				Help: "Total number of query attempts by role and outcome",
			},
			[]string{"role", "outcome"},
		)

		queryRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediavault_query_retries_total",
				Help: "Total number of query retries by role and failure kind",
			},
			[]string{"role", "kind"},
		)

		metricsRegistered = true
	})
}

// RecordConfigRefresh records one secret fetch.
func (r *Recorder) RecordConfigRefresh(result string, duration time.Duration) {
	if !metricsRegistered {
		return
	}

	if configRefreshTotal != nil {
		configRefreshTotal.WithLabelValues(result).Inc()
	}

	if configRefreshDuration != nil {
		configRefreshDuration.Observe(duration.Seconds())
	}
}

// RecordConfigAge records the age of the cached configuration.
func (r *Recorder) RecordConfigAge(age time.Duration) {
	if !metricsRegistered || configAge == nil {
		return
	}
	configAge.Set(age.Seconds())
}

// RecordPoolRebuild records one pool construction attempt.
func (r *Recorder) RecordPoolRebuild(role string, ok bool) {
	if !metricsRegistered || poolRebuildTotal == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	poolRebuildTotal.WithLabelValues(role, result).Inc()
}

// RecordPoolOpen records whether a pool is installed for role.
func (r *Recorder) RecordPoolOpen(role string, open bool) {
	if !metricsRegistered || poolOpen == nil {
		return
	}
	value := 0.0
	if open {
		value = 1.0
	}
	poolOpen.WithLabelValues(role).Set(value)
}

// RecordQueryAttempt records one query attempt.
func (r *Recorder) RecordQueryAttempt(role, outcome string) {
	if !metricsRegistered || queryAttemptsTotal == nil {
		return
	}
	queryAttemptsTotal.WithLabelValues(role, outcome).Inc()
}

// RecordQueryRetry records a retry and the kind of failure that caused it.
func (r *Recorder) RecordQueryRetry(role, kind string) {
	if !metricsRegistered || queryRetriesTotal == nil {
		return
	}
	queryRetriesTotal.WithLabelValues(role, kind).Inc()
}

// GetConfigRefreshTotal returns the refresh counter for testing.
func GetConfigRefreshTotal() *prometheus.CounterVec {
	return configRefreshTotal
}

// GetPoolRebuildTotal returns the rebuild counter for testing.
func GetPoolRebuildTotal() *prometheus.CounterVec {
	return poolRebuildTotal
}

// GetPoolOpen returns the pool gauge for testing.
func GetPoolOpen() *prometheus.GaugeVec {
	return poolOpen
}

// GetQueryAttemptsTotal returns the attempts counter for testing.
func GetQueryAttemptsTotal() *prometheus.CounterVec {
	return queryAttemptsTotal
}

// GetQueryRetriesTotal returns the retries counter for testing.
func GetQueryRetriesTotal() *prometheus.CounterVec {
	return queryRetriesTotal
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
