package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "maintops_"

	resultSuccess    = "success"
	resultValidation = "validation"
	resultNotFound   = "not_found"
	resultError      = "error"
)

var (
	registerOnce sync.Once

	saveTotal   *prometheus.CounterVec
	saveLatency *prometheus.HistogramVec

	correlationLinks    *prometheus.HistogramVec
	consistencyWarnings *prometheus.CounterVec

	recomputeTotal   *prometheus.CounterVec
	recomputeLatency *prometheus.HistogramVec

	statusTransitions *prometheus.CounterVec
)

// Init registers metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		saveTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "save_total",
				Help: "Total entity saves by kind and result",
			},
			[]string{"kind", "result"},
		)
		saveLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "save_latency_seconds",
				Help:    "Save plus correlation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)

		correlationLinks = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "correlation_links",
				Help:    "Associations found per correlation pass by source and target kind",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"source", "target"},
		)
		consistencyWarnings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "consistency_warnings_total",
				Help: "Overlap candidates skipped because they belong to another equipment instance",
			},
			[]string{"source", "target"},
		)

		recomputeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recompute_total",
				Help: "Total batch recompute runs per equipment instance by result",
			},
			[]string{"result"},
		)
		recomputeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "recompute_latency_seconds",
				Help:    "Batch recompute latency per equipment instance in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		statusTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "diagnosis_status_transitions_total",
				Help: "Operator diagnosis status transitions by target status",
			},
			[]string{"status"},
		)

		prometheus.MustRegister(
			saveTotal,
			saveLatency,
			correlationLinks,
			consistencyWarnings,
			recomputeTotal,
			recomputeLatency,
			statusTransitions,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveSave records a save and its latency.
func ObserveSave(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if saveTotal != nil {
		saveTotal.WithLabelValues(kind, result).Inc()
	}
	if saveLatency != nil {
		saveLatency.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// ObserveCorrelationLinks records how many associations one pass found.
func ObserveCorrelationLinks(source, target string, count int) {
	if count < 0 {
		count = 0
	}
	if correlationLinks != nil {
		correlationLinks.WithLabelValues(source, target).Observe(float64(count))
	}
}

// IncConsistencyWarning counts a skipped cross-instance candidate.
func IncConsistencyWarning(source, target string) {
	if consistencyWarnings != nil {
		consistencyWarnings.WithLabelValues(source, target).Inc()
	}
}

// ObserveRecompute records a batch recompute of one equipment instance.
func ObserveRecompute(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if recomputeTotal != nil {
		recomputeTotal.WithLabelValues(result).Inc()
	}
	if recomputeLatency != nil {
		recomputeLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncStatusTransition counts an operator status change.
func IncStatusTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	if statusTransitions != nil {
		statusTransitions.WithLabelValues(status).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess    = resultSuccess
	ResultValidation = resultValidation
	ResultNotFound   = resultNotFound
	ResultError      = resultError
)
