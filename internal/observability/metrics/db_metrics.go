package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "ongoing_alarm_periods",
			Help: "Alarm periods without an end timestamp",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM alarm_periods WHERE to_timestamp IS NULL")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "alert_periods_to_diagnose",
			Help: "Alert periods still in the initial diagnosis status",
		},
		func() float64 {
			return queryCount(db, logger, `
SELECT COUNT(*)
FROM alert_periods a
JOIN alert_diagnosis_statuses s ON s.id = a.diagnosis_status_id
WHERE s."index" = 0`)
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "unassociated_alert_periods",
			Help: "Alert periods with neither alarm periods nor diagnoses associated",
		},
		func() float64 {
			return queryCount(db, logger, `
SELECT COUNT(*)
FROM alert_periods
WHERE NOT has_associated_alarm_periods AND NOT has_associated_problem_diagnoses`)
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "outbox_dead_events",
			Help: "Outbox events that exhausted their delivery attempts",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM maintops_event_outbox WHERE state = 'dead'")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
