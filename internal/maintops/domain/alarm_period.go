package maintops

import (
	"fmt"
	"strings"
	"time"
)

const secondsPerDay = 86400

// AlarmPeriod is a raw sensor/rule-triggered window for one equipment
// instance and one alarm type.
// Invariant: unique per (equipment instance, alarm type, from timestamp).
type AlarmPeriod struct {
	ID                  int64     `json:"id"`
	EquipmentInstanceID string    `json:"equipment_instance_id"`
	AlarmTypeID         int64     `json:"alarm_type_id"`
	FromTimestamp       time.Time `json:"from_utc_date_time"`
	// ToTimestamp is zero while the alarm is ongoing.
	ToTimestamp    time.Time `json:"to_utc_date_time,omitempty"`
	DurationInDays *float64  `json:"duration_in_days"`
	DateRange      DateRange `json:"date_range"`

	AlertPeriodIDs      AssociationSet `json:"alert_period_ids"`
	ProblemDiagnosisIDs AssociationSet `json:"problem_diagnosis_ids"`

	HasAssociatedAlertPeriods      bool `json:"has_associated_alert_periods"`
	HasAssociatedProblemDiagnoses bool `json:"has_associated_problem_diagnoses"`
}

// Ongoing reports whether the alarm has no end yet.
func (a *AlarmPeriod) Ongoing() bool { return a.ToTimestamp.IsZero() }

// Validate checks required fields and the window ordering.
func (a *AlarmPeriod) Validate() error {
	if a == nil {
		return ErrNilRecord
	}
	if strings.TrimSpace(a.EquipmentInstanceID) == "" {
		return NewValidationError(string(KindAlarmPeriod), "equipment_instance_id", "required")
	}
	if a.AlarmTypeID <= 0 {
		return NewValidationError(string(KindAlarmPeriod), "alarm_type_id", "required")
	}
	if a.FromTimestamp.IsZero() {
		return NewValidationError(string(KindAlarmPeriod), "from_timestamp", "required")
	}
	if !a.ToTimestamp.IsZero() && a.ToTimestamp.Before(a.FromTimestamp) {
		return NewValidationError(string(KindAlarmPeriod), "to_timestamp", "before from_timestamp")
	}
	return nil
}

// Derive recomputes the duration and padded date range from the stored
// timestamps.
func (a *AlarmPeriod) Derive() error {
	a.FromTimestamp = a.FromTimestamp.UTC()
	if a.ToTimestamp.IsZero() {
		a.DurationInDays = nil
	} else {
		a.ToTimestamp = a.ToTimestamp.UTC()
		days := a.ToTimestamp.Sub(a.FromTimestamp).Seconds() / secondsPerDay
		a.DurationInDays = &days
	}
	r, err := PaddedDateRange(a.FromTimestamp, a.ToTimestamp)
	if err != nil {
		return err
	}
	a.DateRange = r
	return nil
}

func (a *AlarmPeriod) String() string {
	if a.Ongoing() {
		return fmt.Sprintf("%s: alarm type %d from %s (ONGOING)",
			a.EquipmentInstanceID, a.AlarmTypeID, a.FromTimestamp.Format(time.RFC3339))
	}
	days := 0.0
	if a.DurationInDays != nil {
		days = *a.DurationInDays
	}
	return fmt.Sprintf("%s: alarm type %d from %s to %s (%.3f Days)",
		a.EquipmentInstanceID, a.AlarmTypeID, a.FromTimestamp.Format(time.RFC3339),
		a.ToTimestamp.Format(time.RFC3339), days)
}

// Clone returns a deep copy.
func (a *AlarmPeriod) Clone() *AlarmPeriod {
	if a == nil {
		return nil
	}
	c := *a
	if a.DurationInDays != nil {
		d := *a.DurationInDays
		c.DurationInDays = &d
	}
	c.AlertPeriodIDs = a.AlertPeriodIDs.Clone()
	c.ProblemDiagnosisIDs = a.ProblemDiagnosisIDs.Clone()
	return &c
}
