package maintops

import (
	"fmt"
	"strings"
	"time"
)

// AlertPeriod is a window during which a risk score exceeded a threshold
// for one equipment instance within a unique-type group.
// Invariants: unique per (group, instance, risk score name, threshold,
// from date) and per (group, instance, risk score name, threshold, to date).
type AlertPeriod struct {
	ID                  int64     `json:"id"`
	EquipmentInstanceID string    `json:"equipment_instance_id"`
	GroupID             string    `json:"equipment_unique_type_group_id"`
	RiskScoreName       string    `json:"risk_score_name"`
	Threshold           float64   `json:"threshold"`
	FromDate            time.Time `json:"from_date"`
	ToDate              time.Time `json:"to_date"`
	DateRange           DateRange `json:"date_range"`
	Duration            int       `json:"duration"`

	CumulativeExcessRiskScore float64        `json:"cumulative_excess_risk_score"`
	ApproxAverageRiskScore    float64        `json:"approx_average_risk_score"`
	LastRiskScore             float64        `json:"last_risk_score"`
	Ongoing                   bool           `json:"ongoing"`
	Info                      map[string]any `json:"info"`

	// DiagnosisStatusID is zero until the default status is assigned.
	DiagnosisStatusID int64 `json:"diagnosis_status_id"`

	AlarmPeriodIDs      AssociationSet `json:"alarm_period_ids"`
	ProblemDiagnosisIDs AssociationSet `json:"problem_diagnosis_ids"`

	HasAssociatedAlarmPeriods      bool `json:"has_associated_alarm_periods"`
	HasAssociatedProblemDiagnoses bool `json:"has_associated_problem_diagnoses"`
}

// Validate checks required fields and date ordering.
func (a *AlertPeriod) Validate() error {
	if a == nil {
		return ErrNilRecord
	}
	entity := string(KindAlertPeriod)
	if strings.TrimSpace(a.EquipmentInstanceID) == "" {
		return NewValidationError(entity, "equipment_instance_id", "required")
	}
	if strings.TrimSpace(a.GroupID) == "" {
		return NewValidationError(entity, "equipment_unique_type_group_id", "required")
	}
	if strings.TrimSpace(a.RiskScoreName) == "" {
		return NewValidationError(entity, "risk_score_name", "required")
	}
	if a.FromDate.IsZero() {
		return NewValidationError(entity, "from_date", "required")
	}
	if a.ToDate.IsZero() {
		return NewValidationError(entity, "to_date", "required")
	}
	if TruncateToDate(a.ToDate).Before(TruncateToDate(a.FromDate)) {
		return NewValidationError(entity, "to_date", "before from_date")
	}
	return nil
}

// Derive recomputes date range, duration and the approximate average risk
// score from the stored inputs.
func (a *AlertPeriod) Derive() error {
	a.FromDate = TruncateToDate(a.FromDate)
	a.ToDate = TruncateToDate(a.ToDate)
	r, err := NewDateRange(a.FromDate, a.ToDate)
	if err != nil {
		return err
	}
	a.DateRange = r
	a.Duration = DaysBetween(a.FromDate, a.ToDate) + 1
	a.ApproxAverageRiskScore = a.Threshold + a.CumulativeExcessRiskScore/float64(a.Duration)
	if a.Info == nil {
		a.Info = map[string]any{}
	}
	return nil
}

func (a *AlertPeriod) String() string {
	return a.Describe("")
}

// Describe renders the period led by its upper-cased diagnosis status
// name, when one is given.
func (a *AlertPeriod) Describe(statusName string) string {
	prefix := ""
	if statusName != "" {
		prefix = strings.ToUpper(statusName) + ": "
	}
	if a.Ongoing {
		prefix += "ONGOING "
	}
	return fmt.Sprintf("%sAlert on %s #%s from %s to %s w Approx Avg Risk Score %.1f (Last: %.1f) (based on %s > %g) for %d Day(s)",
		prefix, a.GroupID, a.EquipmentInstanceID,
		a.FromDate.Format(dateLayout), a.ToDate.Format(dateLayout),
		a.ApproxAverageRiskScore, a.LastRiskScore, a.RiskScoreName, a.Threshold, a.Duration)
}

// Clone returns a deep copy. Info is copied one level deep.
func (a *AlertPeriod) Clone() *AlertPeriod {
	if a == nil {
		return nil
	}
	c := *a
	if a.Info != nil {
		c.Info = make(map[string]any, len(a.Info))
		for k, v := range a.Info {
			c.Info[k] = v
		}
	}
	c.AlarmPeriodIDs = a.AlarmPeriodIDs.Clone()
	c.ProblemDiagnosisIDs = a.ProblemDiagnosisIDs.Clone()
	return &c
}
