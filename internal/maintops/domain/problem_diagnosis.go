package maintops

import (
	"fmt"
	"strings"
	"time"
)

// ProblemDiagnosis is an operator-recorded window documenting an equipment
// problem. Invariant: unique per (equipment instance, from date).
type ProblemDiagnosis struct {
	ID                  int64     `json:"id"`
	EquipmentInstanceID string    `json:"equipment_instance_id"`
	FromDate            time.Time `json:"from_date"`
	// ToDate is zero while the diagnosis is ongoing.
	ToDate    time.Time `json:"to_date,omitempty"`
	DateRange DateRange `json:"date_range"`
	Duration  *int      `json:"duration"`

	ProblemTypeIDs       AssociationSet `json:"equipment_problem_type_ids"`
	HasEquipmentProblems bool           `json:"has_equipment_problems"`
	Dismissed            bool           `json:"dismissed"`
	Comments             string         `json:"comments,omitempty"`

	AlarmPeriodIDs AssociationSet `json:"alarm_period_ids"`
	AlertPeriodIDs AssociationSet `json:"alert_period_ids"`

	HasAssociatedAlarmPeriods bool `json:"has_associated_alarm_periods"`
	HasAssociatedAlertPeriods bool `json:"has_associated_alert_periods"`
}

// Ongoing reports whether the diagnosis has no end date yet.
func (d *ProblemDiagnosis) Ongoing() bool { return d.ToDate.IsZero() }

// Validate checks required fields and date ordering.
func (d *ProblemDiagnosis) Validate() error {
	if d == nil {
		return ErrNilRecord
	}
	entity := string(KindProblemDiagnosis)
	if strings.TrimSpace(d.EquipmentInstanceID) == "" {
		return NewValidationError(entity, "equipment_instance_id", "required")
	}
	if d.FromDate.IsZero() {
		return NewValidationError(entity, "from_date", "required")
	}
	if !d.ToDate.IsZero() && TruncateToDate(d.ToDate).Before(TruncateToDate(d.FromDate)) {
		return NewValidationError(entity, "to_date", "before from_date")
	}
	return nil
}

// Derive recomputes date range, duration and the problem flag.
func (d *ProblemDiagnosis) Derive() error {
	d.FromDate = TruncateToDate(d.FromDate)
	if d.ToDate.IsZero() {
		d.Duration = nil
	} else {
		d.ToDate = TruncateToDate(d.ToDate)
		days := DaysBetween(d.FromDate, d.ToDate) + 1
		d.Duration = &days
	}
	r, err := NewDateRange(d.FromDate, d.ToDate)
	if err != nil {
		return err
	}
	d.DateRange = r
	d.ProblemTypeIDs = NewAssociationSet(d.ProblemTypeIDs...)
	d.HasEquipmentProblems = len(d.ProblemTypeIDs) > 0
	return nil
}

func (d *ProblemDiagnosis) String() string {
	out := fmt.Sprintf("%s from %s ", d.EquipmentInstanceID, d.FromDate.Format(dateLayout))
	if d.Ongoing() {
		out += "(ONGOING)"
	} else {
		out += "to " + d.ToDate.Format(dateLayout)
	}
	if d.Dismissed {
		out += " (DISMISSED)"
	}
	return out
}

// Clone returns a deep copy.
func (d *ProblemDiagnosis) Clone() *ProblemDiagnosis {
	if d == nil {
		return nil
	}
	c := *d
	if d.Duration != nil {
		v := *d.Duration
		c.Duration = &v
	}
	c.ProblemTypeIDs = d.ProblemTypeIDs.Clone()
	c.AlarmPeriodIDs = d.AlarmPeriodIDs.Clone()
	c.AlertPeriodIDs = d.AlertPeriodIDs.Clone()
	return &c
}
