package application

import (
	"time"

	maintops "equipment-maintops/internal/maintops/domain"
)

// CorrelationUpdated is published after a save committed and its
// association sets were recomputed.
type CorrelationUpdated struct {
	Kind                maintops.Kind           `json:"kind"`
	ID                  int64                   `json:"id"`
	EquipmentInstanceID string                  `json:"equipment_instance_id"`
	AlarmPeriodIDs      maintops.AssociationSet `json:"alarm_period_ids,omitempty"`
	AlertPeriodIDs      maintops.AssociationSet `json:"alert_period_ids,omitempty"`
	ProblemDiagnosisIDs maintops.AssociationSet `json:"problem_diagnosis_ids,omitempty"`
	Warnings            []string                `json:"warnings,omitempty"`
	OccurredAt          time.Time               `json:"occurred_at"`
}

// InstanceRecomputed is published after a batch recompute of one
// equipment instance committed.
type InstanceRecomputed struct {
	EquipmentInstanceID string    `json:"equipment_instance_id"`
	AlarmPeriods        int       `json:"alarm_periods"`
	AlertPeriods        int       `json:"alert_periods"`
	ProblemDiagnoses    int       `json:"problem_diagnoses"`
	Warnings            int       `json:"warnings"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// DiagnosisStatusChanged is published when an operator moves an alert
// period to another workflow stage.
type DiagnosisStatusChanged struct {
	AlertPeriodID       int64     `json:"alert_period_id"`
	EquipmentInstanceID string    `json:"equipment_instance_id"`
	FromStatusID        int64     `json:"from_status_id"`
	ToStatusID          int64     `json:"to_status_id"`
	ToStatusName        string    `json:"to_status_name"`
	Summary             string    `json:"summary"`
	OccurredAt          time.Time `json:"occurred_at"`
}
