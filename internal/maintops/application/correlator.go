package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	maintops "equipment-maintops/internal/maintops/domain"
	"equipment-maintops/internal/observability/metrics"
)

// Correlation is the outcome of one correlation pass for a saved entity.
// The sets for the entity's own kind stay nil.
type Correlation struct {
	AlarmPeriodIDs      maintops.AssociationSet
	AlertPeriodIDs      maintops.AssociationSet
	ProblemDiagnosisIDs maintops.AssociationSet
	Warnings            []maintops.ConsistencyWarning
}

// Correlator matches a saved entity against the two other kinds of the
// same equipment instance by date-range overlap.
//
// For the saved entity the association sets are replaced and both of its
// own flags are set from the fresh result. Every matched entity only gets
// its flag for the saved kind pushed to true: flags are never cleared here,
// even when an earlier association has since disappeared.
type Correlator struct {
	logger *zap.Logger
}

// NewCorrelator constructs a correlator.
func NewCorrelator(logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{logger: logger}
}

// CorrelateAlarmPeriod runs the pass for a persisted alarm period.
func (c *Correlator) CorrelateAlarmPeriod(ctx context.Context, tx maintops.Tx, period *maintops.AlarmPeriod) (Correlation, error) {
	if period == nil || period.ID == 0 {
		return Correlation{}, errors.New("correlator: unsaved alarm period")
	}
	src := source{kind: maintops.KindAlarmPeriod, id: period.ID, instanceID: period.EquipmentInstanceID}

	alerts, err := tx.AlertPeriods().ListOverlapping(ctx, period.EquipmentInstanceID, period.DateRange)
	if err != nil {
		return Correlation{}, err
	}
	diagnoses, err := tx.ProblemDiagnoses().ListOverlapping(ctx, period.EquipmentInstanceID, period.DateRange)
	if err != nil {
		return Correlation{}, err
	}

	var result Correlation
	result.AlertPeriodIDs = c.scope(src, maintops.KindAlertPeriod, alertKeys(alerts), &result.Warnings)
	result.ProblemDiagnosisIDs = c.scope(src, maintops.KindProblemDiagnosis, diagnosisKeys(diagnoses), &result.Warnings)

	if err := tx.Associations().ReplaceForAlarmPeriod(ctx, period.ID, result.AlertPeriodIDs, result.ProblemDiagnosisIDs); err != nil {
		return Correlation{}, err
	}
	if err := tx.AlertPeriods().MarkAssociated(ctx, result.AlertPeriodIDs, maintops.KindAlarmPeriod); err != nil {
		return Correlation{}, err
	}
	if err := tx.ProblemDiagnoses().MarkAssociated(ctx, result.ProblemDiagnosisIDs, maintops.KindAlarmPeriod); err != nil {
		return Correlation{}, err
	}
	if err := tx.AlarmPeriods().SetAssociated(ctx, period.ID, maintops.KindAlertPeriod, !result.AlertPeriodIDs.Empty()); err != nil {
		return Correlation{}, err
	}
	if err := tx.AlarmPeriods().SetAssociated(ctx, period.ID, maintops.KindProblemDiagnosis, !result.ProblemDiagnosisIDs.Empty()); err != nil {
		return Correlation{}, err
	}
	c.observe(src, result)
	return result, nil
}

// CorrelateAlertPeriod runs the pass for a persisted alert period.
func (c *Correlator) CorrelateAlertPeriod(ctx context.Context, tx maintops.Tx, period *maintops.AlertPeriod) (Correlation, error) {
	if period == nil || period.ID == 0 {
		return Correlation{}, errors.New("correlator: unsaved alert period")
	}
	src := source{kind: maintops.KindAlertPeriod, id: period.ID, instanceID: period.EquipmentInstanceID}

	alarms, err := tx.AlarmPeriods().ListOverlapping(ctx, period.EquipmentInstanceID, period.DateRange)
	if err != nil {
		return Correlation{}, err
	}
	diagnoses, err := tx.ProblemDiagnoses().ListOverlapping(ctx, period.EquipmentInstanceID, period.DateRange)
	if err != nil {
		return Correlation{}, err
	}

	var result Correlation
	result.AlarmPeriodIDs = c.scope(src, maintops.KindAlarmPeriod, alarmKeys(alarms), &result.Warnings)
	result.ProblemDiagnosisIDs = c.scope(src, maintops.KindProblemDiagnosis, diagnosisKeys(diagnoses), &result.Warnings)

	if err := tx.Associations().ReplaceForAlertPeriod(ctx, period.ID, result.AlarmPeriodIDs, result.ProblemDiagnosisIDs); err != nil {
		return Correlation{}, err
	}
	if err := tx.AlarmPeriods().MarkAssociated(ctx, result.AlarmPeriodIDs, maintops.KindAlertPeriod); err != nil {
		return Correlation{}, err
	}
	if err := tx.ProblemDiagnoses().MarkAssociated(ctx, result.ProblemDiagnosisIDs, maintops.KindAlertPeriod); err != nil {
		return Correlation{}, err
	}
	if err := tx.AlertPeriods().SetAssociated(ctx, period.ID, maintops.KindAlarmPeriod, !result.AlarmPeriodIDs.Empty()); err != nil {
		return Correlation{}, err
	}
	if err := tx.AlertPeriods().SetAssociated(ctx, period.ID, maintops.KindProblemDiagnosis, !result.ProblemDiagnosisIDs.Empty()); err != nil {
		return Correlation{}, err
	}
	c.observe(src, result)
	return result, nil
}

// CorrelateProblemDiagnosis runs the pass for a persisted diagnosis.
func (c *Correlator) CorrelateProblemDiagnosis(ctx context.Context, tx maintops.Tx, diagnosis *maintops.ProblemDiagnosis) (Correlation, error) {
	if diagnosis == nil || diagnosis.ID == 0 {
		return Correlation{}, errors.New("correlator: unsaved problem diagnosis")
	}
	src := source{kind: maintops.KindProblemDiagnosis, id: diagnosis.ID, instanceID: diagnosis.EquipmentInstanceID}

	alarms, err := tx.AlarmPeriods().ListOverlapping(ctx, diagnosis.EquipmentInstanceID, diagnosis.DateRange)
	if err != nil {
		return Correlation{}, err
	}
	alerts, err := tx.AlertPeriods().ListOverlapping(ctx, diagnosis.EquipmentInstanceID, diagnosis.DateRange)
	if err != nil {
		return Correlation{}, err
	}

	var result Correlation
	result.AlarmPeriodIDs = c.scope(src, maintops.KindAlarmPeriod, alarmKeys(alarms), &result.Warnings)
	result.AlertPeriodIDs = c.scope(src, maintops.KindAlertPeriod, alertKeys(alerts), &result.Warnings)

	if err := tx.Associations().ReplaceForProblemDiagnosis(ctx, diagnosis.ID, result.AlarmPeriodIDs, result.AlertPeriodIDs); err != nil {
		return Correlation{}, err
	}
	if err := tx.AlarmPeriods().MarkAssociated(ctx, result.AlarmPeriodIDs, maintops.KindProblemDiagnosis); err != nil {
		return Correlation{}, err
	}
	if err := tx.AlertPeriods().MarkAssociated(ctx, result.AlertPeriodIDs, maintops.KindProblemDiagnosis); err != nil {
		return Correlation{}, err
	}
	if err := tx.ProblemDiagnoses().SetAssociated(ctx, diagnosis.ID, maintops.KindAlarmPeriod, !result.AlarmPeriodIDs.Empty()); err != nil {
		return Correlation{}, err
	}
	if err := tx.ProblemDiagnoses().SetAssociated(ctx, diagnosis.ID, maintops.KindAlertPeriod, !result.AlertPeriodIDs.Empty()); err != nil {
		return Correlation{}, err
	}
	c.observe(src, result)
	return result, nil
}

type source struct {
	kind       maintops.Kind
	id         int64
	instanceID string
}

type candidate struct {
	id         int64
	instanceID string
}

// scope keeps candidates of the source's equipment instance and turns the
// rest into consistency warnings.
func (c *Correlator) scope(src source, target maintops.Kind, candidates []candidate, warnings *[]maintops.ConsistencyWarning) maintops.AssociationSet {
	ids := make([]int64, 0, len(candidates))
	for _, cand := range candidates {
		if cand.instanceID != src.instanceID {
			w := maintops.ConsistencyWarning{
				Source:            src.kind,
				SourceID:          src.id,
				Target:            target,
				TargetID:          cand.id,
				ExpectedInstance:  src.instanceID,
				CandidateInstance: cand.instanceID,
			}
			*warnings = append(*warnings, w)
			metrics.IncConsistencyWarning(string(src.kind), string(target))
			c.logger.Warn("skipping cross-instance association",
				zap.String("source_kind", string(src.kind)),
				zap.Int64("source_id", src.id),
				zap.String("target_kind", string(target)),
				zap.Int64("target_id", cand.id),
				zap.String("equipment_instance", src.instanceID),
				zap.String("candidate_equipment_instance", cand.instanceID),
			)
			continue
		}
		ids = append(ids, cand.id)
	}
	return maintops.NewAssociationSet(ids...)
}

func (c *Correlator) observe(src source, result Correlation) {
	for target, ids := range map[maintops.Kind]maintops.AssociationSet{
		maintops.KindAlarmPeriod:      result.AlarmPeriodIDs,
		maintops.KindAlertPeriod:      result.AlertPeriodIDs,
		maintops.KindProblemDiagnosis: result.ProblemDiagnosisIDs,
	} {
		if target == src.kind {
			continue
		}
		metrics.ObserveCorrelationLinks(string(src.kind), string(target), len(ids))
	}
	c.logger.Debug("correlation updated",
		zap.String("kind", string(src.kind)),
		zap.Int64("id", src.id),
		zap.String("equipment_instance", src.instanceID),
		zap.Int("alarm_periods", len(result.AlarmPeriodIDs)),
		zap.Int("alert_periods", len(result.AlertPeriodIDs)),
		zap.Int("problem_diagnoses", len(result.ProblemDiagnosisIDs)),
		zap.Int("warnings", len(result.Warnings)),
	)
}

func alarmKeys(items []*maintops.AlarmPeriod) []candidate {
	out := make([]candidate, 0, len(items))
	for _, item := range items {
		out = append(out, candidate{id: item.ID, instanceID: item.EquipmentInstanceID})
	}
	return out
}

func alertKeys(items []*maintops.AlertPeriod) []candidate {
	out := make([]candidate, 0, len(items))
	for _, item := range items {
		out = append(out, candidate{id: item.ID, instanceID: item.EquipmentInstanceID})
	}
	return out
}

func diagnosisKeys(items []*maintops.ProblemDiagnosis) []candidate {
	out := make([]candidate, 0, len(items))
	for _, item := range items {
		out = append(out, candidate{id: item.ID, instanceID: item.EquipmentInstanceID})
	}
	return out
}
