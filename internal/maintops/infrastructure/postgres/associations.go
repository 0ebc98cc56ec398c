package postgres

import (
	"context"
	"fmt"

	maintops "equipment-maintops/internal/maintops/domain"
)

// linkTable describes one of the three link tables.
type linkTable struct {
	name        string
	leftColumn  string
	rightColumn string
}

var (
	alarmAlertLinks = linkTable{"alarm_period_alert_periods", "alarm_period_id", "alert_period_id"}
	alarmDiagLinks  = linkTable{"alarm_period_problem_diagnoses", "alarm_period_id", "problem_diagnosis_id"}
	alertDiagLinks  = linkTable{"alert_period_problem_diagnoses", "alert_period_id", "problem_diagnosis_id"}
)

type associationRepo struct{ tx *pgTx }

func (r associationRepo) ReplaceForAlarmPeriod(ctx context.Context, alarmPeriodID int64, alertPeriodIDs, problemDiagnosisIDs maintops.AssociationSet) error {
	if err := r.replace(ctx, alarmAlertLinks, true, alarmPeriodID, alertPeriodIDs); err != nil {
		return err
	}
	return r.replace(ctx, alarmDiagLinks, true, alarmPeriodID, problemDiagnosisIDs)
}

func (r associationRepo) ReplaceForAlertPeriod(ctx context.Context, alertPeriodID int64, alarmPeriodIDs, problemDiagnosisIDs maintops.AssociationSet) error {
	if err := r.replace(ctx, alarmAlertLinks, false, alertPeriodID, alarmPeriodIDs); err != nil {
		return err
	}
	return r.replace(ctx, alertDiagLinks, true, alertPeriodID, problemDiagnosisIDs)
}

func (r associationRepo) ReplaceForProblemDiagnosis(ctx context.Context, problemDiagnosisID int64, alarmPeriodIDs, alertPeriodIDs maintops.AssociationSet) error {
	if err := r.replace(ctx, alarmDiagLinks, false, problemDiagnosisID, alarmPeriodIDs); err != nil {
		return err
	}
	return r.replace(ctx, alertDiagLinks, false, problemDiagnosisID, alertPeriodIDs)
}

// replace drops every link of id on the given side and inserts the new set.
func (r associationRepo) replace(ctx context.Context, table linkTable, left bool, id int64, others maintops.AssociationSet) error {
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	own, other := table.rightColumn, table.leftColumn
	if left {
		own, other = table.leftColumn, table.rightColumn
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table.name, own), id); err != nil {
		return err
	}
	if len(others) == 0 {
		return nil
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (%s, %s)
SELECT $1, unnest($2::bigint[])
ON CONFLICT DO NOTHING`, table.name, own, other), id, idArray(others))
	return mapError(table.name, err)
}
