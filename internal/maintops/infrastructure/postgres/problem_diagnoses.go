package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	maintops "equipment-maintops/internal/maintops/domain"
)

const diagnosisColumns = `
	d.id, d.equipment_instance_id, d.from_date, d.to_date,
	lower(d.date_range), upper(d.date_range) - 1, d.duration,
	d.has_equipment_problems, d.dismissed, d.comments,
	d.has_associated_alarm_periods, d.has_associated_alert_periods,
	(SELECT COALESCE(jsonb_agg(t.problem_type_id ORDER BY t.problem_type_id), '[]'::jsonb)
		FROM problem_diagnosis_problem_types t WHERE t.problem_diagnosis_id = d.id),
	(SELECT COALESCE(jsonb_agg(l.alarm_period_id ORDER BY l.alarm_period_id), '[]'::jsonb)
		FROM alarm_period_problem_diagnoses l WHERE l.problem_diagnosis_id = d.id),
	(SELECT COALESCE(jsonb_agg(l.alert_period_id ORDER BY l.alert_period_id), '[]'::jsonb)
		FROM alert_period_problem_diagnoses l WHERE l.problem_diagnosis_id = d.id)`

type diagnosisRepo struct{ tx *pgTx }

func (r diagnosisRepo) Get(ctx context.Context, id int64) (*maintops.ProblemDiagnosis, error) {
	row := r.tx.q.QueryRowContext(ctx, `SELECT `+diagnosisColumns+`
FROM problem_diagnoses d
WHERE d.id = $1`, id)
	diagnosis, err := scanProblemDiagnosis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, maintops.NewNotFoundError(string(maintops.KindProblemDiagnosis), id)
	}
	return diagnosis, err
}

func (r diagnosisRepo) ListByInstance(ctx context.Context, equipmentInstanceID string) ([]*maintops.ProblemDiagnosis, error) {
	return r.query(ctx, `SELECT `+diagnosisColumns+`
FROM problem_diagnoses d
WHERE d.equipment_instance_id = $1
ORDER BY d.from_date, d.id`, equipmentInstanceID)
}

func (r diagnosisRepo) ListOverlapping(ctx context.Context, equipmentInstanceID string, dr maintops.DateRange) ([]*maintops.ProblemDiagnosis, error) {
	lower, upper := dateRangeArgs(dr)
	return r.query(ctx, `SELECT `+diagnosisColumns+`
FROM problem_diagnoses d
WHERE d.equipment_instance_id = $1
	AND d.date_range && daterange($2::date, $3::date, '[]')
ORDER BY d.from_date, d.id`, equipmentInstanceID, lower, upper)
}

func (r diagnosisRepo) query(ctx context.Context, query string, args ...any) ([]*maintops.ProblemDiagnosis, error) {
	rows, err := r.tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*maintops.ProblemDiagnosis
	for rows.Next() {
		diagnosis, err := scanProblemDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, diagnosis)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save writes the diagnosis row and replaces its problem types.
func (r diagnosisRepo) Save(ctx context.Context, diagnosis *maintops.ProblemDiagnosis) error {
	if diagnosis == nil {
		return maintops.ErrNilRecord
	}
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	lower, upper := dateRangeArgs(diagnosis.DateRange)
	entity := string(maintops.KindProblemDiagnosis)

	if diagnosis.ID == 0 {
		var id int64
		err := q.QueryRowContext(ctx, `
INSERT INTO problem_diagnoses (
	equipment_instance_id, from_date, to_date, date_range, duration,
	has_equipment_problems, dismissed, comments
) VALUES (
	$1, $2::date, $3::date, daterange($4::date, $5::date, '[]'), $6,
	$7, $8, $9
)
RETURNING id`, diagnosis.EquipmentInstanceID, diagnosis.FromDate, nullTime(diagnosis.ToDate),
			lower, upper, diagnosis.Duration,
			diagnosis.HasEquipmentProblems, diagnosis.Dismissed, diagnosis.Comments).Scan(&id)
		if err != nil {
			return mapError(entity, err)
		}
		diagnosis.ID = id
	} else {
		res, err := q.ExecContext(ctx, `
UPDATE problem_diagnoses
SET from_date = $3::date,
	to_date = $4::date,
	date_range = daterange($5::date, $6::date, '[]'),
	duration = $7,
	has_equipment_problems = $8,
	dismissed = $9,
	comments = $10
WHERE id = $1 AND equipment_instance_id = $2`, diagnosis.ID, diagnosis.EquipmentInstanceID,
			diagnosis.FromDate, nullTime(diagnosis.ToDate), lower, upper, diagnosis.Duration,
			diagnosis.HasEquipmentProblems, diagnosis.Dismissed, diagnosis.Comments)
		if err != nil {
			return mapError(entity, err)
		}
		if err := requireAffected(res, entity, diagnosis.ID); err != nil {
			return err
		}
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM problem_diagnosis_problem_types WHERE problem_diagnosis_id = $1`, diagnosis.ID); err != nil {
		return err
	}
	if len(diagnosis.ProblemTypeIDs) == 0 {
		return nil
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO problem_diagnosis_problem_types (problem_diagnosis_id, problem_type_id)
SELECT $1, unnest($2::bigint[])`, diagnosis.ID, idArray(diagnosis.ProblemTypeIDs))
	return mapError(entity, err)
}

func (r diagnosisRepo) SetAssociated(ctx context.Context, id int64, with maintops.Kind, value bool) error {
	column, err := diagnosisFlagColumn(with)
	if err != nil {
		return err
	}
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE problem_diagnoses SET %s = $2 WHERE id = $1`, column), id, value)
	if err != nil {
		return err
	}
	return requireAffected(res, string(maintops.KindProblemDiagnosis), id)
}

func (r diagnosisRepo) MarkAssociated(ctx context.Context, ids []int64, with maintops.Kind) error {
	if len(ids) == 0 {
		return nil
	}
	column, err := diagnosisFlagColumn(with)
	if err != nil {
		return err
	}
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`UPDATE problem_diagnoses SET %s = TRUE WHERE id = ANY($1::bigint[])`, column), idArray(ids))
	return err
}

func diagnosisFlagColumn(with maintops.Kind) (string, error) {
	switch with {
	case maintops.KindAlarmPeriod:
		return "has_associated_alarm_periods", nil
	case maintops.KindAlertPeriod:
		return "has_associated_alert_periods", nil
	default:
		return "", fmt.Errorf("problem diagnosis repo: unsupported association kind %q", with)
	}
}

func scanProblemDiagnosis(row rowScanner) (*maintops.ProblemDiagnosis, error) {
	var (
		diagnosis maintops.ProblemDiagnosis
		to        sql.NullTime
		lower     sql.NullTime
		upper     sql.NullTime
		duration  sql.NullInt64
		types     []byte
		alarms    []byte
		alerts    []byte
	)
	if err := row.Scan(&diagnosis.ID, &diagnosis.EquipmentInstanceID, &diagnosis.FromDate, &to,
		&lower, &upper, &duration,
		&diagnosis.HasEquipmentProblems, &diagnosis.Dismissed, &diagnosis.Comments,
		&diagnosis.HasAssociatedAlarmPeriods, &diagnosis.HasAssociatedAlertPeriods,
		&types, &alarms, &alerts); err != nil {
		return nil, err
	}
	diagnosis.FromDate = maintops.TruncateToDate(diagnosis.FromDate)
	if to.Valid {
		diagnosis.ToDate = maintops.TruncateToDate(to.Time)
	}
	if duration.Valid {
		d := int(duration.Int64)
		diagnosis.Duration = &d
	}
	diagnosis.DateRange = scanDateRange(lower.Time, upper)

	var err error
	if diagnosis.ProblemTypeIDs, err = decodeIDs(types); err != nil {
		return nil, err
	}
	if diagnosis.AlarmPeriodIDs, err = decodeIDs(alarms); err != nil {
		return nil, err
	}
	if diagnosis.AlertPeriodIDs, err = decodeIDs(alerts); err != nil {
		return nil, err
	}
	return &diagnosis, nil
}
