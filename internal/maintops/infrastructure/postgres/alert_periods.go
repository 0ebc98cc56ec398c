package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	maintops "equipment-maintops/internal/maintops/domain"
)

const alertColumns = `
	a.id, a.equipment_instance_id, a.equipment_unique_type_group_id, a.risk_score_name, a.threshold,
	a.from_date, a.to_date, lower(a.date_range), upper(a.date_range) - 1, a.duration,
	a.cumulative_excess_risk_score, a.approx_average_risk_score, a.last_risk_score,
	a.ongoing, a.info, a.diagnosis_status_id,
	a.has_associated_alarm_periods, a.has_associated_problem_diagnoses,
	(SELECT COALESCE(jsonb_agg(l.alarm_period_id ORDER BY l.alarm_period_id), '[]'::jsonb)
		FROM alarm_period_alert_periods l WHERE l.alert_period_id = a.id),
	(SELECT COALESCE(jsonb_agg(l.problem_diagnosis_id ORDER BY l.problem_diagnosis_id), '[]'::jsonb)
		FROM alert_period_problem_diagnoses l WHERE l.alert_period_id = a.id)`

type alertRepo struct{ tx *pgTx }

func (r alertRepo) Get(ctx context.Context, id int64) (*maintops.AlertPeriod, error) {
	row := r.tx.q.QueryRowContext(ctx, `SELECT `+alertColumns+`
FROM alert_periods a
WHERE a.id = $1`, id)
	period, err := scanAlertPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, maintops.NewNotFoundError(string(maintops.KindAlertPeriod), id)
	}
	return period, err
}

func (r alertRepo) ListByInstance(ctx context.Context, equipmentInstanceID string) ([]*maintops.AlertPeriod, error) {
	return r.query(ctx, `SELECT `+alertColumns+`
FROM alert_periods a
WHERE a.equipment_instance_id = $1
ORDER BY a.from_date, a.id`, equipmentInstanceID)
}

func (r alertRepo) ListOverlapping(ctx context.Context, equipmentInstanceID string, dr maintops.DateRange) ([]*maintops.AlertPeriod, error) {
	lower, upper := dateRangeArgs(dr)
	return r.query(ctx, `SELECT `+alertColumns+`
FROM alert_periods a
WHERE a.equipment_instance_id = $1
	AND a.date_range && daterange($2::date, $3::date, '[]')
ORDER BY a.from_date, a.id`, equipmentInstanceID, lower, upper)
}

func (r alertRepo) query(ctx context.Context, query string, args ...any) ([]*maintops.AlertPeriod, error) {
	rows, err := r.tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*maintops.AlertPeriod
	for rows.Next() {
		period, err := scanAlertPeriod(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, period)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r alertRepo) Save(ctx context.Context, period *maintops.AlertPeriod) error {
	if period == nil {
		return maintops.ErrNilRecord
	}
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	info := period.Info
	if info == nil {
		info = map[string]any{}
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return err
	}
	lower, upper := dateRangeArgs(period.DateRange)
	entity := string(maintops.KindAlertPeriod)

	if period.ID == 0 {
		var id int64
		err := q.QueryRowContext(ctx, `
INSERT INTO alert_periods (
	equipment_instance_id, equipment_unique_type_group_id, risk_score_name, threshold,
	from_date, to_date, date_range, duration,
	cumulative_excess_risk_score, approx_average_risk_score, last_risk_score,
	ongoing, info, diagnosis_status_id
) VALUES (
	$1, $2, $3, $4,
	$5::date, $6::date, daterange($7::date, $8::date, '[]'), $9,
	$10, $11, $12,
	$13, $14::jsonb, $15
)
RETURNING id`, period.EquipmentInstanceID, period.GroupID, period.RiskScoreName, period.Threshold,
			period.FromDate, period.ToDate, lower, upper, period.Duration,
			period.CumulativeExcessRiskScore, period.ApproxAverageRiskScore, period.LastRiskScore,
			period.Ongoing, string(infoJSON), period.DiagnosisStatusID).Scan(&id)
		if err != nil {
			return mapError(entity, err)
		}
		period.ID = id
		return nil
	}

	res, err := q.ExecContext(ctx, `
UPDATE alert_periods
SET equipment_unique_type_group_id = $3,
	risk_score_name = $4,
	threshold = $5,
	from_date = $6::date,
	to_date = $7::date,
	date_range = daterange($8::date, $9::date, '[]'),
	duration = $10,
	cumulative_excess_risk_score = $11,
	approx_average_risk_score = $12,
	last_risk_score = $13,
	ongoing = $14,
	info = $15::jsonb,
	diagnosis_status_id = $16
WHERE id = $1 AND equipment_instance_id = $2`, period.ID, period.EquipmentInstanceID,
		period.GroupID, period.RiskScoreName, period.Threshold,
		period.FromDate, period.ToDate, lower, upper, period.Duration,
		period.CumulativeExcessRiskScore, period.ApproxAverageRiskScore, period.LastRiskScore,
		period.Ongoing, string(infoJSON), period.DiagnosisStatusID)
	if err != nil {
		return mapError(entity, err)
	}
	return requireAffected(res, entity, period.ID)
}

func (r alertRepo) SetAssociated(ctx context.Context, id int64, with maintops.Kind, value bool) error {
	column, err := alertFlagColumn(with)
	if err != nil {
		return err
	}
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE alert_periods SET %s = $2 WHERE id = $1`, column), id, value)
	if err != nil {
		return err
	}
	return requireAffected(res, string(maintops.KindAlertPeriod), id)
}

func (r alertRepo) MarkAssociated(ctx context.Context, ids []int64, with maintops.Kind) error {
	if len(ids) == 0 {
		return nil
	}
	column, err := alertFlagColumn(with)
	if err != nil {
		return err
	}
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`UPDATE alert_periods SET %s = TRUE WHERE id = ANY($1::bigint[])`, column), idArray(ids))
	return err
}

func alertFlagColumn(with maintops.Kind) (string, error) {
	switch with {
	case maintops.KindAlarmPeriod:
		return "has_associated_alarm_periods", nil
	case maintops.KindProblemDiagnosis:
		return "has_associated_problem_diagnoses", nil
	default:
		return "", fmt.Errorf("alert period repo: unsupported association kind %q", with)
	}
}

func scanAlertPeriod(row rowScanner) (*maintops.AlertPeriod, error) {
	var (
		period maintops.AlertPeriod
		lower  sql.NullTime
		upper  sql.NullTime
		info   []byte
		alarms []byte
		diags  []byte
	)
	if err := row.Scan(&period.ID, &period.EquipmentInstanceID, &period.GroupID,
		&period.RiskScoreName, &period.Threshold,
		&period.FromDate, &period.ToDate, &lower, &upper, &period.Duration,
		&period.CumulativeExcessRiskScore, &period.ApproxAverageRiskScore, &period.LastRiskScore,
		&period.Ongoing, &info, &period.DiagnosisStatusID,
		&period.HasAssociatedAlarmPeriods, &period.HasAssociatedProblemDiagnoses,
		&alarms, &diags); err != nil {
		return nil, err
	}
	period.FromDate = maintops.TruncateToDate(period.FromDate)
	period.ToDate = maintops.TruncateToDate(period.ToDate)
	period.DateRange = scanDateRange(lower.Time, upper)

	period.Info = map[string]any{}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &period.Info); err != nil {
			return nil, err
		}
	}
	var err error
	if period.AlarmPeriodIDs, err = decodeIDs(alarms); err != nil {
		return nil, err
	}
	if period.ProblemDiagnosisIDs, err = decodeIDs(diags); err != nil {
		return nil, err
	}
	return &period, nil
}
