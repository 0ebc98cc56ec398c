package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	maintops "equipment-maintops/internal/maintops/domain"
)

const alarmColumns = `
	a.id, a.equipment_instance_id, a.alarm_type_id, a.from_timestamp, a.to_timestamp,
	a.duration_in_days, lower(a.date_range), upper(a.date_range) - 1,
	a.has_associated_alert_periods, a.has_associated_problem_diagnoses,
	(SELECT COALESCE(jsonb_agg(l.alert_period_id ORDER BY l.alert_period_id), '[]'::jsonb)
		FROM alarm_period_alert_periods l WHERE l.alarm_period_id = a.id),
	(SELECT COALESCE(jsonb_agg(l.problem_diagnosis_id ORDER BY l.problem_diagnosis_id), '[]'::jsonb)
		FROM alarm_period_problem_diagnoses l WHERE l.alarm_period_id = a.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

type alarmRepo struct{ tx *pgTx }

func (r alarmRepo) Get(ctx context.Context, id int64) (*maintops.AlarmPeriod, error) {
	row := r.tx.q.QueryRowContext(ctx, `SELECT `+alarmColumns+`
FROM alarm_periods a
WHERE a.id = $1`, id)
	period, err := scanAlarmPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, maintops.NewNotFoundError(string(maintops.KindAlarmPeriod), id)
	}
	return period, err
}

func (r alarmRepo) ListByInstance(ctx context.Context, equipmentInstanceID string) ([]*maintops.AlarmPeriod, error) {
	return r.query(ctx, `SELECT `+alarmColumns+`
FROM alarm_periods a
WHERE a.equipment_instance_id = $1
ORDER BY a.from_timestamp, a.id`, equipmentInstanceID)
}

func (r alarmRepo) ListOverlapping(ctx context.Context, equipmentInstanceID string, dr maintops.DateRange) ([]*maintops.AlarmPeriod, error) {
	lower, upper := dateRangeArgs(dr)
	return r.query(ctx, `SELECT `+alarmColumns+`
FROM alarm_periods a
WHERE a.equipment_instance_id = $1
	AND a.date_range && daterange($2::date, $3::date, '[]')
ORDER BY a.from_timestamp, a.id`, equipmentInstanceID, lower, upper)
}

func (r alarmRepo) query(ctx context.Context, query string, args ...any) ([]*maintops.AlarmPeriod, error) {
	rows, err := r.tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*maintops.AlarmPeriod
	for rows.Next() {
		period, err := scanAlarmPeriod(rows)
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

func (r alarmRepo) Save(ctx context.Context, period *maintops.AlarmPeriod) error {
	if period == nil {
		return maintops.ErrNilRecord
	}
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	lower, upper := dateRangeArgs(period.DateRange)
	entity := string(maintops.KindAlarmPeriod)

	if period.ID == 0 {
		var id int64
		err := q.QueryRowContext(ctx, `
INSERT INTO alarm_periods (
	equipment_instance_id, alarm_type_id, from_timestamp, to_timestamp,
	duration_in_days, date_range
) VALUES (
	$1, $2, $3, $4, $5, daterange($6::date, $7::date, '[]')
)
RETURNING id`, period.EquipmentInstanceID, period.AlarmTypeID, period.FromTimestamp,
			nullTime(period.ToTimestamp), period.DurationInDays, lower, upper).Scan(&id)
		if err != nil {
			return mapError(entity, err)
		}
		period.ID = id
		return nil
	}

	res, err := q.ExecContext(ctx, `
UPDATE alarm_periods
SET alarm_type_id = $3,
	from_timestamp = $4,
	to_timestamp = $5,
	duration_in_days = $6,
	date_range = daterange($7::date, $8::date, '[]')
WHERE id = $1 AND equipment_instance_id = $2`, period.ID, period.EquipmentInstanceID,
		period.AlarmTypeID, period.FromTimestamp, nullTime(period.ToTimestamp),
		period.DurationInDays, lower, upper)
	if err != nil {
		return mapError(entity, err)
	}
	return requireAffected(res, entity, period.ID)
}

func (r alarmRepo) SetAssociated(ctx context.Context, id int64, with maintops.Kind, value bool) error {
	column, err := alarmFlagColumn(with)
	if err != nil {
		return err
	}
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE alarm_periods SET %s = $2 WHERE id = $1`, column), id, value)
	if err != nil {
		return err
	}
	return requireAffected(res, string(maintops.KindAlarmPeriod), id)
}

func (r alarmRepo) MarkAssociated(ctx context.Context, ids []int64, with maintops.Kind) error {
	if len(ids) == 0 {
		return nil
	}
	column, err := alarmFlagColumn(with)
	if err != nil {
		return err
	}
	q, err := r.tx.writer()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`UPDATE alarm_periods SET %s = TRUE WHERE id = ANY($1::bigint[])`, column), idArray(ids))
	return err
}

func alarmFlagColumn(with maintops.Kind) (string, error) {
	switch with {
	case maintops.KindAlertPeriod:
		return "has_associated_alert_periods", nil
	case maintops.KindProblemDiagnosis:
		return "has_associated_problem_diagnoses", nil
	default:
		return "", fmt.Errorf("alarm period repo: unsupported association kind %q", with)
	}
}

func scanAlarmPeriod(row rowScanner) (*maintops.AlarmPeriod, error) {
	var (
		period   maintops.AlarmPeriod
		to       sql.NullTime
		duration sql.NullFloat64
		lower    sql.NullTime
		upper    sql.NullTime
		alerts   []byte
		diags    []byte
	)
	if err := row.Scan(&period.ID, &period.EquipmentInstanceID, &period.AlarmTypeID,
		&period.FromTimestamp, &to, &duration, &lower, &upper,
		&period.HasAssociatedAlertPeriods, &period.HasAssociatedProblemDiagnoses,
		&alerts, &diags); err != nil {
		return nil, err
	}
	period.FromTimestamp = period.FromTimestamp.UTC()
	if to.Valid {
		period.ToTimestamp = to.Time.UTC()
	}
	if duration.Valid {
		d := duration.Float64
		period.DurationInDays = &d
	}
	period.DateRange = scanDateRange(lower.Time, upper)

	var err error
	if period.AlertPeriodIDs, err = decodeIDs(alerts); err != nil {
		return nil, err
	}
	if period.ProblemDiagnosisIDs, err = decodeIDs(diags); err != nil {
		return nil, err
	}
	return &period, nil
}

func requireAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return maintops.NewNotFoundError(entity, id)
	}
	return nil
}
