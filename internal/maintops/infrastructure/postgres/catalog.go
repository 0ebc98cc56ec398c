package postgres

import (
	"context"
	"database/sql"
	"errors"

	maintops "equipment-maintops/internal/maintops/domain"
)

type catalogRepo struct{ q querier }

func (r catalogRepo) GetEquipmentInstance(ctx context.Context, id string) (*maintops.EquipmentInstance, error) {
	var instance maintops.EquipmentInstance
	err := r.q.QueryRowContext(ctx, `
SELECT id, general_type, unique_type
FROM equipment_instances
WHERE id = $1`, id).Scan(&instance.ID, &instance.GeneralType, &instance.UniqueType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, maintops.NewNotFoundError("equipment_instance", id)
	}
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func (r catalogRepo) ListEquipmentInstances(ctx context.Context) ([]maintops.EquipmentInstance, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT id, general_type, unique_type
FROM equipment_instances
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []maintops.EquipmentInstance
	for rows.Next() {
		var instance maintops.EquipmentInstance
		if err := rows.Scan(&instance.ID, &instance.GeneralType, &instance.UniqueType); err != nil {
			return nil, err
		}
		result = append(result, instance)
	}
	return result, rows.Err()
}

func (r catalogRepo) SaveEquipmentInstance(ctx context.Context, instance *maintops.EquipmentInstance) error {
	if instance == nil {
		return maintops.ErrNilRecord
	}
	if instance.ID == "" {
		return maintops.NewValidationError("equipment_instance", "id", "required")
	}
	_, err := r.q.ExecContext(ctx, `
INSERT INTO equipment_instances (id, general_type, unique_type)
VALUES ($1, $2, $3)
ON CONFLICT (id)
DO UPDATE SET
	general_type = EXCLUDED.general_type,
	unique_type = EXCLUDED.unique_type`, instance.ID, instance.GeneralType, instance.UniqueType)
	return err
}

func (r catalogRepo) GetProblemType(ctx context.Context, id int64) (*maintops.EquipmentProblemType, error) {
	var problemType maintops.EquipmentProblemType
	err := r.q.QueryRowContext(ctx, `
SELECT id, name
FROM equipment_problem_types
WHERE id = $1`, id).Scan(&problemType.ID, &problemType.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, maintops.NewNotFoundError("equipment_problem_type", id)
	}
	if err != nil {
		return nil, err
	}
	return &problemType, nil
}

func (r catalogRepo) EnsureProblemType(ctx context.Context, problemType *maintops.EquipmentProblemType) error {
	if problemType == nil {
		return maintops.ErrNilRecord
	}
	problemType.Normalize()
	if problemType.Name == "" {
		return maintops.NewValidationError("equipment_problem_type", "name", "required")
	}
	// The no-op update makes RETURNING yield the existing row too.
	return r.q.QueryRowContext(ctx, `
INSERT INTO equipment_problem_types (name)
VALUES ($1)
ON CONFLICT (name)
DO UPDATE SET name = EXCLUDED.name
RETURNING id`, problemType.Name).Scan(&problemType.ID)
}

func (r catalogRepo) ListProblemTypes(ctx context.Context) ([]maintops.EquipmentProblemType, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT id, name
FROM equipment_problem_types
ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []maintops.EquipmentProblemType
	for rows.Next() {
		var problemType maintops.EquipmentProblemType
		if err := rows.Scan(&problemType.ID, &problemType.Name); err != nil {
			return nil, err
		}
		result = append(result, problemType)
	}
	return result, rows.Err()
}

func (r catalogRepo) GetStatus(ctx context.Context, id int64) (*maintops.DiagnosisStatus, error) {
	status, err := r.scanStatus(r.q.QueryRowContext(ctx, `
SELECT id, "index", name
FROM alert_diagnosis_statuses
WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, maintops.NewNotFoundError("diagnosis_status", id)
	}
	return status, err
}

func (r catalogRepo) GetStatusByIndex(ctx context.Context, index int) (*maintops.DiagnosisStatus, error) {
	status, err := r.scanStatus(r.q.QueryRowContext(ctx, `
SELECT id, "index", name
FROM alert_diagnosis_statuses
WHERE "index" = $1`, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, maintops.NewNotFoundError("diagnosis_status", index)
	}
	return status, err
}

func (r catalogRepo) EnsureStatus(ctx context.Context, status *maintops.DiagnosisStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	status.Name = maintops.CleanLowerName(status.Name)

	var id int64
	err := r.q.QueryRowContext(ctx, `
INSERT INTO alert_diagnosis_statuses ("index", name)
VALUES ($1, $2)
ON CONFLICT ("index") DO NOTHING
RETURNING id`, status.Index, status.Name).Scan(&id)
	switch {
	case err == nil:
		status.ID = id
		return nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := r.GetStatusByIndex(ctx, status.Index)
		if err != nil {
			return err
		}
		*status = *existing
		return nil
	default:
		return mapError("diagnosis_status", err)
	}
}

func (r catalogRepo) ListStatuses(ctx context.Context) ([]maintops.DiagnosisStatus, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT id, "index", name
FROM alert_diagnosis_statuses
ORDER BY "index"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []maintops.DiagnosisStatus
	for rows.Next() {
		status, err := r.scanStatus(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *status)
	}
	return result, rows.Err()
}

func (r catalogRepo) scanStatus(row rowScanner) (*maintops.DiagnosisStatus, error) {
	var status maintops.DiagnosisStatus
	if err := row.Scan(&status.ID, &status.Index, &status.Name); err != nil {
		return nil, err
	}
	return &status, nil
}
