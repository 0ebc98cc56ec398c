package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	maintops "equipment-maintops/internal/maintops/domain"
)

// StatusTracker owns the diagnosis status catalog and guarantees the
// initial stage exists before an alert period references it.
type StatusTracker struct {
	logger *zap.Logger
}

// NewStatusTracker constructs a tracker.
func NewStatusTracker(logger *zap.Logger) *StatusTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusTracker{logger: logger}
}

// EnsureDefault makes sure the index-0 status exists and returns it.
// An existing index-0 row is kept whatever its name.
func (t *StatusTracker) EnsureDefault(ctx context.Context, catalog maintops.CatalogRepository) (maintops.DiagnosisStatus, error) {
	status := maintops.DefaultDiagnosisStatus()
	if err := catalog.EnsureStatus(ctx, &status); err != nil {
		return maintops.DiagnosisStatus{}, err
	}
	return status, nil
}

// Default returns the index-0 status, creating it when absent.
func (t *StatusTracker) Default(ctx context.Context, catalog maintops.CatalogRepository) (maintops.DiagnosisStatus, error) {
	status, err := catalog.GetStatusByIndex(ctx, maintops.DefaultDiagnosisStatusIndex)
	if err == nil {
		return *status, nil
	}
	if !errors.Is(err, maintops.ErrNotFound) {
		return maintops.DiagnosisStatus{}, err
	}
	created, err := t.EnsureDefault(ctx, catalog)
	if err != nil {
		return maintops.DiagnosisStatus{}, err
	}
	t.logger.Info("default diagnosis status created on demand",
		zap.Int64("status_id", created.ID),
		zap.String("name", created.Name))
	return created, nil
}

// Resolve returns the status an alert period should carry: the requested
// one when set, otherwise the default.
func (t *StatusTracker) Resolve(ctx context.Context, catalog maintops.CatalogRepository, statusID int64) (maintops.DiagnosisStatus, error) {
	if statusID == 0 {
		return t.Default(ctx, catalog)
	}
	status, err := catalog.GetStatus(ctx, statusID)
	if err != nil {
		return maintops.DiagnosisStatus{}, err
	}
	return *status, nil
}

// Register adds a workflow stage. Names are cleaned to lower snake case.
func (t *StatusTracker) Register(ctx context.Context, catalog maintops.CatalogRepository, index int, name string) (maintops.DiagnosisStatus, error) {
	status := maintops.DiagnosisStatus{Index: index, Name: name}
	if err := status.Validate(); err != nil {
		return maintops.DiagnosisStatus{}, err
	}
	status.Name = maintops.CleanLowerName(status.Name)
	if err := catalog.EnsureStatus(ctx, &status); err != nil {
		return maintops.DiagnosisStatus{}, err
	}
	return status, nil
}
