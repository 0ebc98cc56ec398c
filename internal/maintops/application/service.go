package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"equipment-maintops/internal/eventing"
	maintops "equipment-maintops/internal/maintops/domain"
	"equipment-maintops/internal/observability/metrics"
)

const defaultRecomputeConcurrency = 4

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service is the write path for alarm periods, alert periods and problem
// diagnoses. Every save validates, derives, persists and correlates the
// record inside one transaction scoped to its equipment instance.
type Service struct {
	store      maintops.Store
	correlator *Correlator
	statuses   *StatusTracker
	publisher  eventing.Publisher
	logger     *zap.Logger
	clock      Clock

	recomputeConcurrency int
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher assigns an event publisher.
func WithPublisher(publisher eventing.Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRecomputeConcurrency bounds how many instances RecomputeInstances
// processes at once.
func WithRecomputeConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.recomputeConcurrency = n
		}
	}
}

// NewService constructs the service.
func NewService(store maintops.Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("maintops: nil store")
	}
	service := &Service{
		store:                store,
		logger:               zap.NewNop(),
		clock:                systemClock{},
		recomputeConcurrency: defaultRecomputeConcurrency,
	}
	for _, opt := range opts {
		opt(service)
	}
	service.correlator = NewCorrelator(service.logger.Named("correlator"))
	service.statuses = NewStatusTracker(service.logger.Named("status"))
	return service, nil
}

// SaveAlarmPeriod creates or updates an alarm period and returns the
// stored record with its fresh association sets.
func (s *Service) SaveAlarmPeriod(ctx context.Context, period *maintops.AlarmPeriod) (*maintops.AlarmPeriod, error) {
	start := time.Now()
	saved, corr, err := s.saveAlarmPeriod(ctx, period)
	metrics.ObserveSave(string(maintops.KindAlarmPeriod), resultLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	s.publishCorrelation(ctx, maintops.KindAlarmPeriod, saved.ID, saved.EquipmentInstanceID, corr)
	return saved, nil
}

func (s *Service) saveAlarmPeriod(ctx context.Context, period *maintops.AlarmPeriod) (*maintops.AlarmPeriod, Correlation, error) {
	if period == nil {
		return nil, Correlation{}, maintops.ErrNilRecord
	}
	record := period.Clone()
	if err := record.Validate(); err != nil {
		return nil, Correlation{}, err
	}
	if err := record.Derive(); err != nil {
		return nil, Correlation{}, err
	}
	if record.ID != 0 {
		existing, err := s.store.Reader().AlarmPeriods().Get(ctx, record.ID)
		if err != nil {
			return nil, Correlation{}, err
		}
		if err := checkInstanceUnchanged(maintops.KindAlarmPeriod, existing.EquipmentInstanceID, record.EquipmentInstanceID); err != nil {
			return nil, Correlation{}, err
		}
	}

	var (
		saved *maintops.AlarmPeriod
		corr  Correlation
	)
	err := s.store.WithinInstance(ctx, record.EquipmentInstanceID, func(ctx context.Context, tx maintops.Tx) error {
		if _, err := tx.Catalog().GetEquipmentInstance(ctx, record.EquipmentInstanceID); err != nil {
			return err
		}
		if _, err := tx.Catalog().GetProblemType(ctx, record.AlarmTypeID); err != nil {
			return err
		}
		var err error
		saved, corr, err = s.applyAlarmPeriod(ctx, tx, record)
		return err
	})
	if err != nil {
		s.logSaveFailure(maintops.KindAlarmPeriod, record.ID, record.EquipmentInstanceID, err)
		return nil, Correlation{}, err
	}
	return saved, corr, nil
}

func (s *Service) applyAlarmPeriod(ctx context.Context, tx maintops.Tx, record *maintops.AlarmPeriod) (*maintops.AlarmPeriod, Correlation, error) {
	if err := tx.AlarmPeriods().Save(ctx, record); err != nil {
		return nil, Correlation{}, err
	}
	corr, err := s.correlator.CorrelateAlarmPeriod(ctx, tx, record)
	if err != nil {
		return nil, Correlation{}, err
	}
	saved, err := tx.AlarmPeriods().Get(ctx, record.ID)
	if err != nil {
		return nil, Correlation{}, err
	}
	return saved, corr, nil
}

// SaveAlertPeriod creates or updates an alert period. A new alert period
// without a status gets the default one; an update without a status keeps
// the stored one.
func (s *Service) SaveAlertPeriod(ctx context.Context, period *maintops.AlertPeriod) (*maintops.AlertPeriod, error) {
	start := time.Now()
	saved, corr, err := s.saveAlertPeriod(ctx, period)
	metrics.ObserveSave(string(maintops.KindAlertPeriod), resultLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	s.publishCorrelation(ctx, maintops.KindAlertPeriod, saved.ID, saved.EquipmentInstanceID, corr)
	return saved, nil
}

func (s *Service) saveAlertPeriod(ctx context.Context, period *maintops.AlertPeriod) (*maintops.AlertPeriod, Correlation, error) {
	if period == nil {
		return nil, Correlation{}, maintops.ErrNilRecord
	}
	record := period.Clone()
	if err := record.Validate(); err != nil {
		return nil, Correlation{}, err
	}
	if err := record.Derive(); err != nil {
		return nil, Correlation{}, err
	}
	if record.ID != 0 {
		existing, err := s.store.Reader().AlertPeriods().Get(ctx, record.ID)
		if err != nil {
			return nil, Correlation{}, err
		}
		if err := checkInstanceUnchanged(maintops.KindAlertPeriod, existing.EquipmentInstanceID, record.EquipmentInstanceID); err != nil {
			return nil, Correlation{}, err
		}
	}

	var (
		saved *maintops.AlertPeriod
		corr  Correlation
	)
	err := s.store.WithinInstance(ctx, record.EquipmentInstanceID, func(ctx context.Context, tx maintops.Tx) error {
		if _, err := tx.Catalog().GetEquipmentInstance(ctx, record.EquipmentInstanceID); err != nil {
			return err
		}
		var err error
		saved, corr, err = s.applyAlertPeriod(ctx, tx, record)
		return err
	})
	if err != nil {
		s.logSaveFailure(maintops.KindAlertPeriod, record.ID, record.EquipmentInstanceID, err)
		return nil, Correlation{}, err
	}
	return saved, corr, nil
}

func (s *Service) applyAlertPeriod(ctx context.Context, tx maintops.Tx, record *maintops.AlertPeriod) (*maintops.AlertPeriod, Correlation, error) {
	if record.ID != 0 && record.DiagnosisStatusID == 0 {
		existing, err := tx.AlertPeriods().Get(ctx, record.ID)
		if err != nil {
			return nil, Correlation{}, err
		}
		record.DiagnosisStatusID = existing.DiagnosisStatusID
	}
	status, err := s.statuses.Resolve(ctx, tx.Catalog(), record.DiagnosisStatusID)
	if err != nil {
		return nil, Correlation{}, err
	}
	record.DiagnosisStatusID = status.ID

	if err := tx.AlertPeriods().Save(ctx, record); err != nil {
		return nil, Correlation{}, err
	}
	corr, err := s.correlator.CorrelateAlertPeriod(ctx, tx, record)
	if err != nil {
		return nil, Correlation{}, err
	}
	saved, err := tx.AlertPeriods().Get(ctx, record.ID)
	if err != nil {
		return nil, Correlation{}, err
	}
	return saved, corr, nil
}

// SaveProblemDiagnosis creates or updates a problem diagnosis.
func (s *Service) SaveProblemDiagnosis(ctx context.Context, diagnosis *maintops.ProblemDiagnosis) (*maintops.ProblemDiagnosis, error) {
	start := time.Now()
	saved, corr, err := s.saveProblemDiagnosis(ctx, diagnosis)
	metrics.ObserveSave(string(maintops.KindProblemDiagnosis), resultLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	s.publishCorrelation(ctx, maintops.KindProblemDiagnosis, saved.ID, saved.EquipmentInstanceID, corr)
	return saved, nil
}

func (s *Service) saveProblemDiagnosis(ctx context.Context, diagnosis *maintops.ProblemDiagnosis) (*maintops.ProblemDiagnosis, Correlation, error) {
	if diagnosis == nil {
		return nil, Correlation{}, maintops.ErrNilRecord
	}
	record := diagnosis.Clone()
	if err := record.Validate(); err != nil {
		return nil, Correlation{}, err
	}
	if err := record.Derive(); err != nil {
		return nil, Correlation{}, err
	}
	if record.ID != 0 {
		existing, err := s.store.Reader().ProblemDiagnoses().Get(ctx, record.ID)
		if err != nil {
			return nil, Correlation{}, err
		}
		if err := checkInstanceUnchanged(maintops.KindProblemDiagnosis, existing.EquipmentInstanceID, record.EquipmentInstanceID); err != nil {
			return nil, Correlation{}, err
		}
	}

	var (
		saved *maintops.ProblemDiagnosis
		corr  Correlation
	)
	err := s.store.WithinInstance(ctx, record.EquipmentInstanceID, func(ctx context.Context, tx maintops.Tx) error {
		if _, err := tx.Catalog().GetEquipmentInstance(ctx, record.EquipmentInstanceID); err != nil {
			return err
		}
		for _, id := range record.ProblemTypeIDs {
			if _, err := tx.Catalog().GetProblemType(ctx, id); err != nil {
				return err
			}
		}
		var err error
		saved, corr, err = s.applyProblemDiagnosis(ctx, tx, record)
		return err
	})
	if err != nil {
		s.logSaveFailure(maintops.KindProblemDiagnosis, record.ID, record.EquipmentInstanceID, err)
		return nil, Correlation{}, err
	}
	return saved, corr, nil
}

func (s *Service) applyProblemDiagnosis(ctx context.Context, tx maintops.Tx, record *maintops.ProblemDiagnosis) (*maintops.ProblemDiagnosis, Correlation, error) {
	if err := tx.ProblemDiagnoses().Save(ctx, record); err != nil {
		return nil, Correlation{}, err
	}
	corr, err := s.correlator.CorrelateProblemDiagnosis(ctx, tx, record)
	if err != nil {
		return nil, Correlation{}, err
	}
	saved, err := tx.ProblemDiagnoses().Get(ctx, record.ID)
	if err != nil {
		return nil, Correlation{}, err
	}
	return saved, corr, nil
}

// RecomputeAll re-derives and re-correlates every record of one equipment
// instance in a single transaction: alarm periods first, then alert
// periods, then diagnoses, each in (start, id) order. Flags pushed by an
// earlier step are never cleared by a later one, so the outcome depends on
// this order.
func (s *Service) RecomputeAll(ctx context.Context, equipmentInstanceID string) error {
	start := time.Now()
	summary, err := s.recomputeAll(ctx, equipmentInstanceID)
	metrics.ObserveRecompute(resultLabel(err), time.Since(start))
	if err != nil {
		s.logger.Error("recompute failed",
			zap.String("equipment_instance", equipmentInstanceID),
			zap.String("correlation_id", eventing.CorrelationIDFromContext(ctx)),
			zap.Error(err))
		return err
	}
	s.logger.Info("recompute finished",
		zap.String("equipment_instance", equipmentInstanceID),
		zap.String("correlation_id", eventing.CorrelationIDFromContext(ctx)),
		zap.Int("alarm_periods", summary.AlarmPeriods),
		zap.Int("alert_periods", summary.AlertPeriods),
		zap.Int("problem_diagnoses", summary.ProblemDiagnoses),
		zap.Int("warnings", summary.Warnings),
		zap.Duration("elapsed", time.Since(start)))
	s.publish(ctx, summary)
	return nil
}

func (s *Service) recomputeAll(ctx context.Context, equipmentInstanceID string) (InstanceRecomputed, error) {
	summary := InstanceRecomputed{EquipmentInstanceID: equipmentInstanceID}
	err := s.store.WithinInstance(ctx, equipmentInstanceID, func(ctx context.Context, tx maintops.Tx) error {
		summary = InstanceRecomputed{EquipmentInstanceID: equipmentInstanceID}

		alarms, err := tx.AlarmPeriods().ListByInstance(ctx, equipmentInstanceID)
		if err != nil {
			return err
		}
		for _, record := range alarms {
			if err := record.Derive(); err != nil {
				return err
			}
			_, corr, err := s.applyAlarmPeriod(ctx, tx, record)
			if err != nil {
				return err
			}
			summary.AlarmPeriods++
			summary.Warnings += len(corr.Warnings)
		}

		alerts, err := tx.AlertPeriods().ListByInstance(ctx, equipmentInstanceID)
		if err != nil {
			return err
		}
		for _, record := range alerts {
			if err := record.Derive(); err != nil {
				return err
			}
			_, corr, err := s.applyAlertPeriod(ctx, tx, record)
			if err != nil {
				return err
			}
			summary.AlertPeriods++
			summary.Warnings += len(corr.Warnings)
		}

		diagnoses, err := tx.ProblemDiagnoses().ListByInstance(ctx, equipmentInstanceID)
		if err != nil {
			return err
		}
		for _, record := range diagnoses {
			if err := record.Derive(); err != nil {
				return err
			}
			_, corr, err := s.applyProblemDiagnosis(ctx, tx, record)
			if err != nil {
				return err
			}
			summary.ProblemDiagnoses++
			summary.Warnings += len(corr.Warnings)
		}
		return nil
	})
	if err != nil {
		return InstanceRecomputed{}, err
	}
	summary.OccurredAt = s.clock.Now()
	return summary, nil
}

// RecomputeInstances runs RecomputeAll for the given instances, or for
// every registered instance when none are given. Instances run
// concurrently up to the configured limit; the first failure cancels the
// rest.
func (s *Service) RecomputeInstances(ctx context.Context, equipmentInstanceIDs ...string) error {
	if len(equipmentInstanceIDs) == 0 {
		instances, err := s.store.Reader().Catalog().ListEquipmentInstances(ctx)
		if err != nil {
			return err
		}
		for _, instance := range instances {
			equipmentInstanceIDs = append(equipmentInstanceIDs, instance.ID)
		}
	}
	if eventing.CorrelationIDFromContext(ctx) == "" {
		ctx = eventing.WithCorrelationID(ctx, uuid.NewString())
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.recomputeConcurrency)
	for _, id := range equipmentInstanceIDs {
		id := id
		group.Go(func() error {
			return s.RecomputeAll(ctx, id)
		})
	}
	return group.Wait()
}

// SetAlertPeriodStatus moves an alert period to another workflow stage.
// The stored record is loaded inside the instance transaction, so a
// concurrent ingestion update is never written back stale.
func (s *Service) SetAlertPeriodStatus(ctx context.Context, alertPeriodID, statusID int64) (*maintops.AlertPeriod, error) {
	start := time.Now()
	current, err := s.store.Reader().AlertPeriods().Get(ctx, alertPeriodID)
	if err != nil {
		return nil, err
	}
	instanceID := current.EquipmentInstanceID

	var (
		saved  *maintops.AlertPeriod
		corr   Correlation
		from   int64
		status *maintops.DiagnosisStatus
	)
	err = s.store.WithinInstance(ctx, instanceID, func(ctx context.Context, tx maintops.Tx) error {
		record, err := tx.AlertPeriods().Get(ctx, alertPeriodID)
		if err != nil {
			return err
		}
		if status, err = tx.Catalog().GetStatus(ctx, statusID); err != nil {
			return err
		}
		from = record.DiagnosisStatusID
		record.DiagnosisStatusID = status.ID
		if err := record.Derive(); err != nil {
			return err
		}
		saved, corr, err = s.applyAlertPeriod(ctx, tx, record)
		return err
	})
	metrics.ObserveSave(string(maintops.KindAlertPeriod), resultLabel(err), time.Since(start))
	if err != nil {
		s.logSaveFailure(maintops.KindAlertPeriod, alertPeriodID, instanceID, err)
		return nil, err
	}

	s.publishCorrelation(ctx, maintops.KindAlertPeriod, saved.ID, saved.EquipmentInstanceID, corr)
	if from != status.ID {
		metrics.IncStatusTransition(status.Name)
		s.publish(ctx, DiagnosisStatusChanged{
			AlertPeriodID:       saved.ID,
			EquipmentInstanceID: saved.EquipmentInstanceID,
			FromStatusID:        from,
			ToStatusID:          status.ID,
			ToStatusName:        status.Name,
			Summary:             saved.Describe(status.Name),
			OccurredAt:          s.clock.Now(),
		})
	}
	return saved, nil
}

// EnsureDefaultStatus makes sure the initial diagnosis status exists.
func (s *Service) EnsureDefaultStatus(ctx context.Context) (maintops.DiagnosisStatus, error) {
	return s.statuses.EnsureDefault(ctx, s.store.Reader().Catalog())
}

// RegisterStatus adds a workflow stage.
func (s *Service) RegisterStatus(ctx context.Context, index int, name string) (maintops.DiagnosisStatus, error) {
	return s.statuses.Register(ctx, s.store.Reader().Catalog(), index, name)
}

// ListStatuses returns the workflow stages ordered by index.
func (s *Service) ListStatuses(ctx context.Context) ([]maintops.DiagnosisStatus, error) {
	return s.store.Reader().Catalog().ListStatuses(ctx)
}

// RegisterEquipmentInstance records an equipment instance so records can
// reference it.
func (s *Service) RegisterEquipmentInstance(ctx context.Context, instance maintops.EquipmentInstance) error {
	return s.store.Reader().Catalog().SaveEquipmentInstance(ctx, &instance)
}

// RegisterProblemType returns the problem type with the given name,
// creating it when absent.
func (s *Service) RegisterProblemType(ctx context.Context, name string) (maintops.EquipmentProblemType, error) {
	problemType := maintops.EquipmentProblemType{Name: name}
	problemType.Normalize()
	if problemType.Name == "" {
		return maintops.EquipmentProblemType{}, maintops.NewValidationError("equipment_problem_type", "name", "required")
	}
	if err := s.store.Reader().Catalog().EnsureProblemType(ctx, &problemType); err != nil {
		return maintops.EquipmentProblemType{}, err
	}
	return problemType, nil
}

// ListProblemTypes returns the problem type catalog ordered by name.
func (s *Service) ListProblemTypes(ctx context.Context) ([]maintops.EquipmentProblemType, error) {
	return s.store.Reader().Catalog().ListProblemTypes(ctx)
}

// ListEquipmentInstances returns every registered instance.
func (s *Service) ListEquipmentInstances(ctx context.Context) ([]maintops.EquipmentInstance, error) {
	return s.store.Reader().Catalog().ListEquipmentInstances(ctx)
}

// GetAlarmPeriod loads an alarm period with its association sets.
func (s *Service) GetAlarmPeriod(ctx context.Context, id int64) (*maintops.AlarmPeriod, error) {
	return s.store.Reader().AlarmPeriods().Get(ctx, id)
}

// GetAlertPeriod loads an alert period with its association sets.
func (s *Service) GetAlertPeriod(ctx context.Context, id int64) (*maintops.AlertPeriod, error) {
	return s.store.Reader().AlertPeriods().Get(ctx, id)
}

// GetProblemDiagnosis loads a diagnosis with its association sets.
func (s *Service) GetProblemDiagnosis(ctx context.Context, id int64) (*maintops.ProblemDiagnosis, error) {
	return s.store.Reader().ProblemDiagnoses().Get(ctx, id)
}

// ListAlarmPeriods returns an instance's alarm periods.
func (s *Service) ListAlarmPeriods(ctx context.Context, equipmentInstanceID string) ([]*maintops.AlarmPeriod, error) {
	return s.store.Reader().AlarmPeriods().ListByInstance(ctx, equipmentInstanceID)
}

// ListAlertPeriods returns an instance's alert periods.
func (s *Service) ListAlertPeriods(ctx context.Context, equipmentInstanceID string) ([]*maintops.AlertPeriod, error) {
	return s.store.Reader().AlertPeriods().ListByInstance(ctx, equipmentInstanceID)
}

// ListProblemDiagnoses returns an instance's diagnoses.
func (s *Service) ListProblemDiagnoses(ctx context.Context, equipmentInstanceID string) ([]*maintops.ProblemDiagnosis, error) {
	return s.store.Reader().ProblemDiagnoses().ListByInstance(ctx, equipmentInstanceID)
}

func (s *Service) publishCorrelation(ctx context.Context, kind maintops.Kind, id int64, instanceID string, corr Correlation) {
	event := CorrelationUpdated{
		Kind:                kind,
		ID:                  id,
		EquipmentInstanceID: instanceID,
		AlarmPeriodIDs:      corr.AlarmPeriodIDs,
		AlertPeriodIDs:      corr.AlertPeriodIDs,
		ProblemDiagnosisIDs: corr.ProblemDiagnosisIDs,
		OccurredAt:          s.clock.Now(),
	}
	for _, w := range corr.Warnings {
		event.Warnings = append(event.Warnings, w.String())
	}
	s.publish(ctx, event)
}

// publish runs after commit, so a failing subscriber is logged and never
// undoes the write.
func (s *Service) publish(ctx context.Context, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", eventing.EventType(event)),
			zap.Error(err))
	}
}

func (s *Service) logSaveFailure(kind maintops.Kind, id int64, instanceID string, err error) {
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.Int64("id", id),
		zap.String("equipment_instance", instanceID),
		zap.String("error_kind", maintops.ErrorKind(err)),
		zap.Error(err),
	}
	if maintops.ErrorKind(err) == maintops.KindInternal {
		s.logger.Error("save failed", fields...)
		return
	}
	s.logger.Info("save rejected", fields...)
}

func checkInstanceUnchanged(kind maintops.Kind, stored, requested string) error {
	if stored != requested {
		return maintops.NewValidationError(string(kind), "equipment_instance_id", "cannot change on update")
	}
	return nil
}

func resultLabel(err error) string {
	switch maintops.ErrorKind(err) {
	case "":
		return metrics.ResultSuccess
	case maintops.KindValidation:
		return metrics.ResultValidation
	case maintops.KindNotFound:
		return metrics.ResultNotFound
	default:
		return metrics.ResultError
	}
}
