package maintops

import "context"

// AlarmPeriodRepository persists alarm periods and their flags.
// Get and the list methods fill the association sets.
type AlarmPeriodRepository interface {
	Get(ctx context.Context, id int64) (*AlarmPeriod, error)
	ListByInstance(ctx context.Context, equipmentInstanceID string) ([]*AlarmPeriod, error)
	ListOverlapping(ctx context.Context, equipmentInstanceID string, r DateRange) ([]*AlarmPeriod, error)
	// Save inserts when ID is zero (assigning it) and updates otherwise. It
	// writes stored and derived fields only, never associations or flags.
	Save(ctx context.Context, period *AlarmPeriod) error
	// SetAssociated sets the period's own flag for the other kind.
	SetAssociated(ctx context.Context, id int64, with Kind, value bool) error
	// MarkAssociated sets the flag for the other kind to true on every id.
	MarkAssociated(ctx context.Context, ids []int64, with Kind) error
}

// AlertPeriodRepository persists alert periods and their flags.
type AlertPeriodRepository interface {
	Get(ctx context.Context, id int64) (*AlertPeriod, error)
	ListByInstance(ctx context.Context, equipmentInstanceID string) ([]*AlertPeriod, error)
	ListOverlapping(ctx context.Context, equipmentInstanceID string, r DateRange) ([]*AlertPeriod, error)
	Save(ctx context.Context, period *AlertPeriod) error
	SetAssociated(ctx context.Context, id int64, with Kind, value bool) error
	MarkAssociated(ctx context.Context, ids []int64, with Kind) error
}

// ProblemDiagnosisRepository persists problem diagnoses, their problem
// types and flags.
type ProblemDiagnosisRepository interface {
	Get(ctx context.Context, id int64) (*ProblemDiagnosis, error)
	ListByInstance(ctx context.Context, equipmentInstanceID string) ([]*ProblemDiagnosis, error)
	ListOverlapping(ctx context.Context, equipmentInstanceID string, r DateRange) ([]*ProblemDiagnosis, error)
	Save(ctx context.Context, diagnosis *ProblemDiagnosis) error
	SetAssociated(ctx context.Context, id int64, with Kind, value bool) error
	MarkAssociated(ctx context.Context, ids []int64, with Kind) error
}

// AssociationRepository maintains the bidirectional link sets. Each call
// replaces every link of the source entity towards the two other kinds.
type AssociationRepository interface {
	ReplaceForAlarmPeriod(ctx context.Context, alarmPeriodID int64, alertPeriodIDs, problemDiagnosisIDs AssociationSet) error
	ReplaceForAlertPeriod(ctx context.Context, alertPeriodID int64, alarmPeriodIDs, problemDiagnosisIDs AssociationSet) error
	ReplaceForProblemDiagnosis(ctx context.Context, problemDiagnosisID int64, alarmPeriodIDs, alertPeriodIDs AssociationSet) error
}

// CatalogRepository holds reference data: equipment instances, problem
// types and diagnosis statuses.
type CatalogRepository interface {
	GetEquipmentInstance(ctx context.Context, id string) (*EquipmentInstance, error)
	ListEquipmentInstances(ctx context.Context) ([]EquipmentInstance, error)
	SaveEquipmentInstance(ctx context.Context, instance *EquipmentInstance) error

	GetProblemType(ctx context.Context, id int64) (*EquipmentProblemType, error)
	// EnsureProblemType returns the type with the given name, creating it
	// when absent.
	EnsureProblemType(ctx context.Context, problemType *EquipmentProblemType) error
	ListProblemTypes(ctx context.Context) ([]EquipmentProblemType, error)

	GetStatus(ctx context.Context, id int64) (*DiagnosisStatus, error)
	GetStatusByIndex(ctx context.Context, index int) (*DiagnosisStatus, error)
	// EnsureStatus is idempotent on the index: an existing row wins and is
	// returned through the argument.
	EnsureStatus(ctx context.Context, status *DiagnosisStatus) error
	ListStatuses(ctx context.Context) ([]DiagnosisStatus, error)
}

// Tx is the set of repositories available inside one unit of work.
type Tx interface {
	AlarmPeriods() AlarmPeriodRepository
	AlertPeriods() AlertPeriodRepository
	ProblemDiagnoses() ProblemDiagnosisRepository
	Associations() AssociationRepository
	Catalog() CatalogRepository
}

// Store owns every entity record.
type Store interface {
	// WithinInstance runs fn in one transaction serialised against every
	// other transaction on the same equipment instance. Any error rolls
	// the whole unit back.
	WithinInstance(ctx context.Context, equipmentInstanceID string, fn func(ctx context.Context, tx Tx) error) error
	// Reader returns non-transactional read access.
	Reader() Tx
}
