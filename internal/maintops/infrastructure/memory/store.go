package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	maintops "equipment-maintops/internal/maintops/domain"
)

var errReadOnly = errors.New("memory store: entity writes require WithinInstance")

type link [2]int64

// state is one equipment instance's committed (or working) data. A
// committed state is never mutated; transactions work on a clone.
type state struct {
	alarms    map[int64]*maintops.AlarmPeriod
	alerts    map[int64]*maintops.AlertPeriod
	diagnoses map[int64]*maintops.ProblemDiagnosis

	// alarm->alert, alarm->diagnosis, alert->diagnosis
	alarmAlert map[link]struct{}
	alarmDiag  map[link]struct{}
	alertDiag  map[link]struct{}
}

func newState() *state {
	return &state{
		alarms:     make(map[int64]*maintops.AlarmPeriod),
		alerts:     make(map[int64]*maintops.AlertPeriod),
		diagnoses:  make(map[int64]*maintops.ProblemDiagnosis),
		alarmAlert: make(map[link]struct{}),
		alarmDiag:  make(map[link]struct{}),
		alertDiag:  make(map[link]struct{}),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, v := range s.alarms {
		c.alarms[id] = v.Clone()
	}
	for id, v := range s.alerts {
		c.alerts[id] = v.Clone()
	}
	for id, v := range s.diagnoses {
		c.diagnoses[id] = v.Clone()
	}
	for k := range s.alarmAlert {
		c.alarmAlert[k] = struct{}{}
	}
	for k := range s.alarmDiag {
		c.alarmDiag[k] = struct{}{}
	}
	for k := range s.alertDiag {
		c.alertDiag[k] = struct{}{}
	}
	return c
}

type partition struct {
	// writer serialises transactions on one equipment instance.
	writer sync.Mutex
	state  *state
}

// Store is an in-memory entity store for demo/testing. Data is partitioned
// by equipment instance so transactions on distinct instances run
// concurrently.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	owners     map[maintops.Kind]map[int64]string

	catalog *catalog
	seq     atomic.Int64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		partitions: make(map[string]*partition),
		owners: map[maintops.Kind]map[int64]string{
			maintops.KindAlarmPeriod:      {},
			maintops.KindAlertPeriod:      {},
			maintops.KindProblemDiagnosis: {},
		},
		catalog: newCatalog(),
	}
}

// WithinInstance runs fn against a private copy of the instance partition
// and publishes it only when fn succeeds.
func (s *Store) WithinInstance(ctx context.Context, equipmentInstanceID string, fn func(ctx context.Context, tx maintops.Tx) error) error {
	if s == nil {
		return errors.New("memory store: nil store")
	}
	if equipmentInstanceID == "" {
		return maintops.NewValidationError("equipment_instance", "id", "required")
	}
	if fn == nil {
		return errors.New("memory store: nil func")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p := s.partition(equipmentInstanceID)
	p.writer.Lock()
	defer p.writer.Unlock()

	s.mu.RLock()
	working := p.state.clone()
	s.mu.RUnlock()

	tx := &memTx{store: s, instanceID: equipmentInstanceID, state: working, writable: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	p.state = working
	for id := range working.alarms {
		s.owners[maintops.KindAlarmPeriod][id] = equipmentInstanceID
	}
	for id := range working.alerts {
		s.owners[maintops.KindAlertPeriod][id] = equipmentInstanceID
	}
	for id := range working.diagnoses {
		s.owners[maintops.KindProblemDiagnosis][id] = equipmentInstanceID
	}
	s.mu.Unlock()
	return nil
}

// Reader returns access to committed data. Entity writes through it fail.
func (s *Store) Reader() maintops.Tx {
	return &memTx{store: s}
}

func (s *Store) partition(instanceID string) *partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.partitions[instanceID]
	if p == nil {
		p = &partition{state: newState()}
		s.partitions[instanceID] = p
	}
	return p
}

// committed returns the committed state for an instance, or nil.
func (s *Store) committed(instanceID string) *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.partitions[instanceID]
	if p == nil {
		return nil
	}
	return p.state
}

// committedOwner finds the committed state holding an entity id.
func (s *Store) committedOwner(kind maintops.Kind, id int64) *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instanceID, ok := s.owners[kind][id]
	if !ok {
		return nil
	}
	p := s.partitions[instanceID]
	if p == nil {
		return nil
	}
	return p.state
}

func (s *Store) nextID() int64 { return s.seq.Add(1) }

// memTx binds repositories either to a working partition (writable) or to
// committed data (reader).
type memTx struct {
	store      *Store
	instanceID string
	state      *state
	writable   bool
}

func (t *memTx) AlarmPeriods() maintops.AlarmPeriodRepository         { return alarmRepo{t} }
func (t *memTx) AlertPeriods() maintops.AlertPeriodRepository         { return alertRepo{t} }
func (t *memTx) ProblemDiagnoses() maintops.ProblemDiagnosisRepository { return diagnosisRepo{t} }
func (t *memTx) Associations() maintops.AssociationRepository         { return associationRepo{t} }
func (t *memTx) Catalog() maintops.CatalogRepository                  { return t.store.catalog }

// stateFor resolves the state an instance-scoped read should see.
func (t *memTx) stateFor(instanceID string) *state {
	if t.writable {
		if instanceID != t.instanceID {
			return nil
		}
		return t.state
	}
	return t.store.committed(instanceID)
}

// stateForID resolves the state an id lookup should see.
func (t *memTx) stateForID(kind maintops.Kind, id int64) *state {
	if t.writable {
		return t.state
	}
	return t.store.committedOwner(kind, id)
}

func (t *memTx) writableState() (*state, error) {
	if !t.writable {
		return nil, errReadOnly
	}
	return t.state, nil
}
