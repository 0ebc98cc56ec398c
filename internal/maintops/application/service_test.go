package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"equipment-maintops/internal/eventing"
	maintops "equipment-maintops/internal/maintops/domain"
	"equipment-maintops/internal/maintops/infrastructure/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type eventRecorder struct {
	mu     sync.Mutex
	events []CorrelationUpdated
}

func (r *eventRecorder) handle(ctx context.Context, env eventing.Envelope) error {
	event, err := eventing.DecodePayload[CorrelationUpdated](env)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) last() CorrelationUpdated {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	service   *Service
	store     maintops.Store
	alarmType maintops.EquipmentProblemType
	events    *eventRecorder
}

func newFixture(t *testing.T, store maintops.Store) fixture {
	t.Helper()
	ctx := context.Background()
	if store == nil {
		store = memory.NewStore()
	}
	bus := eventing.NewInMemoryBus()
	recorder := &eventRecorder{}
	bus.Subscribe(eventing.EventTypeOf[CorrelationUpdated](), recorder.handle)

	service, err := NewService(store,
		WithPublisher(bus),
		WithClock(fixedClock{now: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}),
		WithRecomputeConcurrency(2),
	)
	require.NoError(t, err)

	for _, id := range []string{"pump-1", "pump-2"} {
		require.NoError(t, service.RegisterEquipmentInstance(ctx, maintops.EquipmentInstance{ID: id, GeneralType: "pump"}))
	}
	alarmType, err := service.RegisterProblemType(ctx, "overheating")
	require.NoError(t, err)
	return fixture{service: service, store: store, alarmType: alarmType, events: recorder}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f fixture) alarm(instanceID string, from, to time.Time) *maintops.AlarmPeriod {
	return &maintops.AlarmPeriod{
		EquipmentInstanceID: instanceID,
		AlarmTypeID:         f.alarmType.ID,
		FromTimestamp:       from,
		ToTimestamp:         to,
	}
}

func alert(instanceID string, from, to time.Time) *maintops.AlertPeriod {
	return &maintops.AlertPeriod{
		EquipmentInstanceID:       instanceID,
		GroupID:                   "pumps",
		RiskScoreName:             "vibration",
		Threshold:                 10,
		FromDate:                  from,
		ToDate:                    to,
		CumulativeExcessRiskScore: 20,
	}
}

func diagnosis(instanceID string, from, to time.Time) *maintops.ProblemDiagnosis {
	return &maintops.ProblemDiagnosis{EquipmentInstanceID: instanceID, FromDate: from, ToDate: to}
}

func TestEndToEndPumpScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	alarm, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 3, 1), date(2024, 3, 3)))
	require.NoError(t, err)
	require.NotNil(t, alarm.DurationInDays)
	require.InDelta(t, 2.0, *alarm.DurationInDays, 1e-9)
	require.Equal(t, "[2024-02-29,2024-03-04]", alarm.DateRange.String())
	require.False(t, alarm.HasAssociatedProblemDiagnoses)

	diag, err := f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-1", date(2024, 3, 2), date(2024, 3, 2)))
	require.NoError(t, err)
	require.NotNil(t, diag.Duration)
	require.Equal(t, 1, *diag.Duration)
	require.True(t, diag.HasAssociatedAlarmPeriods)
	require.Equal(t, maintops.AssociationSet{alarm.ID}, diag.AlarmPeriodIDs)

	alarm, err = f.service.GetAlarmPeriod(ctx, alarm.ID)
	require.NoError(t, err)
	require.True(t, alarm.HasAssociatedProblemDiagnoses)
	require.Equal(t, maintops.AssociationSet{diag.ID}, alarm.ProblemDiagnosisIDs)

	event := f.events.last()
	require.Equal(t, maintops.KindProblemDiagnosis, event.Kind)
	require.Equal(t, diag.ID, event.ID)
	require.Equal(t, maintops.AssociationSet{alarm.ID}, event.AlarmPeriodIDs)
	require.Empty(t, event.Warnings)
}

func TestAssociationSetReplacedButPushedFlagSticks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	x, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 3, 1), date(2024, 3, 5)))
	require.NoError(t, err)

	a, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 3, 2), date(2024, 3, 3)))
	require.NoError(t, err)
	require.Equal(t, maintops.AssociationSet{x.ID}, a.AlertPeriodIDs)
	require.True(t, a.HasAssociatedAlertPeriods)

	// Move the alarm well past the alert period.
	a.FromTimestamp = date(2024, 6, 1)
	a.ToTimestamp = date(2024, 6, 2)
	a, err = f.service.SaveAlarmPeriod(ctx, a)
	require.NoError(t, err)
	require.Empty(t, a.AlertPeriodIDs)
	require.False(t, a.HasAssociatedAlertPeriods)

	x, err = f.service.GetAlertPeriod(ctx, x.ID)
	require.NoError(t, err)
	require.Empty(t, x.AlarmPeriodIDs)
	require.True(t, x.HasAssociatedAlarmPeriods, "pushed flag is never retracted")
}

func TestOngoingAlarmMatchesLaterRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	alarm, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 3, 1), time.Time{}))
	require.NoError(t, err)
	require.Nil(t, alarm.DurationInDays)

	x, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2025, 1, 1), date(2025, 1, 3)))
	require.NoError(t, err)
	require.Equal(t, maintops.AssociationSet{alarm.ID}, x.AlarmPeriodIDs)
	require.True(t, x.HasAssociatedAlarmPeriods)
}

func TestCreateAlertAssignsDefaultStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	statuses, err := f.service.ListStatuses(ctx)
	require.NoError(t, err)
	require.Empty(t, statuses)

	x, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 1, 1), date(2024, 1, 5)))
	require.NoError(t, err)
	require.Equal(t, 5, x.Duration)
	require.InDelta(t, 14.0, x.ApproxAverageRiskScore, 1e-9)

	statuses, err = f.service.ListStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, 0, statuses[0].Index)
	require.Equal(t, "to_diagnose", statuses[0].Name)
	require.Equal(t, statuses[0].ID, x.DiagnosisStatusID)

	// A second create reuses the same row.
	y, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 2, 1), date(2024, 2, 2)))
	require.NoError(t, err)
	require.Equal(t, x.DiagnosisStatusID, y.DiagnosisStatusID)
}

func TestUpdateKeepsStoredStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.service.EnsureDefaultStatus(ctx)
	require.NoError(t, err)
	reviewed, err := f.service.RegisterStatus(ctx, 2, "Reviewed")
	require.NoError(t, err)
	require.Equal(t, "reviewed", reviewed.Name)

	x, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 1, 1), date(2024, 1, 5)))
	require.NoError(t, err)
	x, err = f.service.SetAlertPeriodStatus(ctx, x.ID, reviewed.ID)
	require.NoError(t, err)
	require.Equal(t, reviewed.ID, x.DiagnosisStatusID)

	x.DiagnosisStatusID = 0
	x.LastRiskScore = 42
	x, err = f.service.SaveAlertPeriod(ctx, x)
	require.NoError(t, err)
	require.Equal(t, reviewed.ID, x.DiagnosisStatusID)
	require.Equal(t, 42.0, x.LastRiskScore)
}

func TestSetAlertPeriodStatusUnknownStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	x, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 1, 1), date(2024, 1, 5)))
	require.NoError(t, err)

	_, err = f.service.SetAlertPeriodStatus(ctx, x.ID, 9999)
	require.ErrorIs(t, err, maintops.ErrNotFound)

	_, err = f.service.SetAlertPeriodStatus(ctx, 9999, x.DiagnosisStatusID)
	require.ErrorIs(t, err, maintops.ErrNotFound)
}

func TestDuplicateDiagnosisRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-1", date(2024, 3, 2), time.Time{}))
	require.NoError(t, err)
	_, err = f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-1", date(2024, 3, 2), date(2024, 3, 9)))
	require.ErrorIs(t, err, maintops.ErrValidation)
	require.Equal(t, maintops.KindValidation, maintops.ErrorKind(err))

	// Same day on another instance is fine.
	_, err = f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-2", date(2024, 3, 2), time.Time{}))
	require.NoError(t, err)
}

func TestSaveRejectsUnknownReferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-404", date(2024, 3, 1), time.Time{}))
	require.ErrorIs(t, err, maintops.ErrNotFound)

	bad := f.alarm("pump-1", date(2024, 3, 1), time.Time{})
	bad.AlarmTypeID = f.alarmType.ID + 100
	_, err = f.service.SaveAlarmPeriod(ctx, bad)
	require.ErrorIs(t, err, maintops.ErrNotFound)

	d := diagnosis("pump-1", date(2024, 3, 1), time.Time{})
	d.ProblemTypeIDs = maintops.AssociationSet{f.alarmType.ID + 100}
	_, err = f.service.SaveProblemDiagnosis(ctx, d)
	require.ErrorIs(t, err, maintops.ErrNotFound)

	x := alert("pump-1", date(2024, 1, 1), date(2024, 1, 5))
	x.DiagnosisStatusID = 777
	_, err = f.service.SaveAlertPeriod(ctx, x)
	require.ErrorIs(t, err, maintops.ErrNotFound)

	_, err = f.service.SaveAlarmPeriod(ctx, nil)
	require.ErrorIs(t, err, maintops.ErrNilRecord)
}

func TestValidationRunsBeforeAnySideEffect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	x := alert("pump-1", date(2024, 1, 5), date(2024, 1, 1))
	_, err := f.service.SaveAlertPeriod(ctx, x)
	require.ErrorIs(t, err, maintops.ErrValidation)

	statuses, err := f.service.ListStatuses(ctx)
	require.NoError(t, err)
	require.Empty(t, statuses, "no default status created for a rejected record")
}

func TestEquipmentInstanceIsImmutable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	d, err := f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-1", date(2024, 3, 2), time.Time{}))
	require.NoError(t, err)
	d.EquipmentInstanceID = "pump-2"
	_, err = f.service.SaveProblemDiagnosis(ctx, d)

	var verr *maintops.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "equipment_instance_id", verr.Field)
}

// failingStore fails every transaction after fn succeeded, as a commit
// failure would.
type failingStore struct {
	maintops.Store
	armed bool
}

var errCommit = errors.New("commit failed")

func (s *failingStore) WithinInstance(ctx context.Context, id string, fn func(ctx context.Context, tx maintops.Tx) error) error {
	return s.Store.WithinInstance(ctx, id, func(ctx context.Context, tx maintops.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.armed {
			return errCommit
		}
		return nil
	})
}

func TestFailedSaveLeavesNoPartialFlags(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memory.NewStore()}
	f := newFixture(t, store)

	alarm, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 3, 1), date(2024, 3, 3)))
	require.NoError(t, err)

	store.armed = true
	_, err = f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-1", date(2024, 3, 2), date(2024, 3, 2)))
	require.ErrorIs(t, err, errCommit)
	require.Equal(t, maintops.KindInternal, maintops.ErrorKind(err))

	alarm, err = f.service.GetAlarmPeriod(ctx, alarm.ID)
	require.NoError(t, err)
	require.False(t, alarm.HasAssociatedProblemDiagnoses)
	require.Empty(t, alarm.ProblemDiagnosisIDs)

	diagnoses, err := f.service.ListProblemDiagnoses(ctx, "pump-1")
	require.NoError(t, err)
	require.Empty(t, diagnoses)
}

// racingStore runs interleave once, right before the next transaction
// starts, as a concurrent writer would.
type racingStore struct {
	maintops.Store
	mu         sync.Mutex
	interleave func()
}

func (s *racingStore) WithinInstance(ctx context.Context, id string, fn func(ctx context.Context, tx maintops.Tx) error) error {
	s.mu.Lock()
	interleave := s.interleave
	s.interleave = nil
	s.mu.Unlock()
	if interleave != nil {
		interleave()
	}
	return s.Store.WithinInstance(ctx, id, fn)
}

func TestSetAlertPeriodStatusKeepsConcurrentIngestionUpdate(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{Store: memory.NewStore()}
	f := newFixture(t, store)

	x, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 3, 1), date(2024, 3, 5)))
	require.NoError(t, err)
	initial := x.DiagnosisStatusID
	reviewed, err := f.service.RegisterStatus(ctx, 3, "Diagnosed")
	require.NoError(t, err)

	store.interleave = func() {
		update := x.Clone()
		update.DiagnosisStatusID = 0
		update.LastRiskScore = 99
		update.CumulativeExcessRiskScore = 500
		update.ToDate = date(2024, 3, 9)
		update.Ongoing = true
		_, err := f.service.SaveAlertPeriod(ctx, update)
		require.NoError(t, err)
	}

	bus := eventing.NewInMemoryBus()
	var changes []DiagnosisStatusChanged
	bus.Subscribe(eventing.EventTypeOf[DiagnosisStatusChanged](), func(ctx context.Context, env eventing.Envelope) error {
		event, err := eventing.DecodePayload[DiagnosisStatusChanged](env)
		changes = append(changes, event)
		return err
	})
	f.service.publisher = bus

	moved, err := f.service.SetAlertPeriodStatus(ctx, x.ID, reviewed.ID)
	require.NoError(t, err)
	require.Equal(t, reviewed.ID, moved.DiagnosisStatusID)
	require.Equal(t, 99.0, moved.LastRiskScore)
	require.Equal(t, 500.0, moved.CumulativeExcessRiskScore)
	require.Equal(t, date(2024, 3, 9), moved.ToDate)
	require.True(t, moved.Ongoing)
	require.Equal(t, 9, moved.Duration)

	stored, err := f.service.GetAlertPeriod(ctx, x.ID)
	require.NoError(t, err)
	require.Equal(t, 99.0, stored.LastRiskScore)
	require.Equal(t, reviewed.ID, stored.DiagnosisStatusID)

	require.Len(t, changes, 1)
	require.Equal(t, initial, changes[0].FromStatusID)
	require.Equal(t, reviewed.ID, changes[0].ToStatusID)
	require.True(t, strings.HasPrefix(changes[0].Summary, "DIAGNOSED: ONGOING Alert on pumps #pump-1 from 2024-03-01 to 2024-03-09"))
}

// describeInstance renders every record of an instance keyed by its start
// date, so runs with different id assignment can be compared.
func describeInstance(t *testing.T, s *Service, instanceID string) []string {
	t.Helper()
	snap := takeSnapshot(t, s, instanceID)
	keys := map[string]string{}
	for _, a := range snap.alarms {
		keys[fmt.Sprintf("alarm:%d", a.ID)] = "alarm@" + a.FromTimestamp.Format("01-02")
	}
	for _, a := range snap.alerts {
		keys[fmt.Sprintf("alert:%d", a.ID)] = "alert@" + a.FromDate.Format("01-02")
	}
	for _, d := range snap.diagnoses {
		keys[fmt.Sprintf("diagnosis:%d", d.ID)] = "diagnosis@" + d.FromDate.Format("01-02")
	}
	names := func(kind string, ids maintops.AssociationSet) string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, keys[fmt.Sprintf("%s:%d", kind, id)])
		}
		sort.Strings(out)
		return strings.Join(out, ",")
	}

	var lines []string
	for _, a := range snap.alarms {
		lines = append(lines, fmt.Sprintf("%s alerts=[%s] diagnoses=[%s] flags=%t/%t",
			keys[fmt.Sprintf("alarm:%d", a.ID)], names("alert", a.AlertPeriodIDs), names("diagnosis", a.ProblemDiagnosisIDs),
			a.HasAssociatedAlertPeriods, a.HasAssociatedProblemDiagnoses))
	}
	for _, a := range snap.alerts {
		lines = append(lines, fmt.Sprintf("%s alarms=[%s] diagnoses=[%s] flags=%t/%t",
			keys[fmt.Sprintf("alert:%d", a.ID)], names("alarm", a.AlarmPeriodIDs), names("diagnosis", a.ProblemDiagnosisIDs),
			a.HasAssociatedAlarmPeriods, a.HasAssociatedProblemDiagnoses))
	}
	for _, d := range snap.diagnoses {
		lines = append(lines, fmt.Sprintf("%s alarms=[%s] alerts=[%s] flags=%t/%t",
			keys[fmt.Sprintf("diagnosis:%d", d.ID)], names("alarm", d.AlarmPeriodIDs), names("alert", d.AlertPeriodIDs),
			d.HasAssociatedAlarmPeriods, d.HasAssociatedAlertPeriods))
	}
	sort.Strings(lines)
	return lines
}

func sameInstanceWrites(f fixture) []func(ctx context.Context) error {
	return []func(ctx context.Context) error{
		func(ctx context.Context) error {
			_, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 3, 1), date(2024, 3, 3)))
			return err
		},
		func(ctx context.Context) error {
			_, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 3, 10), time.Time{}))
			return err
		},
		func(ctx context.Context) error {
			_, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 3, 3), date(2024, 3, 6)))
			return err
		},
		func(ctx context.Context) error {
			_, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 2, 1), date(2024, 2, 2)))
			return err
		},
		func(ctx context.Context) error {
			_, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 3, 12), date(2024, 3, 14)))
			return err
		},
		func(ctx context.Context) error {
			_, err := f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-1", date(2024, 3, 2), date(2024, 3, 2)))
			return err
		},
		func(ctx context.Context) error {
			_, err := f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-1", date(2024, 3, 11), date(2024, 3, 20)))
			return err
		},
	}
}

func TestConcurrentSavesOnOneInstanceMatchSerialRun(t *testing.T) {
	ctx := context.Background()

	serial := newFixture(t, nil)
	for _, write := range sameInstanceWrites(serial) {
		require.NoError(t, write(ctx))
	}
	want := describeInstance(t, serial.service, "pump-1")

	for round := 0; round < 20; round++ {
		parallel := newFixture(t, nil)
		writes := sameInstanceWrites(parallel)
		errs := make(chan error, len(writes))
		var wg sync.WaitGroup
		for _, write := range writes {
			wg.Add(1)
			go func(write func(ctx context.Context) error) {
				defer wg.Done()
				errs <- write(ctx)
			}(write)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, want, describeInstance(t, parallel.service, "pump-1"), "round %d", round)
	}
}

type snapshot struct {
	alarms    []*maintops.AlarmPeriod
	alerts    []*maintops.AlertPeriod
	diagnoses []*maintops.ProblemDiagnosis
}

func takeSnapshot(t *testing.T, s *Service, instanceID string) snapshot {
	t.Helper()
	ctx := context.Background()
	alarms, err := s.ListAlarmPeriods(ctx, instanceID)
	require.NoError(t, err)
	alerts, err := s.ListAlertPeriods(ctx, instanceID)
	require.NoError(t, err)
	diagnoses, err := s.ListProblemDiagnoses(ctx, instanceID)
	require.NoError(t, err)
	return snapshot{alarms: alarms, alerts: alerts, diagnoses: diagnoses}
}

func seedScenario(t *testing.T, f fixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-1", date(2024, 3, 2), date(2024, 3, 2)))
	require.NoError(t, err)
	_, err = f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 3, 3), date(2024, 3, 6)))
	require.NoError(t, err)
	_, err = f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 3, 1), date(2024, 3, 3)))
	require.NoError(t, err)
	_, err = f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 5, 1), time.Time{}))
	require.NoError(t, err)
	_, err = f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 1, 1), date(2024, 1, 2)))
	require.NoError(t, err)
}

func TestRecomputeAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	seedScenario(t, f)

	require.NoError(t, f.service.RecomputeAll(ctx, "pump-1"))
	first := takeSnapshot(t, f.service, "pump-1")
	require.NoError(t, f.service.RecomputeAll(ctx, "pump-1"))
	second := takeSnapshot(t, f.service, "pump-1")

	require.Equal(t, first, second)
}

func TestRecomputeAllMatchesIncrementalAssociations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	seedScenario(t, f)
	before := takeSnapshot(t, f.service, "pump-1")

	require.NoError(t, f.service.RecomputeAll(ctx, "pump-1"))
	after := takeSnapshot(t, f.service, "pump-1")

	for i := range before.alarms {
		require.Equal(t, before.alarms[i].AlertPeriodIDs, after.alarms[i].AlertPeriodIDs)
		require.Equal(t, before.alarms[i].ProblemDiagnosisIDs, after.alarms[i].ProblemDiagnosisIDs)
	}
	for i := range before.alerts {
		require.Equal(t, before.alerts[i].AlarmPeriodIDs, after.alerts[i].AlarmPeriodIDs)
		require.Equal(t, before.alerts[i].ProblemDiagnosisIDs, after.alerts[i].ProblemDiagnosisIDs)
	}
	// The alert from January overlaps nothing but the ongoing alarm is
	// from May, so it stays unassociated.
	require.Empty(t, after.alerts[0].AlarmPeriodIDs)
	require.False(t, after.alerts[0].HasAssociatedAlarmPeriods)
}

func TestRecomputeResetsOwnFlagFromFreshResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	x, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 3, 1), date(2024, 3, 5)))
	require.NoError(t, err)
	a, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 3, 2), date(2024, 3, 3)))
	require.NoError(t, err)
	a.FromTimestamp, a.ToTimestamp = date(2024, 9, 1), date(2024, 9, 2)
	_, err = f.service.SaveAlarmPeriod(ctx, a)
	require.NoError(t, err)

	require.NoError(t, f.service.RecomputeAll(ctx, "pump-1"))

	x, err = f.service.GetAlertPeriod(ctx, x.ID)
	require.NoError(t, err)
	require.Empty(t, x.AlarmPeriodIDs)
	// Recompute sets the alert's own flag from its fresh result.
	require.False(t, x.HasAssociatedAlarmPeriods)
}

func TestRecomputeInstancesCoversAllRegistered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	seedScenario(t, f)
	_, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-2", date(2024, 3, 1), date(2024, 3, 3)))
	require.NoError(t, err)

	require.NoError(t, f.service.RecomputeInstances(ctx))
	require.NoError(t, f.service.RecomputeInstances(ctx, "pump-2"))
}

func TestRecomputeInstancesStopsOnError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	err := f.service.RecomputeInstances(ctx, "pump-1", "")
	require.ErrorIs(t, err, maintops.ErrValidation)
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
}

func TestRegisterProblemTypeRequiresName(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.RegisterProblemType(context.Background(), "   ")
	require.ErrorIs(t, err, maintops.ErrValidation)
}

func TestListProblemTypesReturnsCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	again, err := f.service.RegisterProblemType(ctx, "  overheating ")
	require.NoError(t, err)
	require.Equal(t, f.alarmType.ID, again.ID)
	_, err = f.service.RegisterProblemType(ctx, "bearing wear")
	require.NoError(t, err)

	types, err := f.service.ListProblemTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 2)
	require.Equal(t, "bearing wear", types[0].Name)
	require.Equal(t, "overheating", types[1].Name)
}
