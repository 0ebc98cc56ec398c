package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	maintops "equipment-maintops/internal/maintops/domain"
	"equipment-maintops/internal/maintops/infrastructure/memory"
)

// leakyTx returns an extra alert period from another instance on every
// overlap query, as a store with a broken instance filter would.
type leakyTx struct {
	maintops.Tx
	foreign *maintops.AlertPeriod
}

func (t leakyTx) AlertPeriods() maintops.AlertPeriodRepository {
	return leakyAlerts{AlertPeriodRepository: t.Tx.AlertPeriods(), foreign: t.foreign}
}

type leakyAlerts struct {
	maintops.AlertPeriodRepository
	foreign *maintops.AlertPeriod
}

func (r leakyAlerts) ListOverlapping(ctx context.Context, equipmentInstanceID string, dr maintops.DateRange) ([]*maintops.AlertPeriod, error) {
	items, err := r.AlertPeriodRepository.ListOverlapping(ctx, equipmentInstanceID, dr)
	if err != nil {
		return nil, err
	}
	return append(items, r.foreign.Clone()), nil
}

func TestCorrelatorSkipsCrossInstanceCandidates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	f := newFixture(t, store)

	own, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 3, 1), date(2024, 3, 5)))
	require.NoError(t, err)
	foreign, err := f.service.SaveAlertPeriod(ctx, alert("pump-2", date(2024, 3, 1), date(2024, 3, 5)))
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	correlator := NewCorrelator(zap.New(core))

	alarm := f.alarm("pump-1", date(2024, 3, 2), date(2024, 3, 3))
	var corr Correlation
	err = store.WithinInstance(ctx, "pump-1", func(ctx context.Context, tx maintops.Tx) error {
		require.NoError(t, alarm.Derive())
		if err := tx.AlarmPeriods().Save(ctx, alarm); err != nil {
			return err
		}
		var err error
		corr, err = correlator.CorrelateAlarmPeriod(ctx, leakyTx{Tx: tx, foreign: foreign}, alarm)
		return err
	})
	require.NoError(t, err)

	require.Equal(t, maintops.AssociationSet{own.ID}, corr.AlertPeriodIDs)
	require.Empty(t, corr.ProblemDiagnosisIDs)
	require.Len(t, corr.Warnings, 1)
	warning := corr.Warnings[0]
	require.Equal(t, maintops.KindAlarmPeriod, warning.Source)
	require.Equal(t, alarm.ID, warning.SourceID)
	require.Equal(t, maintops.KindAlertPeriod, warning.Target)
	require.Equal(t, foreign.ID, warning.TargetID)
	require.Equal(t, "pump-1", warning.ExpectedInstance)
	require.Equal(t, "pump-2", warning.CandidateInstance)

	require.Equal(t, 1, logs.FilterMessage("skipping cross-instance association").Len())

	foreign, err = f.service.GetAlertPeriod(ctx, foreign.ID)
	require.NoError(t, err)
	require.False(t, foreign.HasAssociatedAlarmPeriods)
	require.Empty(t, foreign.AlarmPeriodIDs)

	saved, err := f.service.GetAlarmPeriod(ctx, alarm.ID)
	require.NoError(t, err)
	require.True(t, saved.HasAssociatedAlertPeriods)
	require.False(t, saved.HasAssociatedProblemDiagnoses)
}

func TestCorrelatorRejectsUnsavedRecords(t *testing.T) {
	ctx := context.Background()
	correlator := NewCorrelator(nil)
	tx := memory.NewStore().Reader()

	_, err := correlator.CorrelateAlarmPeriod(ctx, tx, &maintops.AlarmPeriod{})
	require.Error(t, err)
	_, err = correlator.CorrelateAlertPeriod(ctx, tx, nil)
	require.Error(t, err)
	_, err = correlator.CorrelateProblemDiagnosis(ctx, tx, &maintops.ProblemDiagnosis{})
	require.Error(t, err)
}

func TestCorrelatorLinksEveryOverlappingKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	alarm, err := f.service.SaveAlarmPeriod(ctx, f.alarm("pump-1", date(2024, 3, 1), date(2024, 3, 3)))
	require.NoError(t, err)
	x, err := f.service.SaveAlertPeriod(ctx, alert("pump-1", date(2024, 3, 4), date(2024, 3, 8)))
	require.NoError(t, err)
	// The padded alarm range reaches 2024-03-04.
	require.Equal(t, maintops.AssociationSet{alarm.ID}, x.AlarmPeriodIDs)

	d, err := f.service.SaveProblemDiagnosis(ctx, diagnosis("pump-1", date(2024, 3, 8), time.Time{}))
	require.NoError(t, err)
	require.Empty(t, d.AlarmPeriodIDs)
	require.False(t, d.HasAssociatedAlarmPeriods)
	require.Equal(t, maintops.AssociationSet{x.ID}, d.AlertPeriodIDs)
	require.True(t, d.HasAssociatedAlertPeriods)

	x, err = f.service.GetAlertPeriod(ctx, x.ID)
	require.NoError(t, err)
	require.True(t, x.HasAssociatedProblemDiagnoses)
	require.True(t, x.HasAssociatedAlarmPeriods)
}
