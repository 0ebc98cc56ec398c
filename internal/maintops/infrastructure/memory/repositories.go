package memory

import (
	"context"
	"fmt"
	"sort"

	maintops "equipment-maintops/internal/maintops/domain"
)

type alarmRepo struct{ tx *memTx }

func (r alarmRepo) Get(ctx context.Context, id int64) (*maintops.AlarmPeriod, error) {
	_ = ctx
	st := r.tx.stateForID(maintops.KindAlarmPeriod, id)
	if st == nil || st.alarms[id] == nil {
		return nil, maintops.NewNotFoundError(string(maintops.KindAlarmPeriod), id)
	}
	return st.hydrateAlarm(st.alarms[id]), nil
}

func (r alarmRepo) ListByInstance(ctx context.Context, equipmentInstanceID string) ([]*maintops.AlarmPeriod, error) {
	return r.list(ctx, equipmentInstanceID, nil)
}

func (r alarmRepo) ListOverlapping(ctx context.Context, equipmentInstanceID string, dr maintops.DateRange) ([]*maintops.AlarmPeriod, error) {
	return r.list(ctx, equipmentInstanceID, &dr)
}

func (r alarmRepo) list(ctx context.Context, instanceID string, dr *maintops.DateRange) ([]*maintops.AlarmPeriod, error) {
	_ = ctx
	st := r.tx.stateFor(instanceID)
	if st == nil {
		return nil, nil
	}
	result := make([]*maintops.AlarmPeriod, 0, len(st.alarms))
	for _, period := range st.alarms {
		if period.EquipmentInstanceID != instanceID {
			continue
		}
		if dr != nil && !period.DateRange.Overlaps(*dr) {
			continue
		}
		result = append(result, st.hydrateAlarm(period))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].FromTimestamp.Equal(result[j].FromTimestamp) {
			return result[i].FromTimestamp.Before(result[j].FromTimestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r alarmRepo) Save(ctx context.Context, period *maintops.AlarmPeriod) error {
	_ = ctx
	if period == nil {
		return maintops.ErrNilRecord
	}
	st, err := r.tx.writableState()
	if err != nil {
		return err
	}
	for _, other := range st.alarms {
		if other.ID != period.ID &&
			other.EquipmentInstanceID == period.EquipmentInstanceID &&
			other.AlarmTypeID == period.AlarmTypeID &&
			other.FromTimestamp.Equal(period.FromTimestamp) {
			return maintops.NewValidationError(string(maintops.KindAlarmPeriod), "from_timestamp",
				"duplicate (equipment_instance, alarm_type, from_timestamp)")
		}
	}
	stored := period.Clone()
	stored.AlertPeriodIDs, stored.ProblemDiagnosisIDs = nil, nil
	if period.ID == 0 {
		stored.ID = r.tx.store.nextID()
		stored.HasAssociatedAlertPeriods = false
		stored.HasAssociatedProblemDiagnoses = false
		period.ID = stored.ID
	} else {
		existing := st.alarms[period.ID]
		if existing == nil {
			return maintops.NewNotFoundError(string(maintops.KindAlarmPeriod), period.ID)
		}
		stored.HasAssociatedAlertPeriods = existing.HasAssociatedAlertPeriods
		stored.HasAssociatedProblemDiagnoses = existing.HasAssociatedProblemDiagnoses
	}
	st.alarms[stored.ID] = stored
	return nil
}

func (r alarmRepo) SetAssociated(ctx context.Context, id int64, with maintops.Kind, value bool) error {
	_ = ctx
	st, err := r.tx.writableState()
	if err != nil {
		return err
	}
	period := st.alarms[id]
	if period == nil {
		return maintops.NewNotFoundError(string(maintops.KindAlarmPeriod), id)
	}
	switch with {
	case maintops.KindAlertPeriod:
		period.HasAssociatedAlertPeriods = value
	case maintops.KindProblemDiagnosis:
		period.HasAssociatedProblemDiagnoses = value
	default:
		return fmt.Errorf("memory alarm repo: unsupported association kind %q", with)
	}
	return nil
}

func (r alarmRepo) MarkAssociated(ctx context.Context, ids []int64, with maintops.Kind) error {
	for _, id := range ids {
		if err := r.SetAssociated(ctx, id, with, true); err != nil {
			return err
		}
	}
	return nil
}

type alertRepo struct{ tx *memTx }

func (r alertRepo) Get(ctx context.Context, id int64) (*maintops.AlertPeriod, error) {
	_ = ctx
	st := r.tx.stateForID(maintops.KindAlertPeriod, id)
	if st == nil || st.alerts[id] == nil {
		return nil, maintops.NewNotFoundError(string(maintops.KindAlertPeriod), id)
	}
	return st.hydrateAlert(st.alerts[id]), nil
}

func (r alertRepo) ListByInstance(ctx context.Context, equipmentInstanceID string) ([]*maintops.AlertPeriod, error) {
	return r.list(ctx, equipmentInstanceID, nil)
}

func (r alertRepo) ListOverlapping(ctx context.Context, equipmentInstanceID string, dr maintops.DateRange) ([]*maintops.AlertPeriod, error) {
	return r.list(ctx, equipmentInstanceID, &dr)
}

func (r alertRepo) list(ctx context.Context, instanceID string, dr *maintops.DateRange) ([]*maintops.AlertPeriod, error) {
	_ = ctx
	st := r.tx.stateFor(instanceID)
	if st == nil {
		return nil, nil
	}
	result := make([]*maintops.AlertPeriod, 0, len(st.alerts))
	for _, period := range st.alerts {
		if period.EquipmentInstanceID != instanceID {
			continue
		}
		if dr != nil && !period.DateRange.Overlaps(*dr) {
			continue
		}
		result = append(result, st.hydrateAlert(period))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].FromDate.Equal(result[j].FromDate) {
			return result[i].FromDate.Before(result[j].FromDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r alertRepo) Save(ctx context.Context, period *maintops.AlertPeriod) error {
	_ = ctx
	if period == nil {
		return maintops.ErrNilRecord
	}
	st, err := r.tx.writableState()
	if err != nil {
		return err
	}
	for _, other := range st.alerts {
		if other.ID == period.ID || !sameScoredSeries(other, period) {
			continue
		}
		if other.FromDate.Equal(period.FromDate) {
			return maintops.NewValidationError(string(maintops.KindAlertPeriod), "from_date",
				"duplicate (group, equipment_instance, risk_score_name, threshold, from_date)")
		}
		if other.ToDate.Equal(period.ToDate) {
			return maintops.NewValidationError(string(maintops.KindAlertPeriod), "to_date",
				"duplicate (group, equipment_instance, risk_score_name, threshold, to_date)")
		}
	}
	stored := period.Clone()
	stored.AlarmPeriodIDs, stored.ProblemDiagnosisIDs = nil, nil
	if period.ID == 0 {
		stored.ID = r.tx.store.nextID()
		stored.HasAssociatedAlarmPeriods = false
		stored.HasAssociatedProblemDiagnoses = false
		period.ID = stored.ID
	} else {
		existing := st.alerts[period.ID]
		if existing == nil {
			return maintops.NewNotFoundError(string(maintops.KindAlertPeriod), period.ID)
		}
		stored.HasAssociatedAlarmPeriods = existing.HasAssociatedAlarmPeriods
		stored.HasAssociatedProblemDiagnoses = existing.HasAssociatedProblemDiagnoses
	}
	st.alerts[stored.ID] = stored
	return nil
}

func sameScoredSeries(a, b *maintops.AlertPeriod) bool {
	return a.GroupID == b.GroupID &&
		a.EquipmentInstanceID == b.EquipmentInstanceID &&
		a.RiskScoreName == b.RiskScoreName &&
		a.Threshold == b.Threshold
}

func (r alertRepo) SetAssociated(ctx context.Context, id int64, with maintops.Kind, value bool) error {
	_ = ctx
	st, err := r.tx.writableState()
	if err != nil {
		return err
	}
	period := st.alerts[id]
	if period == nil {
		return maintops.NewNotFoundError(string(maintops.KindAlertPeriod), id)
	}
	switch with {
	case maintops.KindAlarmPeriod:
		period.HasAssociatedAlarmPeriods = value
	case maintops.KindProblemDiagnosis:
		period.HasAssociatedProblemDiagnoses = value
	default:
		return fmt.Errorf("memory alert repo: unsupported association kind %q", with)
	}
	return nil
}

func (r alertRepo) MarkAssociated(ctx context.Context, ids []int64, with maintops.Kind) error {
	for _, id := range ids {
		if err := r.SetAssociated(ctx, id, with, true); err != nil {
			return err
		}
	}
	return nil
}

type diagnosisRepo struct{ tx *memTx }

func (r diagnosisRepo) Get(ctx context.Context, id int64) (*maintops.ProblemDiagnosis, error) {
	_ = ctx
	st := r.tx.stateForID(maintops.KindProblemDiagnosis, id)
	if st == nil || st.diagnoses[id] == nil {
		return nil, maintops.NewNotFoundError(string(maintops.KindProblemDiagnosis), id)
	}
	return st.hydrateDiagnosis(st.diagnoses[id]), nil
}

func (r diagnosisRepo) ListByInstance(ctx context.Context, equipmentInstanceID string) ([]*maintops.ProblemDiagnosis, error) {
	return r.list(ctx, equipmentInstanceID, nil)
}

func (r diagnosisRepo) ListOverlapping(ctx context.Context, equipmentInstanceID string, dr maintops.DateRange) ([]*maintops.ProblemDiagnosis, error) {
	return r.list(ctx, equipmentInstanceID, &dr)
}

func (r diagnosisRepo) list(ctx context.Context, instanceID string, dr *maintops.DateRange) ([]*maintops.ProblemDiagnosis, error) {
	_ = ctx
	st := r.tx.stateFor(instanceID)
	if st == nil {
		return nil, nil
	}
	result := make([]*maintops.ProblemDiagnosis, 0, len(st.diagnoses))
	for _, diagnosis := range st.diagnoses {
		if diagnosis.EquipmentInstanceID != instanceID {
			continue
		}
		if dr != nil && !diagnosis.DateRange.Overlaps(*dr) {
			continue
		}
		result = append(result, st.hydrateDiagnosis(diagnosis))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].FromDate.Equal(result[j].FromDate) {
			return result[i].FromDate.Before(result[j].FromDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r diagnosisRepo) Save(ctx context.Context, diagnosis *maintops.ProblemDiagnosis) error {
	_ = ctx
	if diagnosis == nil {
		return maintops.ErrNilRecord
	}
	st, err := r.tx.writableState()
	if err != nil {
		return err
	}
	for _, other := range st.diagnoses {
		if other.ID != diagnosis.ID &&
			other.EquipmentInstanceID == diagnosis.EquipmentInstanceID &&
			other.FromDate.Equal(diagnosis.FromDate) {
			return maintops.NewValidationError(string(maintops.KindProblemDiagnosis), "from_date",
				"duplicate (equipment_instance, from_date)")
		}
	}
	stored := diagnosis.Clone()
	stored.AlarmPeriodIDs, stored.AlertPeriodIDs = nil, nil
	if diagnosis.ID == 0 {
		stored.ID = r.tx.store.nextID()
		stored.HasAssociatedAlarmPeriods = false
		stored.HasAssociatedAlertPeriods = false
		diagnosis.ID = stored.ID
	} else {
		existing := st.diagnoses[diagnosis.ID]
		if existing == nil {
			return maintops.NewNotFoundError(string(maintops.KindProblemDiagnosis), diagnosis.ID)
		}
		stored.HasAssociatedAlarmPeriods = existing.HasAssociatedAlarmPeriods
		stored.HasAssociatedAlertPeriods = existing.HasAssociatedAlertPeriods
	}
	st.diagnoses[stored.ID] = stored
	return nil
}

func (r diagnosisRepo) SetAssociated(ctx context.Context, id int64, with maintops.Kind, value bool) error {
	_ = ctx
	st, err := r.tx.writableState()
	if err != nil {
		return err
	}
	diagnosis := st.diagnoses[id]
	if diagnosis == nil {
		return maintops.NewNotFoundError(string(maintops.KindProblemDiagnosis), id)
	}
	switch with {
	case maintops.KindAlarmPeriod:
		diagnosis.HasAssociatedAlarmPeriods = value
	case maintops.KindAlertPeriod:
		diagnosis.HasAssociatedAlertPeriods = value
	default:
		return fmt.Errorf("memory diagnosis repo: unsupported association kind %q", with)
	}
	return nil
}

func (r diagnosisRepo) MarkAssociated(ctx context.Context, ids []int64, with maintops.Kind) error {
	for _, id := range ids {
		if err := r.SetAssociated(ctx, id, with, true); err != nil {
			return err
		}
	}
	return nil
}

type associationRepo struct{ tx *memTx }

func (r associationRepo) ReplaceForAlarmPeriod(ctx context.Context, alarmPeriodID int64, alertPeriodIDs, problemDiagnosisIDs maintops.AssociationSet) error {
	_ = ctx
	st, err := r.tx.writableState()
	if err != nil {
		return err
	}
	replaceLinks(st.alarmAlert, 0, alarmPeriodID, alertPeriodIDs)
	replaceLinks(st.alarmDiag, 0, alarmPeriodID, problemDiagnosisIDs)
	return nil
}

func (r associationRepo) ReplaceForAlertPeriod(ctx context.Context, alertPeriodID int64, alarmPeriodIDs, problemDiagnosisIDs maintops.AssociationSet) error {
	_ = ctx
	st, err := r.tx.writableState()
	if err != nil {
		return err
	}
	replaceLinks(st.alarmAlert, 1, alertPeriodID, alarmPeriodIDs)
	replaceLinks(st.alertDiag, 0, alertPeriodID, problemDiagnosisIDs)
	return nil
}

func (r associationRepo) ReplaceForProblemDiagnosis(ctx context.Context, problemDiagnosisID int64, alarmPeriodIDs, alertPeriodIDs maintops.AssociationSet) error {
	_ = ctx
	st, err := r.tx.writableState()
	if err != nil {
		return err
	}
	replaceLinks(st.alarmDiag, 1, problemDiagnosisID, alarmPeriodIDs)
	replaceLinks(st.alertDiag, 1, problemDiagnosisID, alertPeriodIDs)
	return nil
}

// replaceLinks drops every link whose side `pos` equals id and adds one
// link per other id.
func replaceLinks(links map[link]struct{}, pos int, id int64, others maintops.AssociationSet) {
	for k := range links {
		if k[pos] == id {
			delete(links, k)
		}
	}
	for _, other := range others {
		k := link{id, other}
		if pos == 1 {
			k = link{other, id}
		}
		links[k] = struct{}{}
	}
}

// collectLinks returns the ids on the opposite side of every link whose
// side `pos` equals id.
func collectLinks(links map[link]struct{}, pos int, id int64) maintops.AssociationSet {
	var ids []int64
	for k := range links {
		if k[pos] == id {
			ids = append(ids, k[1-pos])
		}
	}
	return maintops.NewAssociationSet(ids...)
}

func (s *state) hydrateAlarm(p *maintops.AlarmPeriod) *maintops.AlarmPeriod {
	out := p.Clone()
	out.AlertPeriodIDs = collectLinks(s.alarmAlert, 0, p.ID)
	out.ProblemDiagnosisIDs = collectLinks(s.alarmDiag, 0, p.ID)
	return out
}

func (s *state) hydrateAlert(p *maintops.AlertPeriod) *maintops.AlertPeriod {
	out := p.Clone()
	out.AlarmPeriodIDs = collectLinks(s.alarmAlert, 1, p.ID)
	out.ProblemDiagnosisIDs = collectLinks(s.alertDiag, 0, p.ID)
	return out
}

func (s *state) hydrateDiagnosis(d *maintops.ProblemDiagnosis) *maintops.ProblemDiagnosis {
	out := d.Clone()
	out.AlarmPeriodIDs = collectLinks(s.alarmDiag, 1, d.ID)
	out.AlertPeriodIDs = collectLinks(s.alertDiag, 1, d.ID)
	return out
}
