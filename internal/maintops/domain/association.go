package maintops

import "sort"

// Kind names one of the three correlated entity kinds.
type Kind string

const (
	KindAlarmPeriod      Kind = "alarm_period"
	KindAlertPeriod      Kind = "alert_period"
	KindProblemDiagnosis Kind = "problem_diagnosis"
)

// AssociationSet is a sorted, duplicate-free set of entity ids. It is
// replaced wholesale on every correlation pass.
type AssociationSet []int64

// NewAssociationSet normalises ids into a set.
func NewAssociationSet(ids ...int64) AssociationSet {
	if len(ids) == 0 {
		return AssociationSet{}
	}
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return AssociationSet(out)
}

// Empty reports whether the set has no members.
func (s AssociationSet) Empty() bool { return len(s) == 0 }

// Clone returns an independent copy.
func (s AssociationSet) Clone() AssociationSet {
	return append(AssociationSet{}, s...)
}
