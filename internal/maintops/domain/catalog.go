package maintops

import (
	"regexp"
	"strings"
)

const (
	// DefaultDiagnosisStatusIndex is the initial workflow stage.
	DefaultDiagnosisStatusIndex = 0
	// DefaultDiagnosisStatusName names the initial workflow stage.
	DefaultDiagnosisStatusName = "to_diagnose"
)

var (
	nonWordRun    = regexp.MustCompile(`[^\w]+`)
	underscoreRun = regexp.MustCompile(`_{2,}`)
)

// EquipmentInstance is the external equipment record, referenced by name.
type EquipmentInstance struct {
	ID          string `json:"id" yaml:"id"`
	GeneralType string `json:"general_type" yaml:"general_type"`
	UniqueType  string `json:"unique_type,omitempty" yaml:"unique_type"`
}

// EquipmentProblemType names a kind of equipment problem; alarm types are
// problem types too.
type EquipmentProblemType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Normalize trims the name.
func (p *EquipmentProblemType) Normalize() { p.Name = strings.TrimSpace(p.Name) }

// DiagnosisStatus is an ordered stage of the alert review workflow.
type DiagnosisStatus struct {
	ID    int64  `json:"id"`
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"name" yaml:"name"`
}

// Validate checks index and name.
func (s *DiagnosisStatus) Validate() error {
	if s == nil {
		return ErrNilRecord
	}
	if s.Index < 0 {
		return NewValidationError("diagnosis_status", "index", "negative")
	}
	if CleanLowerName(s.Name) == "" {
		return NewValidationError("diagnosis_status", "name", "required")
	}
	return nil
}

// DefaultDiagnosisStatus returns the initial stage definition.
func DefaultDiagnosisStatus() DiagnosisStatus {
	return DiagnosisStatus{Index: DefaultDiagnosisStatusIndex, Name: DefaultDiagnosisStatusName}
}

// CleanLowerName collapses non-word runs to single underscores, trims them
// from the ends and lower-cases the result.
func CleanLowerName(s string) string {
	s = nonWordRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}
