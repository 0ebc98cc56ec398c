package maintops

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a rejected write: missing field, bad range or a
	// uniqueness conflict.
	ErrValidation = errors.New("maintops: validation failed")
	// ErrNotFound marks a missing entity or reference.
	ErrNotFound = errors.New("maintops: not found")
	// ErrInvalidDateRange is returned when a range cannot be built.
	ErrInvalidDateRange = errors.New("maintops: invalid date range")
	// ErrNilRecord is returned when saving a nil record.
	ErrNilRecord = errors.New("maintops: nil record")
)

// Error kinds surfaced to callers.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindInternal   = "internal"
)

// ValidationError describes why a write was rejected.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("maintops: invalid %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("maintops: invalid %s.%s: %s", e.Entity, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(entity, field, reason string) *ValidationError {
	return &ValidationError{Entity: entity, Field: field, Reason: reason}
}

// NotFoundError reports a missing entity or referenced id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("maintops: %s %q not found", e.Entity, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// ConsistencyWarning is a non-fatal report that an overlap candidate
// belonged to another equipment instance and was left out.
type ConsistencyWarning struct {
	Source            Kind
	SourceID          int64
	Target            Kind
	TargetID          int64
	ExpectedInstance  string
	CandidateInstance string
}

func (w ConsistencyWarning) String() string {
	return fmt.Sprintf("%s %d: skipped %s %d of equipment instance %q (expected %q)",
		w.Source, w.SourceID, w.Target, w.TargetID, w.CandidateInstance, w.ExpectedInstance)
}

// ErrorKind classifies an error for the external REST/admin layer.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidDateRange), errors.Is(err, ErrNilRecord):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
