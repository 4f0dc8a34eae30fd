package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("appointment not found")
	ErrConflict = errors.New("appointment identity already exists")
)

// ValidationError reports a malformed field value. It is raised before any
// I/O and is never retried.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s=%v: %s", e.Field, e.Value, e.Msg)
}

func newValidationError(field string, value any, msg string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Msg: msg}
}

// DomainError reports an illegal state transition on an otherwise valid
// aggregate, such as completing an already-completed appointment.
type DomainError struct {
	Code string
	Msg  string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

const (
	CodeAlreadyCompleted    = "ALREADY_COMPLETED"
	CodeCannotFailCompleted = "CANNOT_FAIL_COMPLETED"
)

// InfrastructureError wraps a store or broker failure with the operation
// that was being attempted.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure in %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func NewInfrastructureError(op string, err error) *InfrastructureError {
	return &InfrastructureError{Op: op, Err: err}
}
