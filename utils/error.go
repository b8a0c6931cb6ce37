package utils

import (
	"errors"
	"fmt"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

// FieldError is a field-scoped validation failure. Step confirmation surfaces
// these without advancing the workflow and without side effects.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// ConflictError reports an entity-uniqueness violation (name, reference, EAN).
// Checked synchronously before commit, never silently merged.
type ConflictError struct {
	Field string
	Value string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Field, e.Value)
}

func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

// InconsistentStateError is the fatal partial-commit case: some commit steps
// were applied and the failing step could not be rolled back. Callers must be
// able to tell it apart from ordinary validation and external failures.
type InconsistentStateError struct {
	Step        string
	Cause       error
	RollbackErr error
}

func (e InconsistentStateError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("inconsistent state at %s: %v (rollback also failed: %v)", e.Step, e.Cause, e.RollbackErr)
	}
	return fmt.Sprintf("inconsistent state at %s: %v", e.Step, e.Cause)
}

func (e InconsistentStateError) Unwrap() error {
	return e.Cause
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
