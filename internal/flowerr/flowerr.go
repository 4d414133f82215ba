// Package flowerr defines the error kinds surfaced by the workflow subsystem.
//
// Every failure returned by the definition, session and stage services either
// is, or wraps, one of the sentinel kinds below. Callers branch with errors.Is
// and pull caller-facing detail (outstanding checklist items, validation
// problems) with Details.
package flowerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidState       = errors.New("invalid state")
	ErrConflict           = errors.New("conflict")
	ErrIncompleteStage    = errors.New("stage incomplete")
	ErrIncompleteWorkflow = errors.New("workflow incomplete")
	ErrNoNextStage        = errors.New("no next stage")
)

// Error is a kinded error with optional details.
type Error struct {
	Kind    error
	Message string
	Details []string
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Details, "; "))
}

// Unwrap exposes the kind so errors.Is matches it.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, details []string, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Details: details,
	}
}

// NotFound reports a missing workflow, stage, session or stage instance.
func NotFound(format string, args ...any) error {
	return newError(ErrNotFound, nil, format, args...)
}

// Validation reports a malformed definition. Each problem becomes a detail.
func Validation(problems []string, format string, args ...any) error {
	return newError(ErrValidation, problems, format, args...)
}

// InvalidState reports an operation the current status does not permit.
func InvalidState(format string, args ...any) error {
	return newError(ErrInvalidState, nil, format, args...)
}

// Conflict reports an ownership or uniqueness violation.
func Conflict(format string, args ...any) error {
	return newError(ErrConflict, nil, format, args...)
}

// IncompleteStage lists the checklist items still outstanding.
func IncompleteStage(outstanding []string, format string, args ...any) error {
	return newError(ErrIncompleteStage, outstanding, format, args...)
}

// IncompleteWorkflow reports a completion request before the terminal stage is done.
func IncompleteWorkflow(details []string, format string, args ...any) error {
	return newError(ErrIncompleteWorkflow, details, format, args...)
}

// NoNextStage reports a non-terminal stage with nowhere to go.
func NoNextStage(format string, args ...any) error {
	return newError(ErrNoNextStage, nil, format, args...)
}

// Details returns the details of the first *Error in err's chain.
func Details(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// Kind returns the sentinel kind of err, or nil when err is not kinded.
func Kind(err error) error {
	for _, kind := range []error{
		ErrNotFound,
		ErrValidation,
		ErrInvalidState,
		ErrConflict,
		ErrIncompleteStage,
		ErrIncompleteWorkflow,
		ErrNoNextStage,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
