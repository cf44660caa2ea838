package experiment

import (
	"errors"
	"fmt"
)

var (
	// ErrExperimentNotFound indicates that the experiment does not exist.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrExperimentExists indicates that an experiment with the same id exists.
	ErrExperimentExists = errors.New("experiment already exists")

	// ErrAssignmentNotFound indicates that the user has not been assigned.
	ErrAssignmentNotFound = errors.New("experiment assignment not found")

	// ErrInvalidExperiment indicates malformed variants or allocation.
	ErrInvalidExperiment = errors.New("invalid experiment parameters")

	// ErrUserIDRequired indicates a call without a user id.
	ErrUserIDRequired = errors.New("user id is required")

	// ErrInvalidEvent indicates a conversion event that cannot be recorded.
	ErrInvalidEvent = errors.New("invalid conversion event")

	// ErrInvalidTransition indicates a lifecycle operation the current
	// status does not allow.
	ErrInvalidTransition = errors.New("invalid experiment status transition")

	// ErrConcurrentUpdate indicates that the experiment changed between
	// read and write.
	ErrConcurrentUpdate = errors.New("experiment was modified concurrently")
)

// TransitionError reports which lifecycle action was refused and why.
type TransitionError struct {
	From   Status
	Action Action
	// Reason is set when a guard rejected an otherwise legal transition.
	Reason error
}

func (e *TransitionError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("cannot %s experiment in status %q: %v", e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("cannot %s experiment in status %q", e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func (e *TransitionError) Unwrap() error {
	return e.Reason
}

// IsValidationError reports whether err was caused by rejected input,
// including illegal lifecycle transitions.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidExperiment) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrUserIDRequired) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrExperimentExists)
}
