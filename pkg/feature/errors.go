package feature

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFlagNotFound indicates that the requested feature flag was not found.
	ErrFlagNotFound = errors.New("feature flag not found")

	// ErrOverrideNotFound indicates that the user has no override for the feature.
	ErrOverrideNotFound = errors.New("feature override not found")

	// ErrInvalidFlag indicates that the provided flag parameters are invalid.
	ErrInvalidFlag = errors.New("invalid feature flag parameters")

	// ErrCyclicParent indicates that a parent reference would create a cycle.
	ErrCyclicParent = errors.New("feature flag parent creates a cycle")

	// ErrHasChildren indicates that a flag is still referenced as a parent.
	ErrHasChildren = errors.New("feature flag still has children")

	// ErrPartialFailure indicates that a bulk toggle only partially applied.
	ErrPartialFailure = errors.New("feature flag bulk update partially failed")
)

// PartialFailureError lists the flags a bulk toggle could not update.
// Updates that succeeded are kept; callers retry the failed names individually.
type PartialFailureError struct {
	Failed []string
	Errs   map[string]error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPartialFailure, strings.Join(e.Failed, ", "))
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

// IsValidationError reports whether err was caused by rejected input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidFlag) || errors.Is(err, ErrCyclicParent) || errors.Is(err, ErrHasChildren)
}
