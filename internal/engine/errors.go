package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTest is returned when registering an identifier that
	// already exists in the registry.
	ErrDuplicateTest = errors.New("duplicate test identifier")

	// ErrTestNotFound is returned when looking up an unknown identifier.
	ErrTestNotFound = errors.New("test not found")

	// ErrTimeout marks a body attempt or hook that exceeded the test's
	// timeout. A timeout is terminal for the test; no further attempts run.
	ErrTimeout = errors.New("timed out")
)

// Failure is an assertion-style test failure signaled by the body. It maps
// to a FAILED result; every other body error maps to ERROR.
type Failure struct {
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// Failf returns an assertion failure for the test body to report.
func Failf(format string, args ...interface{}) error {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

// IsFailure reports whether err signals an assertion failure rather than an
// unexpected error.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// ValidationError is a failed state or metric check run by a lifecycle
// extension after a passing body. It downgrades PASSED to FAILED.
type ValidationError struct {
	Check  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Check == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation %q failed: %s", e.Check, e.Reason)
}
