package security

import (
	"errors"
	"fmt"
)

// Sentinel errors for authentication runs.
var (
	// ErrMechanismFailed indicates that a mechanism attempt failed with an
	// underlying I/O error, aborting the whole chain.
	ErrMechanismFailed = errors.New("authentication mechanism failed")

	// ErrAuthenticationCancelled indicates that the request was cancelled
	// while an attempt was in flight.
	ErrAuthenticationCancelled = errors.New("authentication cancelled")
)

// MechanismError wraps a mechanism attempt failure with the mechanism name.
type MechanismError struct {
	Mechanism string
	Cause     error
}

// Error implements the error interface.
func (e *MechanismError) Error() string {
	return fmt.Sprintf("mechanism %s: %v", e.Mechanism, e.Cause)
}

// Unwrap returns the underlying error.
func (e *MechanismError) Unwrap() error {
	return e.Cause
}

// Is matches both the sentinel and the wrapped cause.
func (e *MechanismError) Is(target error) bool {
	return target == ErrMechanismFailed || errors.Is(e.Cause, target)
}

// newMechanismError wraps err with the mechanism name.
func newMechanismError(name string, err error) error {
	return &MechanismError{Mechanism: name, Cause: err}
}
