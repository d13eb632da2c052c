package azim

import (
	"errors"
	"fmt"
)

// Distinct sentinel outcomes so callers can tell a sequencing mistake from
// a bad descriptor or a no-op toggle.
var (
	// ErrInvalidState reports an operation invoked before its predecessor
	// lifecycle state was reached.
	ErrInvalidState = errors.New("operation not permitted in current lifecycle state")

	// ErrInvalidConfig reports a descriptor or argument the integrator
	// refuses to work with.
	ErrInvalidConfig = errors.New("invalid integration configuration")

	// ErrNothingToUndo is returned by unset operations when the feature was
	// not enabled. It is an outcome, not a failure.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrDeviceMemory reports that the buffer set would not fit in the
	// device's reported memory budget. No device call is made in that case.
	ErrDeviceMemory = errors.New("insufficient device memory for buffer set")
)

// backendErr wraps a failed backend call, keeping its diagnostic text.
func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
