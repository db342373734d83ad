package dawn

import (
	"errors"
	"fmt"
)

// Errors reported by devices, encoders and command streams.
var (
	// ErrValidation is the root of every encoding and object-creation error.
	ErrValidation = errors.New("dawn: validation error")

	// ErrOutOfMemory is reported when a command allocator exceeds its budget.
	ErrOutOfMemory = errors.New("dawn: out of memory")

	// ErrDeviceLost is returned by every operation on a lost device.
	ErrDeviceLost = errors.New("dawn: device lost")

	// ErrCommandsConsumed is returned when a command stream is freed or
	// executed a second time.
	ErrCommandsConsumed = errors.New("dawn: command stream already consumed")

	// ErrCommandMismatch is the panic value when a record is read as a
	// type that does not match its tag.
	ErrCommandMismatch = errors.New("dawn: command record type mismatch")

	// ErrIteratorState is the panic value for iterator calls that are not
	// valid in the current iterator state.
	ErrIteratorState = errors.New("dawn: invalid command iterator state")

	// ErrAllocatorFinished is the panic value for allocations after Finish.
	ErrAllocatorFinished = errors.New("dawn: command allocator is finished")

	// ErrUnknownBackend is returned by NewDevice for unregistered names.
	ErrUnknownBackend = errors.New("dawn: unknown backend")
)

// validationErrorf wraps ErrValidation with a formatted message.
func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
