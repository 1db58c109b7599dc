package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownInstruction) {
//	    // the device does not implement that instruction
//	}
var (
	// ErrInvalidInstruction is returned when an instruction payload has an unusable shape.
	ErrInvalidInstruction = errors.New("device: invalid instruction")

	// ErrUnknownInstruction is returned when a device does not implement an instruction.
	ErrUnknownInstruction = errors.New("device: unknown instruction")

	// ErrInstructionPanicked wraps a recovered panic from device code.
	ErrInstructionPanicked = errors.New("device: instruction panicked")
)

// InstructionError reports an instruction the device could not perform.
// Action names the instruction (or raw value) that failed.
type InstructionError struct {
	Action string
	Err    error
}

// Error implements error.
func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %q failed: %v", e.Action, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InstructionError) Unwrap() error {
	return e.Err
}

// AsInstructionError extracts an *InstructionError from err, if any.
func AsInstructionError(err error) (*InstructionError, bool) {
	var ie *InstructionError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
