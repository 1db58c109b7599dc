package device

import (
	"encoding/json"
	"fmt"
)

// Status is a snapshot of a device's components, keyed by component name.
// Values must be JSON-serialisable.
type Status map[string]any

// Adapter is implemented by concrete devices and consumed by the session.
type Adapter interface {
	// Status returns the current snapshot. It must not block and must not
	// return a map the device keeps mutating.
	Status() Status

	// IncomingInstruction performs the instruction carried by payload.
	// A non-nil error means the instruction was invalid or not performed.
	IncomingInstruction(payload json.RawMessage) error
}

// Notifier receives state-change notifications from a device.
type Notifier interface {
	StatusChanged()
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func()

// StatusChanged implements Notifier.
func (f NotifierFunc) StatusChanged() { f() }

// Execute runs an instruction against a, converting every failure into an
// *InstructionError. Panics in device code are recovered.
func Execute(a Adapter, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InstructionError{
				Action: actionOf(payload),
				Err:    fmt.Errorf("%w: %v", ErrInstructionPanicked, r),
			}
		}
	}()

	if err := a.IncomingInstruction(payload); err != nil {
		if _, ok := AsInstructionError(err); ok {
			return err
		}
		return &InstructionError{Action: actionOf(payload), Err: err}
	}
	return nil
}

// actionOf names a payload for error reports.
func actionOf(payload json.RawMessage) string {
	instructions, err := ParseInstructions(payload)
	if err != nil || len(instructions) == 0 {
		return string(payload)
	}
	return instructions[0].Action()
}
