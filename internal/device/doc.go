// Package device defines the contract between the broker session and a
// concrete device.
//
// A device exposes two things to the session:
//
//   - Status: a synchronous, side-effect free snapshot of its components,
//     published verbatim as the contents of a status envelope.
//   - IncomingInstruction: the entry point for instructions routed from the
//     control topic. Failures come back as *InstructionError, never as a
//     panic across the boundary.
//
// In the other direction the device holds a Notifier and calls
// StatusChanged whenever its state changes. StatusChanged is safe to call
// from any goroutine, including the device's own input loop.
//
// Instruction payloads arrive in the shapes the back-end produces: a bare
// JSON value (a scanned code), a single {"instruction": "..."} object, or a
// list of those. ParseInstructions normalises all three.
package device
