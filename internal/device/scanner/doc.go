// Package scanner implements a barcode scanner device.
//
// The scanner keeps the last scanned code and the history of every code
// seen since the last reset. Codes arrive either from an input stream
// (one integer per line, see Run) or as numeric instructions from the
// broker. Every change is reported through the device.Notifier.
//
// Status shape:
//
//	{"code": 42, "scanned": [0, 0, 42]}
//
// Supported instructions:
//   - a JSON number: records the number as a scanned code
//   - "test": writes a log line, state is unchanged
//   - "reset": code 0, history [0, 0]
//   - "status update": reports the current status without changing it
package scanner
