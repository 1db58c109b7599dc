package session

import "errors"

// Domain errors for the session package.
var (
	// ErrConnect wraps a failed transport connection attempt. Connection
	// failures are retried; callers only see this error inside
	// ErrRetriesExhausted.
	ErrConnect = errors.New("session: connect failed")

	// ErrRetriesExhausted is returned by Start when a configured attempt
	// limit is reached without a successful connection.
	ErrRetriesExhausted = errors.New("session: reconnect attempts exhausted")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrNotRunning is returned when work is handed to a session that is
	// not running.
	ErrNotRunning = errors.New("session: not running")
)
