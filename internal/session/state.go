package session

// State is the connection state of a session.
type State int32

const (
	// StateDisconnected is the initial state and the state after an
	// orderly shutdown or a lost connection.
	StateDisconnected State = iota

	// StateConnecting means a transport connection attempt is in flight.
	StateConnecting

	// StateConnected means the transport is up and the session is serving.
	StateConnected

	// StateFailed means the last connection attempt failed and the session
	// is waiting to retry.
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states serialise by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
