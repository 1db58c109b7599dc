package session

// Recorder observes envelopes crossing the session boundary.
//
// Calls are made from the session's own goroutines and must return quickly.
type Recorder interface {
	// RecordOutbound is called after an envelope was published.
	RecordOutbound(topic string, env []byte)

	// RecordInbound is called for every inbound message once it has been
	// handled. err is nil on success, otherwise the decode or instruction error.
	RecordInbound(topic string, raw []byte, err error)
}

// Recorders fans calls out to every recorder in order.
type Recorders []Recorder

// RecordOutbound implements Recorder.
func (rs Recorders) RecordOutbound(topic string, env []byte) {
	for _, r := range rs {
		r.RecordOutbound(topic, env)
	}
}

// RecordInbound implements Recorder.
func (rs Recorders) RecordInbound(topic string, raw []byte, err error) {
	for _, r := range rs {
		r.RecordInbound(topic, raw, err)
	}
}
