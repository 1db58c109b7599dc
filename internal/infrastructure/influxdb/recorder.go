package influxdb

import (
	"time"

	"github.com/nerrad567/sciler-device/internal/envelope"
)

// RecordOutbound implements session.Recorder. Status and connection
// envelopes become points; anything else is ignored.
func (c *Client) RecordOutbound(_ string, data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		return
	}

	at := env.SentAt
	if at.IsZero() {
		at = time.Now()
	}

	switch env.Type {
	case envelope.TypeStatus:
		var status map[string]any
		if err := env.Unmarshal(&status); err != nil {
			return
		}
		c.WriteStatus(env.DeviceID, status, at)
	case envelope.TypeConnection:
		var conn envelope.ConnectionPayload
		if err := env.Unmarshal(&conn); err != nil {
			return
		}
		c.WriteConnection(env.DeviceID, conn.Connection, at)
	}
}

// RecordInbound implements session.Recorder.
func (c *Client) RecordInbound(topic string, _ []byte, err error) {
	c.WriteInstruction(topic, err != nil, time.Now())
}
