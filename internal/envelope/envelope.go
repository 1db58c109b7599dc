package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the time_sent format (DD-MM-YYYY HH:MM:SS).
const TimeLayout = "02-01-2006 15:04:05"

// MaxSize is the largest envelope accepted in either direction (1MB),
// matching the transport's publish limit.
const MaxSize = 1 << 20

// Type identifies what an envelope's payload contains.
type Type string

// Envelope types.
const (
	TypeConnection Type = "connection"
	TypeStatus     Type = "status"
	TypeCommand    Type = "command"

	// TypeInstruction is what the back-end puts on instructions it routes
	// to devices. It is handled exactly like TypeCommand.
	TypeInstruction Type = "instruction"
)

// IsCommand reports whether the envelope type carries a device instruction.
func (t Type) IsCommand() bool {
	return t == TypeCommand || t == TypeInstruction
}

// ConnectionPayload is the payload of a connection envelope.
type ConnectionPayload struct {
	Connection bool `json:"connection"`
}

// Envelope is a decoded wire message.
type Envelope struct {
	DeviceID string
	Type     Type

	// TimeSent is the raw time_sent field; SentAt is its parsed value.
	// Both are zero when the sender omitted the field.
	TimeSent string
	SentAt   time.Time

	// Payload is the raw JSON found under "contents" (or "message").
	Payload json.RawMessage
}

// Unmarshal decodes the payload into v.
func (e *Envelope) Unmarshal(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// wireEnvelope is the on-the-wire layout.
type wireEnvelope struct {
	DeviceID string          `json:"device_id"`
	TimeSent string          `json:"time_sent,omitempty"`
	Type     Type            `json:"type"`
	Message  json.RawMessage `json:"message,omitempty"`
	Contents json.RawMessage `json:"contents,omitempty"`
}

// Encode serialises payload into an envelope stamped with the current time.
func Encode(t Type, payload any, deviceID string) ([]byte, error) {
	return EncodeAt(t, payload, deviceID, time.Now())
}

// EncodeAt is Encode with an explicit send time.
func EncodeAt(t Type, payload any, deviceID string, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %w", ErrSerialization, t, err)
	}

	w := wireEnvelope{
		DeviceID: deviceID,
		TimeSent: at.Format(TimeLayout),
		Type:     t,
	}
	if t == TypeConnection {
		w.Message = raw
	} else {
		w.Contents = raw
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: envelope size %d exceeds maximum %d bytes", ErrSerialization, len(data), MaxSize)
	}

	return data, nil
}

// Decode parses a wire envelope.
//
// It fails with ErrMalformedEnvelope when data is not a JSON object, when
// device_id, type or the payload key is missing, or when time_sent is
// present but not in TimeLayout.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: size %d exceeds maximum %d bytes", ErrMalformedEnvelope, len(data), MaxSize)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedEnvelope)
	}

	var w wireEnvelope
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	if w.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrMalformedEnvelope)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrMalformedEnvelope)
	}

	env := &Envelope{
		DeviceID: w.DeviceID,
		Type:     w.Type,
		TimeSent: w.TimeSent,
		Payload:  w.Contents,
	}
	if len(env.Payload) == 0 {
		env.Payload = w.Message
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s envelope has no payload", ErrMalformedEnvelope, w.Type)
	}

	if w.TimeSent != "" {
		sentAt, err := time.ParseInLocation(TimeLayout, w.TimeSent, time.Local)
		if err != nil {
			return nil, fmt.Errorf("%w: time_sent: %w", ErrMalformedEnvelope, err)
		}
		env.SentAt = sentAt
	}

	return env, nil
}
