package envelope

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Encode
// =============================================================================

func TestEncodeAt_StatusLayout(t *testing.T) {
	at := time.Date(2026, time.October, 17, 9, 5, 3, 0, time.Local)
	payload := map[string]any{"code": 42, "scanned": []int{0, 0, 42}}

	data, err := EncodeAt(TypeStatus, payload, "scanner1", at)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"device_id": "scanner1",
		"time_sent": "17-10-2026 09:05:03",
		"type": "status",
		"contents": {"code": 42, "scanned": [0, 0, 42]}
	}`, string(data))
}

func TestEncodeAt_ConnectionUsesMessageKey(t *testing.T) {
	at := time.Date(2026, time.January, 2, 23, 59, 59, 0, time.Local)

	data, err := EncodeAt(TypeConnection, ConnectionPayload{Connection: true}, "scanner1", at)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"device_id": "scanner1",
		"time_sent": "02-01-2026 23:59:59",
		"type": "connection",
		"message": {"connection": true}
	}`, string(data))
}

func TestEncode_FreshTimestamp(t *testing.T) {
	before := time.Now().Truncate(time.Second)
	data, err := Encode(TypeStatus, map[string]any{}, "scanner1")
	require.NoError(t, err)
	after := time.Now()

	env, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, env.SentAt.Before(before), "time_sent %v before %v", env.SentAt, before)
	assert.False(t, env.SentAt.After(after), "time_sent %v after %v", env.SentAt, after)
}

func TestEncode_SerializationFailure(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{name: "channel", payload: make(chan int)},
		{name: "function", payload: func() {}},
		{name: "NaN", payload: map[string]any{"code": math.NaN()}},
		{name: "too large", payload: strings.Repeat("x", MaxSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(TypeStatus, tt.payload, "scanner1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSerialization), "got %v", err)
		})
	}
}

// =============================================================================
// Round trip
// =============================================================================

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		payload any
	}{
		{name: "connection up", typ: TypeConnection, payload: ConnectionPayload{Connection: true}},
		{name: "connection down", typ: TypeConnection, payload: ConnectionPayload{Connection: false}},
		{name: "status mapping", typ: TypeStatus, payload: map[string]any{"code": 0, "scanned": []int{0, 0}}},
		{name: "nested status", typ: TypeStatus, payload: map[string]any{"door": map[string]any{"open": true, "angle": 12.5}}},
		{name: "empty status", typ: TypeStatus, payload: map[string]any{}},
		{name: "bare number command", typ: TypeCommand, payload: 42},
		{name: "instruction list", typ: TypeInstruction, payload: []map[string]string{{"instruction": "reset"}}},
		{name: "string command", typ: TypeCommand, payload: "test"},
		{name: "null payload", typ: TypeCommand, payload: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.typ, tt.payload, "scanner1")
			require.NoError(t, err)

			env, err := Decode(data)
			require.NoError(t, err)

			want, err := json.Marshal(tt.payload)
			require.NoError(t, err)

			assert.Equal(t, "scanner1", env.DeviceID)
			assert.Equal(t, tt.typ, env.Type)
			assert.JSONEq(t, string(want), string(env.Payload))
		})
	}
}

// =============================================================================
// Decode
// =============================================================================

func TestDecode_BackEndInstruction(t *testing.T) {
	raw := `{
		"device_id": "back-end",
		"time_sent": "05-12-2019 09:42:10",
		"type": "instruction",
		"contents": [{"instruction": "status update"}]
	}`

	env, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "back-end", env.DeviceID)
	assert.True(t, env.Type.IsCommand())
	assert.Equal(t, "05-12-2019 09:42:10", env.TimeSent)
	assert.True(t, env.SentAt.Equal(time.Date(2019, time.December, 5, 9, 42, 10, 0, time.Local)), "SentAt = %v", env.SentAt)

	var contents []map[string]string
	require.NoError(t, env.Unmarshal(&contents))
	assert.Equal(t, "status update", contents[0]["instruction"])
}

func TestDecode_MissingTimeIsAccepted(t *testing.T) {
	env, err := Decode([]byte(`{"device_id":"back-end","type":"command","contents":42}`))
	require.NoError(t, err)
	assert.True(t, env.SentAt.IsZero())
	assert.JSONEq(t, `42`, string(env.Payload))
}

func TestDecode_Malformed(t *testing.T) {
	valid, err := Encode(TypeStatus, map[string]any{"code": 1}, "scanner1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "whitespace", input: "   \n"},
		{name: "not json", input: "alles is kapot"},
		{name: "json array", input: `[1,2,3]`},
		{name: "json number", input: `42`},
		{name: "truncated", input: string(valid[:len(valid)/2])},
		{name: "trailing garbage", input: string(valid) + "}"},
		{name: "missing device id", input: `{"type":"status","contents":{}}`},
		{name: "empty device id", input: `{"device_id":"","type":"status","contents":{}}`},
		{name: "missing type", input: `{"device_id":"scanner1","contents":{}}`},
		{name: "missing payload", input: `{"device_id":"scanner1","type":"status"}`},
		{name: "wrong device id type", input: `{"device_id":7,"type":"status","contents":{}}`},
		{name: "bad time", input: `{"device_id":"scanner1","time_sent":"2026-10-17T09:00:00","type":"status","contents":{}}`},
		{name: "oversized", input: `{"device_id":"` + strings.Repeat("a", MaxSize) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.Nil(t, env)
			assert.True(t, errors.Is(err, ErrMalformedEnvelope), "got %v", err)
		})
	}
}

func TestDecode_EveryTruncationFails(t *testing.T) {
	data, err := Encode(TypeStatus, map[string]any{"code": 42, "scanned": []int{0, 0, 42}}, "scanner1")
	require.NoError(t, err)

	for i := 0; i < len(data); i++ {
		_, err := Decode(data[:i])
		require.Error(t, err, "prefix of length %d decoded", i)
		require.True(t, errors.Is(err, ErrMalformedEnvelope), "prefix %d: %v", i, err)
	}
}

func TestType_IsCommand(t *testing.T) {
	assert.True(t, TypeCommand.IsCommand())
	assert.True(t, TypeInstruction.IsCommand())
	assert.False(t, TypeStatus.IsCommand())
	assert.False(t, TypeConnection.IsCommand())
}
