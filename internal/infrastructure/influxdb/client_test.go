package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sciler-device/internal/envelope"
	"github.com/nerrad567/sciler-device/internal/infrastructure/config"
	"github.com/nerrad567/sciler-device/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/ping" || r.URL.Path == "/health":
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeInflux) contains(prefix string) bool {
	for _, line := range f.written() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func startFake(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "sciler",
		Bucket:        "devices",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Connection
// =============================================================================

func TestConnect(t *testing.T) {
	_, cfg := startFake(t)
	client := connect(t, cfg)

	assert.True(t, client.IsConnected())
	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestConnect_Disabled(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{Enabled: false})
	assert.True(t, errors.Is(err, influxdb.ErrDisabled), "got %v", err)
}

func TestConnect_Unreachable(t *testing.T) {
	_, cfg := startFake(t)
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg)
	assert.True(t, errors.Is(err, influxdb.ErrConnectionFailed), "got %v", err)
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	_, cfg := startFake(t)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client := connect(t, cfg)
	assert.True(t, client.IsConnected())
}

func TestClose(t *testing.T) {
	_, cfg := startFake(t)
	client, err := influxdb.Connect(cfg)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
	assert.True(t, errors.Is(client.HealthCheck(context.Background()), influxdb.ErrNotConnected))

	// Writes and flushes after close are dropped silently.
	client.WriteConnection("scanner1", true, time.Now())
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client influxdb.Client
	assert.NoError(t, client.Close())
}

// =============================================================================
// Writes
// =============================================================================

func TestWriteStatus_NumericAndBoolComponents(t *testing.T) {
	fake, cfg := startFake(t)
	client := connect(t, cfg)

	client.WriteStatus("scanner1", map[string]any{
		"code":    float64(42),
		"scanned": []any{0.0, 0.0, 42.0},
		"label":   "ignored",
		"door":    map[string]any{"open": true, "angle": 12.5},
	}, time.Now())
	client.Flush()

	require.Eventually(t, func() bool { return len(fake.written()) >= 3 }, 2*time.Second, 10*time.Millisecond)

	assert.True(t, fake.contains("device_status,component=code,device_id=scanner1 value=42"), "lines: %v", fake.written())
	assert.True(t, fake.contains("device_status,component=door.angle,device_id=scanner1 value=12.5"), "lines: %v", fake.written())
	assert.True(t, fake.contains("device_status,component=door.open,device_id=scanner1 state=true"), "lines: %v", fake.written())
	assert.Len(t, fake.written(), 3)
}

func TestRecordOutbound(t *testing.T) {
	fake, cfg := startFake(t)
	client := connect(t, cfg)

	conn, err := envelope.Encode(envelope.TypeConnection, envelope.ConnectionPayload{Connection: true}, "scanner1")
	require.NoError(t, err)
	status, err := envelope.Encode(envelope.TypeStatus, map[string]any{"code": 7}, "scanner1")
	require.NoError(t, err)

	client.RecordOutbound("connection", conn)
	client.RecordOutbound("status", status)
	client.RecordOutbound("status", []byte("not an envelope"))
	client.Flush()

	require.Eventually(t, func() bool { return len(fake.written()) >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, fake.contains("device_connection,device_id=scanner1 connected=true"), "lines: %v", fake.written())
	assert.True(t, fake.contains("device_status,component=code,device_id=scanner1 value=7"), "lines: %v", fake.written())
}

func TestRecordInbound(t *testing.T) {
	fake, cfg := startFake(t)
	client := connect(t, cfg)

	client.RecordInbound("test", []byte("{}"), errors.New("malformed"))
	client.Flush()

	require.Eventually(t, func() bool {
		return fake.contains("device_instruction,topic=test failed=true")
	}, 2*time.Second, 10*time.Millisecond)
}
