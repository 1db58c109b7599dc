package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sciler-device/internal/device"
	"github.com/nerrad567/sciler-device/internal/envelope"
)

// recordingNotifier captures a status snapshot on every notification.
type recordingNotifier struct {
	mu        sync.Mutex
	scanner   *Scanner
	snapshots []device.Status
}

func (r *recordingNotifier) StatusChanged() {
	snap := r.scanner.Status()
	r.mu.Lock()
	r.snapshots = append(r.snapshots, snap)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []device.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.Status(nil), r.snapshots...)
}

func newTestScanner() (*Scanner, *recordingNotifier) {
	s := New()
	n := &recordingNotifier{scanner: s}
	s.SetNotifier(n)
	return s, n
}

func TestNew_InitialStatus(t *testing.T) {
	s := New()
	assert.Equal(t, device.Status{"code": 0, "scanned": []int{0, 0}}, s.Status())
}

func TestStatus_ReturnsCopy(t *testing.T) {
	s := New()
	status := s.Status()
	status["scanned"].([]int)[0] = 99

	assert.Equal(t, []int{0, 0}, s.Status()["scanned"])
}

func TestIncomingInstruction_ScanScenario(t *testing.T) {
	s, n := newTestScanner()

	err := device.Execute(s, json.RawMessage(`42`))
	require.NoError(t, err)

	want := device.Status{"code": 42, "scanned": []int{0, 0, 42}}
	assert.Equal(t, want, s.Status())
	require.Len(t, n.all(), 1)
	assert.Equal(t, want, n.all()[0])

	data, err := envelope.Encode(envelope.TypeStatus, n.all()[0], "scanner1")
	require.NoError(t, err)
	env, err := envelope.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "scanner1", env.DeviceID)
	assert.Equal(t, envelope.TypeStatus, env.Type)
	assert.JSONEq(t, `{"code":42,"scanned":[0,0,42]}`, string(env.Payload))
}

func TestIncomingInstruction(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantStatus  device.Status
		wantNotices int
	}{
		{
			name:        "test only logs",
			payload:     `{"instruction":"test"}`,
			wantStatus:  device.Status{"code": 7, "scanned": []int{0, 0, 7}},
			wantNotices: 0,
		},
		{
			name:        "reset",
			payload:     `"reset"`,
			wantStatus:  device.Status{"code": 0, "scanned": []int{0, 0}},
			wantNotices: 1,
		},
		{
			name:        "status update",
			payload:     `[{"instruction":"status update"}]`,
			wantStatus:  device.Status{"code": 7, "scanned": []int{0, 0, 7}},
			wantNotices: 1,
		},
		{
			name:        "list of instructions reports once",
			payload:     `[{"instruction":"reset"},{"instruction":"status update"}]`,
			wantStatus:  device.Status{"code": 0, "scanned": []int{0, 0}},
			wantNotices: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.record(7)
			n := &recordingNotifier{scanner: s}
			s.SetNotifier(n)

			require.NoError(t, s.IncomingInstruction(json.RawMessage(tt.payload)))
			assert.Equal(t, tt.wantStatus, s.Status())
			assert.Len(t, n.all(), tt.wantNotices)
		})
	}
}

func TestIncomingInstruction_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantAction string
		wantErr    error
	}{
		{name: "unknown name", payload: `{"instruction":"open"}`, wantAction: "open", wantErr: device.ErrUnknownInstruction},
		{name: "fractional code", payload: `42.5`, wantAction: "42.5", wantErr: device.ErrInvalidInstruction},
		{name: "boolean", payload: `true`, wantAction: "true", wantErr: device.ErrInvalidInstruction},
		{name: "null", payload: `null`, wantAction: "null", wantErr: device.ErrInvalidInstruction},
		{name: "object without name", payload: `{"code":1}`, wantAction: `{"code":1}`, wantErr: device.ErrInvalidInstruction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, n := newTestScanner()

			err := device.Execute(s, json.RawMessage(tt.payload))
			require.Error(t, err)

			ie, ok := device.AsInstructionError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantAction, ie.Action)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Empty(t, n.all(), "invalid instruction must not report a status change")
			assert.Equal(t, device.Status{"code": 0, "scanned": []int{0, 0}}, s.Status())
		})
	}
}

func TestIncomingInstruction_PartialListReportsPerformedWork(t *testing.T) {
	s, n := newTestScanner()

	err := s.IncomingInstruction(json.RawMessage(`[{"instruction":"status update"},{"instruction":"open"}]`))
	require.Error(t, err)

	ie, ok := device.AsInstructionError(err)
	require.True(t, ok)
	assert.Equal(t, "open", ie.Action)
	assert.Len(t, n.all(), 1)
}

func TestRun_ReadsCodes(t *testing.T) {
	s, n := newTestScanner()

	input := "12\n\nnot-a-code\n  34  \n56\n"
	err := s.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, device.Status{"code": 56, "scanned": []int{0, 0, 12, 34, 56}}, s.Status())

	snapshots := n.all()
	require.Len(t, snapshots, 3)
	assert.Equal(t, 12, snapshots[0]["code"])
	assert.Equal(t, 34, snapshots[1]["code"])
	assert.Equal(t, 56, snapshots[2]["code"])
}

func TestRun_ContextCancel(t *testing.T) {
	s := New()
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, pr) }()

	_, err := pw.Write([]byte("5\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Status()["code"] == 5
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ReadError(t *testing.T) {
	s := New()
	boom := errors.New("device unplugged")
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("9\n"))
		pw.CloseWithError(boom)
	}()

	err := s.Run(context.Background(), pr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 9, s.Status()["code"])
}

func TestConcurrentScanAndInstruction(t *testing.T) {
	s := New()
	var notices atomic.Int64
	s.SetNotifier(device.NotifierFunc(func() { notices.Add(1) }))

	const perWorker = 100
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perWorker; i++ {
			s.Scan(i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perWorker; i++ {
			_ = s.IncomingInstruction(json.RawMessage(`"status update"`))
			_ = s.Status()
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(2*perWorker), notices.Load())
	assert.Len(t, s.Status()["scanned"], 2+perWorker)
}
