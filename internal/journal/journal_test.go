package journal

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sciler-device/internal/envelope"
	"github.com/nerrad567/sciler-device/internal/infrastructure/config"
	"github.com/nerrad567/sciler-device/internal/infrastructure/database"
	"github.com/nerrad567/sciler-device/migrations"
)

// openTestJournal creates a migrated database in a temp dir.
func openTestJournal(t *testing.T) *Journal {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background(), migrations.FS))
	return New(db.DB)
}

type captureLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func TestRecordOutbound_DecodesEnvelope(t *testing.T) {
	j := openTestJournal(t)

	data, err := envelope.Encode(envelope.TypeStatus, map[string]any{"code": 42}, "scanner1")
	require.NoError(t, err)

	j.RecordOutbound("status", data)

	entries, err := j.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, Outbound, e.Direction)
	assert.Equal(t, "status", e.Topic)
	assert.Equal(t, "status", e.Type)
	assert.Equal(t, "scanner1", e.DeviceID)
	assert.JSONEq(t, string(data), e.Payload)
	assert.Empty(t, e.Error)
	assert.WithinDuration(t, time.Now(), e.CreatedAt, 5*time.Second)
}

func TestRecordInbound_MalformedKeepsRawAndError(t *testing.T) {
	j := openTestJournal(t)

	j.RecordInbound("test", []byte("alles is kapot"), errors.New("malformed envelope"))

	entries, err := j.List(context.Background(), Filter{Direction: Inbound})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "alles is kapot", entries[0].Payload)
	assert.Equal(t, "malformed envelope", entries[0].Error)
	assert.Empty(t, entries[0].Type)
	assert.Empty(t, entries[0].DeviceID)
}

func TestRecord_WriteFailureIsLogged(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "bare.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// No migrations: the insert fails.
	j := New(db.DB)
	logger := &captureLogger{}
	j.SetLogger(logger)

	j.RecordOutbound("status", []byte(`{}`))

	assert.Equal(t, []string{"journal write failed"}, logger.msgs)
}

// =============================================================================
// List
// =============================================================================

func TestList_NewestFirstAndFilters(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, time.October, 17, 9, 0, 0, 0, time.UTC)

	seed := []Entry{
		{Direction: Outbound, Topic: "connection", Payload: "a", CreatedAt: base},
		{Direction: Inbound, Topic: "test", Payload: "b", CreatedAt: base.Add(time.Second)},
		{Direction: Outbound, Topic: "status", Payload: "c", CreatedAt: base.Add(1500 * time.Millisecond)},
		{Direction: Outbound, Topic: "status", Payload: "d", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range seed {
		require.NoError(t, j.Append(ctx, &seed[i]))
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all", filter: Filter{}, want: []string{"d", "c", "b", "a"}},
		{name: "outbound", filter: Filter{Direction: Outbound}, want: []string{"d", "c", "a"}},
		{name: "inbound", filter: Filter{Direction: Inbound}, want: []string{"b"}},
		{name: "topic", filter: Filter{Topic: "status"}, want: []string{"d", "c"}},
		{name: "limit", filter: Filter{Limit: 2}, want: []string{"d", "c"}},
		{name: "no match", filter: Filter{Topic: "nope"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := j.List(ctx, tt.filter)
			require.NoError(t, err)

			got := make([]string, 0, len(entries))
			for _, e := range entries {
				got = append(got, e.Payload)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestList_LimitClamped(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < maxLimit+5; i++ {
		require.NoError(t, j.Append(ctx, &Entry{Direction: Outbound, Topic: "status", Payload: "x"}))
	}

	entries, err := j.List(ctx, Filter{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, entries, maxLimit)

	entries, err = j.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, defaultLimit)
}

func TestList_InvalidDirection(t *testing.T) {
	j := openTestJournal(t)

	_, err := j.List(context.Background(), Filter{Direction: "sideways"})
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

// =============================================================================
// Retention
// =============================================================================

func TestPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	now := time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	require.NoError(t, j.Append(ctx, &Entry{Direction: Outbound, Topic: "status", Payload: "old", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, j.Append(ctx, &Entry{Direction: Outbound, Topic: "status", Payload: "new", CreatedAt: now.Add(-time.Hour)}))

	n, err := j.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := j.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Payload)
}

func TestRunRetention_StopsOnCancel(t *testing.T) {
	j := openTestJournal(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		j.RunRetention(ctx, time.Hour, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunRetention did not return after cancel")
	}
}

func TestRunRetention_DisabledReturnsImmediately(t *testing.T) {
	j := openTestJournal(t)
	j.RunRetention(context.Background(), 0, time.Second)
}
