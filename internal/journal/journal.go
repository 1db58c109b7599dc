// Package journal keeps a local SQLite record of every envelope the device
// publishes or receives, for the status API and post-game debugging.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sciler-device/internal/envelope"
)

// Direction says which way an envelope travelled.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// writeTimeout bounds a single insert made from a Recorder callback.
const writeTimeout = 2 * time.Second

// ErrInvalidDirection is returned for a filter direction other than inbound or outbound.
var ErrInvalidDirection = errors.New("journal: invalid direction")

// Entry is one journalled envelope.
type Entry struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Topic     string    `json:"topic"`
	Type      string    `json:"type,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Payload   string    `json:"payload"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Direction Direction // optional
	Topic     string    // optional
	Limit     int       // default 50, max 200
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

// Journal stores entries in the message_journal table.
//
// It implements session.Recorder. Recorder calls never fail the caller;
// write errors are logged.
type Journal struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time
}

// New creates a journal on db. The message_journal migration must have run.
func New(db *sql.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// SetLogger sets a logger for write failures.
func (j *Journal) SetLogger(logger Logger) {
	j.logger = logger
}

// RecordOutbound implements session.Recorder.
func (j *Journal) RecordOutbound(topic string, env []byte) {
	j.record(Outbound, topic, env, nil)
}

// RecordInbound implements session.Recorder.
func (j *Journal) RecordInbound(topic string, raw []byte, err error) {
	j.record(Inbound, topic, raw, err)
}

func (j *Journal) record(dir Direction, topic string, raw []byte, cause error) {
	entry := &Entry{
		Direction: dir,
		Topic:     topic,
		Payload:   string(raw),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if env, err := envelope.Decode(raw); err == nil {
		entry.Type = string(env.Type)
		entry.DeviceID = env.DeviceID
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := j.Append(ctx, entry); err != nil && j.logger != nil {
		j.logger.Warn("journal write failed", "topic", topic, "direction", string(dir), "error", err)
	}
}

// Append inserts entry. ID and CreatedAt are generated if empty.
func (j *Journal) Append(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.now().UTC()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO message_journal (id, direction, topic, type, device_id, payload, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Direction), entry.Topic,
		nullableString(entry.Type), nullableString(entry.DeviceID),
		entry.Payload, nullableString(entry.Error),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	var conditions []string
	var args []any

	switch filter.Direction {
	case "":
	case Inbound, Outbound:
		conditions = append(conditions, "direction = ?")
		args = append(args, string(filter.Direction))
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, filter.Direction)
	}
	if filter.Topic != "" {
		conditions = append(conditions, "topic = ?")
		args = append(args, filter.Topic)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, direction, topic, type, device_id, payload, error, created_at
		 FROM message_journal %s ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		where,
	)
	args = append(args, filter.Limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var direction, createdAt string
		var typ, deviceID, errText sql.NullString

		if err := rows.Scan(&e.ID, &direction, &e.Topic, &typ, &deviceID, &e.Payload, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.Direction = Direction(direction)
		e.Type = typ.String
		e.DeviceID = deviceID.String
		e.Error = errText.String

		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than retention and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := j.now().UTC().Add(-retention).Format(timeLayout)

	res, err := j.db.ExecContext(ctx, "DELETE FROM message_journal WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return n, nil
}

// RunRetention prunes entries older than retention every interval until ctx
// is cancelled. A non-positive retention disables pruning.
func (j *Journal) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Prune(ctx, retention); err != nil && j.logger != nil {
				j.logger.Warn("journal prune failed", "error", err)
			}
		}
	}
}
