package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dvbrx/internal/source"
)

//go:embed schema.sql
var schemaSQL string

// Kind classifies a journal entry.
type Kind string

const (
	KindState   Kind = "state"
	KindFault   Kind = "fault"
	KindRestart Kind = "restart"
	KindTune    Kind = "tune"
	KindPlay    Kind = "play"
	KindLog     Kind = "log"
)

// DefaultLimit caps a page when the caller passes no limit.
const DefaultLimit = 200

// Event is one journal row.
type Event struct {
	ID         int64            `json:"id"`
	RunID      string           `json:"run_id"`
	RecordedAt time.Time        `json:"recorded_at"`
	Kind       Kind             `json:"kind"`
	SourceKind source.Kind      `json:"source_kind,omitempty"`
	Message    string           `json:"message"`
	State      source.CoreState `json:"state"`
	Detail     string           `json:"detail,omitempty"`
}

// Journal is safe for concurrent use.
type Journal struct {
	db    *sql.DB
	runID string
	now   func() time.Time

	mu     sync.Mutex
	closed bool
}

// Open creates an empty journal for runID.
func Open(runID string) (*Journal, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("journal run id is required")
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db, runID: runID, now: time.Now}, nil
}

// RunID identifies the daemon run this journal belongs to.
func (j *Journal) RunID() string { return j.runID }

// Record appends an event and returns its id.
func (j *Journal) Record(ctx context.Context, evt Event) (int64, error) {
	if j == nil {
		return 0, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, errors.New("journal closed")
	}
	if evt.RecordedAt.IsZero() {
		evt.RecordedAt = j.now()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO events (
            run_id, recorded_at, kind, source_kind, message,
            started, running, locked, counter, detail
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID,
		evt.RecordedAt.UTC().Format(time.RFC3339Nano),
		string(evt.Kind),
		nullableString(string(evt.SourceKind)),
		evt.Message,
		boolToInt(evt.State.Started),
		boolToInt(evt.State.Running),
		boolToInt(evt.State.Locked),
		evt.State.Counter,
		nullableString(evt.Detail),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Query selects a page of events.
type Query struct {
	After int64
	Kinds []Kind
	Limit int
}

// Since returns events with ids greater than q.After in id order.
func (j *Journal) Since(ctx context.Context, q Query) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	stmt := `SELECT id, run_id, recorded_at, kind, source_kind, message,
            started, running, locked, counter, detail
        FROM events WHERE id > ?`
	args := []any{q.After}
	if len(q.Kinds) > 0 {
		placeholders := make([]string, len(q.Kinds))
		for i, kind := range q.Kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		stmt += ` AND kind IN (` + strings.Join(placeholders, ", ") + `)`
	}
	stmt += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, errors.New("journal closed")
	}
	rows, err := j.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Counts returns the number of events per kind.
func (j *Journal) Counts(ctx context.Context) (map[Kind]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, errors.New("journal closed")
	}
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(1) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()
	counts := make(map[Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Kind(kind)] = n
	}
	return counts, rows.Err()
}

// Close drops the journal.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		evt                       Event
		recordedAt, kind, message string
		sourceKind, detail        sql.NullString
		started, running, locked  int
	)
	if err := rows.Scan(&evt.ID, &evt.RunID, &recordedAt, &kind, &sourceKind, &message,
		&started, &running, &locked, &evt.State.Counter, &detail); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return Event{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	evt.RecordedAt = ts
	evt.Kind = Kind(kind)
	evt.SourceKind = source.Kind(sourceKind.String)
	evt.Message = message
	evt.Detail = detail.String
	evt.State.Started = started != 0
	evt.State.Running = running != 0
	evt.State.Locked = locked != 0
	return evt, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
