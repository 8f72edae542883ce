// Package journal records capture sessions, events and playback speed
// changes in SQLite so a recording can be related back to wall-clock time.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/kai5263499/sentry-timelapse/internal/activity"
	"github.com/kai5263499/sentry-timelapse/internal/timelapse"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	source      TEXT NOT NULL,
	output      TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	ended_at    DATETIME,
	frames      INTEGER NOT NULL DEFAULT 0,
	written     INTEGER NOT NULL DEFAULT 0,
	end_reason  TEXT
);
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	kind         TEXT NOT NULL,
	start_frame  INTEGER NOT NULL,
	end_frame    INTEGER,
	started_at   DATETIME NOT NULL,
	ended_at     DATETIME,
	written      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, start_frame);
CREATE TABLE IF NOT EXISTS speed_changes (
	session_id  TEXT NOT NULL REFERENCES sessions(id),
	frame       INTEGER NOT NULL,
	multiplier  INTEGER NOT NULL,
	changed_at  DATETIME NOT NULL
);
`

// Session describes a capture session when it starts.
type Session struct {
	Name   string
	Source string
	Output string
}

// Event is one contiguous run of motion or person frames.
type Event struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Kind       string     `json:"kind"`
	StartFrame uint64     `json:"start_frame"`
	EndFrame   *uint64    `json:"end_frame,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Written    int        `json:"frames_written"`
}

// Journal handles SQLite operations. Observe is called from the capture
// loop goroutine; queries may come from any goroutine.
type Journal struct {
	db        *sql.DB
	sessionID string
	open      *Event
	frames    uint64
	written   uint64
}

// Open creates or opens the database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Begin starts a new session and returns its id.
func (j *Journal) Begin(ctx context.Context, s Session) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, source, output, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, s.Name, s.Source, s.Output, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}

	j.sessionID = id
	j.open = nil
	j.frames = 0
	j.written = 0
	return id, nil
}

// Observe implements timelapse.Observer.
func (j *Journal) Observe(r timelapse.Report) {
	if j.sessionID == "" {
		return
	}
	if err := j.observe(r); err != nil {
		log.Warn().Err(err).Uint64("frame", r.Index).Msg("Failed to journal frame")
	}
}

func (j *Journal) observe(r timelapse.Report) error {
	j.frames = r.Index
	if r.Decision.Write {
		j.written++
	}

	// Events follow the classified state rather than rate edges so one that
	// was already running when bootstrap finished still gets a row.
	switch {
	case j.open == nil && r.State.IsEvent():
		if err := j.openEvent(r); err != nil {
			return err
		}
	case j.open != nil && !r.State.IsEvent():
		if err := j.closeEvent(r.Index-1, r.Time); err != nil {
			return err
		}
	}

	if j.open != nil && r.State.IsEvent() {
		if r.Decision.Write {
			j.open.Written++
		}
		if r.State == activity.Person && j.open.Kind != activity.Person.String() {
			j.open.Kind = activity.Person.String()
			if _, err := j.db.Exec(`UPDATE events SET kind = ? WHERE id = ?`, j.open.Kind, j.open.ID); err != nil {
				return fmt.Errorf("failed to upgrade event: %w", err)
			}
		}
	}

	if r.Decision.Doubled {
		_, err := j.db.Exec(
			`INSERT INTO speed_changes (session_id, frame, multiplier, changed_at) VALUES (?, ?, ?, ?)`,
			j.sessionID, r.Index, r.Decision.Multiplier, r.Time.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert speed change: %w", err)
		}
	}
	return nil
}

func (j *Journal) openEvent(r timelapse.Report) error {
	ev := &Event{
		ID:         uuid.NewString(),
		SessionID:  j.sessionID,
		Kind:       r.State.String(),
		StartFrame: r.Index,
		StartedAt:  r.Time.UTC(),
	}
	_, err := j.db.Exec(
		`INSERT INTO events (id, session_id, kind, start_frame, started_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Kind, ev.StartFrame, ev.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	j.open = ev
	return nil
}

func (j *Journal) closeEvent(lastFrame uint64, at time.Time) error {
	if j.open == nil {
		return nil
	}
	_, err := j.db.Exec(
		`UPDATE events SET end_frame = ?, ended_at = ?, written = ? WHERE id = ?`,
		lastFrame, at.UTC(), j.open.Written, j.open.ID)
	j.open = nil
	if err != nil {
		return fmt.Errorf("failed to close event: %w", err)
	}
	return nil
}

// End closes the current session and any event still open.
func (j *Journal) End(ctx context.Context, reason string) error {
	if j.sessionID == "" {
		return nil
	}
	now := time.Now()
	if err := j.closeEvent(j.frames, now); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, frames = ?, written = ?, end_reason = ? WHERE id = ?`,
		now.UTC(), j.frames, j.written, reason, j.sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	j.sessionID = ""
	return nil
}

// Events returns the most recent events, newest first.
func (j *Journal) Events(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, kind, start_frame, end_frame, started_at, ended_at, written
		 FROM events ORDER BY started_at DESC, start_frame DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev       Event
			endFrame sql.NullInt64
			endedAt  sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.StartFrame, &endFrame, &ev.StartedAt, &endedAt, &ev.Written); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if endFrame.Valid {
			f := uint64(endFrame.Int64)
			ev.EndFrame = &f
		}
		if endedAt.Valid {
			t := endedAt.Time
			ev.EndedAt = &t
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SpeedChange is a recorded doubling of the idle playback speed.
type SpeedChange struct {
	Frame      uint64 `json:"frame"`
	Multiplier int    `json:"multiplier"`
}

// SpeedChanges returns the playback multipliers recorded for a session,
// in frame order.
func (j *Journal) SpeedChanges(ctx context.Context, sessionID string) ([]SpeedChange, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT frame, multiplier FROM speed_changes WHERE session_id = ? ORDER BY frame`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query speed changes: %w", err)
	}
	defer rows.Close()

	var changes []SpeedChange
	for rows.Next() {
		var c SpeedChange
		if err := rows.Scan(&c.Frame, &c.Multiplier); err != nil {
			return nil, fmt.Errorf("failed to scan speed change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Close closes the database. It is safe on a nil Journal.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
