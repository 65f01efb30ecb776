package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by single-row lookups that find no matching
// record.
var ErrNotFound = errors.New("store: not found")

// UpsertSession creates a session on first sight of its id, or updates its
// heartbeat and mutable fields on subsequent calls — the "created on first
// hook event bearing a new id; updated by heartbeats" rule of spec.md §3.
func (db *DB) UpsertSession(ctx context.Context, s Session) error {
	activeFiles, err := json.Marshal(s.ActiveFiles)
	if err != nil {
		return fmt.Errorf("marshal active_files: %w", err)
	}
	blockedBy, err := json.Marshal(s.BlockedBy)
	if err != nil {
		return fmt.Errorf("marshal blocked_by: %w", err)
	}

	_, err = db.Execute(ctx, `
		INSERT INTO sessions (id, project, working_on, started_at, last_heartbeat, current_phase, active_files, blocked_by, next_action)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_heartbeat = excluded.last_heartbeat,
			working_on     = excluded.working_on,
			current_phase  = excluded.current_phase,
			active_files   = excluded.active_files,
			blocked_by     = excluded.blocked_by,
			next_action    = excluded.next_action
	`, s.ID, s.Project, NullString(s.WorkingOn), s.StartedAt, s.LastHeartbeat,
		NullString(s.CurrentPhase), string(activeFiles), string(blockedBy), NullString(s.NextAction))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Heartbeat bumps last_heartbeat for an existing session. Unlike
// UpsertSession it does not create a row — callers that only know an id
// (e.g. SessionStart for an id already seen this process) use this to
// avoid clobbering other fields.
func (db *DB) Heartbeat(ctx context.Context, sessionID string, at time.Time) error {
	res, err := db.Execute(ctx, `UPDATE sessions SET last_heartbeat = ? WHERE id = ?`, at, sessionID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession retrieves a session by id.
func (db *DB) GetSession(ctx context.Context, id string) (Session, error) {
	row := db.QueryRow(ctx, `
		SELECT id, project, working_on, started_at, last_heartbeat, current_phase, active_files, blocked_by, next_action
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListActiveSessions returns sessions whose last_heartbeat falls within
// SessionActiveWindow of now, optionally filtered by project.
func (db *DB) ListActiveSessions(ctx context.Context, project string, now time.Time) ([]Session, error) {
	cutoff := now.Add(-SessionActiveWindow)

	var rows *sql.Rows
	var err error
	if project == "" {
		rows, err = db.Query(ctx, `
			SELECT id, project, working_on, started_at, last_heartbeat, current_phase, active_files, blocked_by, next_action
			FROM sessions WHERE last_heartbeat >= ? ORDER BY last_heartbeat DESC`, cutoff)
	} else {
		rows, err = db.Query(ctx, `
			SELECT id, project, working_on, started_at, last_heartbeat, current_phase, active_files, blocked_by, next_action
			FROM sessions WHERE last_heartbeat >= ? AND project = ? ORDER BY last_heartbeat DESC`, cutoff, project)
	}
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(r rowScanner) (Session, error) {
	var s Session
	var workingOn, currentPhase, nextAction sql.NullString
	var activeFiles, blockedBy string

	err := r.Scan(&s.ID, &s.Project, &workingOn, &s.StartedAt, &s.LastHeartbeat,
		&currentPhase, &activeFiles, &blockedBy, &nextAction)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}

	s.WorkingOn = workingOn.String
	s.CurrentPhase = currentPhase.String
	s.NextAction = nextAction.String

	if err := json.Unmarshal([]byte(activeFiles), &s.ActiveFiles); err != nil {
		return Session{}, fmt.Errorf("unmarshal active_files: %w", err)
	}
	if err := json.Unmarshal([]byte(blockedBy), &s.BlockedBy); err != nil {
		return Session{}, fmt.Errorf("unmarshal blocked_by: %w", err)
	}

	return s, nil
}
