package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertAgent registers a new agent row or refreshes an existing one,
// keyed on id — "register is idempotent on id (upsert)" per spec.md §4.3.
// Mirrors the teacher's RegisterAgent ON CONFLICT DO UPDATE shape.
func (db *DB) UpsertAgent(ctx context.Context, a Agent) error {
	_, err := db.Execute(ctx, `
		INSERT INTO agents (id, session_id, pattern, parent_agent_id, pid, ppid, spawned_at, completed_at, status, error_message, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id      = excluded.session_id,
			pattern         = excluded.pattern,
			parent_agent_id = excluded.parent_agent_id,
			pid             = excluded.pid,
			ppid            = excluded.ppid,
			spawned_at      = excluded.spawned_at,
			completed_at    = excluded.completed_at,
			status          = excluded.status,
			error_message   = excluded.error_message,
			source          = excluded.source
	`, a.ID, a.SessionID, NullString(a.Pattern), NullString(a.ParentAgentID),
		NullInt64(a.PID), NullInt64(a.PPID), a.SpawnedAt, NullTime(a.CompletedAt),
		string(a.Status), NullString(a.ErrorMessage), string(a.Source))
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// CompleteAgent sets terminal status and completed_at for an agent. A
// call on an unknown id is a no-op (agents may terminate via a path that
// skips the registry) per spec.md §4.3. A second call on an
// already-completed agent is also a no-op: completed_at reflects the
// first call, per the idempotence law in spec.md §8.
func (db *DB) CompleteAgent(ctx context.Context, id string, status AgentStatus, errorMessage string, at time.Time) error {
	_, err := db.Execute(ctx, `
		UPDATE agents SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status = 'running'
	`, string(status), at, NullString(errorMessage), id)
	if err != nil {
		return fmt.Errorf("complete agent: %w", err)
	}
	return nil
}

// GetAgent retrieves a single agent by id.
func (db *DB) GetAgent(ctx context.Context, id string) (Agent, error) {
	row := db.QueryRow(ctx, `
		SELECT id, session_id, pattern, parent_agent_id, pid, ppid, spawned_at, completed_at, status, error_message, source
		FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// CountRunning returns the number of agents with status='running',
// optionally scoped to a session. Used as the admission signal for
// resource-aware patterns (spec.md §4.3, §5).
func (db *DB) CountRunning(ctx context.Context, sessionID string) (int, error) {
	var n int
	var err error
	if sessionID == "" {
		err = db.QueryRow(ctx, `SELECT COUNT(*) FROM agents WHERE status = 'running'`).Scan(&n)
	} else {
		err = db.QueryRow(ctx, `SELECT COUNT(*) FROM agents WHERE status = 'running' AND session_id = ?`, sessionID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count running agents: %w", err)
	}
	return n, nil
}

// ListRunning returns all running agents, optionally scoped to a session.
func (db *DB) ListRunning(ctx context.Context, sessionID string) ([]Agent, error) {
	var rows *sql.Rows
	var err error
	if sessionID == "" {
		rows, err = db.Query(ctx, `
			SELECT id, session_id, pattern, parent_agent_id, pid, ppid, spawned_at, completed_at, status, error_message, source
			FROM agents WHERE status = 'running' ORDER BY spawned_at ASC`)
	} else {
		rows, err = db.Query(ctx, `
			SELECT id, session_id, pattern, parent_agent_id, pid, ppid, spawned_at, completed_at, status, error_message, source
			FROM agents WHERE status = 'running' AND session_id = ? ORDER BY spawned_at ASC`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("list running agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListDescendants returns all agents whose parent_agent_id is id,
// recursively. Used by the Hierarchical pattern's "block until all
// descendants are completed" rule (spec.md §4.5.d).
func (db *DB) ListDescendants(ctx context.Context, id string) ([]Agent, error) {
	var out []Agent
	frontier := []string{id}
	seen := map[string]bool{}

	for len(frontier) > 0 {
		parent := frontier[0]
		frontier = frontier[1:]

		rows, err := db.Query(ctx, `
			SELECT id, session_id, pattern, parent_agent_id, pid, ppid, spawned_at, completed_at, status, error_message, source
			FROM agents WHERE parent_agent_id = ?`, parent)
		if err != nil {
			return nil, fmt.Errorf("list descendants: %w", err)
		}
		children, err := scanAgents(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}

		for _, c := range children {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
			frontier = append(frontier, c.ID)
		}
	}
	return out, nil
}

// SweepLeakedAgents marks still-"running" agents older than maxAge as
// failed, per the "presumed leaked and garbage-collected" invariant in
// spec.md §3. Returns the number of rows swept.
func (db *DB) SweepLeakedAgents(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-maxAge)
	res, err := db.Execute(ctx, `
		UPDATE agents SET status = 'failed', completed_at = ?, error_message = 'leaked: exceeded max age'
		WHERE status = 'running' AND spawned_at < ?
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep leaked agents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep leaked agents rows affected: %w", err)
	}
	return int(n), nil
}

func scanAgent(r rowScanner) (Agent, error) {
	var a Agent
	var pattern, parentID, errorMessage sql.NullString
	var pid, ppid sql.NullInt64
	var completedAt sql.NullTime
	var status, source string

	err := r.Scan(&a.ID, &a.SessionID, &pattern, &parentID, &pid, &ppid,
		&a.SpawnedAt, &completedAt, &status, &errorMessage, &source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, fmt.Errorf("scan agent: %w", err)
	}

	a.Pattern = pattern.String
	a.ParentAgentID = parentID.String
	a.ErrorMessage = errorMessage.String
	a.Status = AgentStatus(status)
	a.Source = AgentSource(source)

	if pid.Valid {
		v := int(pid.Int64)
		a.PID = &v
	}
	if ppid.Valid {
		v := int(ppid.Int64)
		a.PPID = &v
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}

	return a, nil
}

func scanAgents(rows *sql.Rows) ([]Agent, error) {
	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
