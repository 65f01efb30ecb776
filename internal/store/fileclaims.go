package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimFile performs the atomic "insert-or-update-and-tell-me-which-won"
// take-over described in spec.md §4.1/§4.6: the row is upserted unless a
// live, foreign-owned claim already exists, in which case the existing
// owner is returned untouched. Returns the session_id that now owns the
// claim (which may not be requester's session).
func (db *DB) ClaimFile(ctx context.Context, path, project, sessionID string, ttl time.Duration, now time.Time) (string, error) {
	var owner string

	err := db.Tx(ctx, func(tx *sql.Tx) error {
		var existingSession string
		var claimedAt time.Time
		var ttlSeconds int

		err := tx.QueryRowContext(ctx, `
			SELECT session_id, claimed_at, ttl_seconds FROM file_claims WHERE file_path = ? AND project = ?
		`, path, project).Scan(&existingSession, &claimedAt, &ttlSeconds)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			// No claim yet: take it.
		case err != nil:
			return fmt.Errorf("query existing claim: %w", err)
		default:
			live := now.Sub(claimedAt) <= time.Duration(ttlSeconds)*time.Second
			if live && existingSession != sessionID {
				owner = existingSession
				return nil
			}
			// Either expired, or already owned by requester: fall through to take-over.
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO file_claims (file_path, project, session_id, claimed_at, ttl_seconds)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(file_path, project) DO UPDATE SET
				session_id  = excluded.session_id,
				claimed_at  = excluded.claimed_at,
				ttl_seconds = excluded.ttl_seconds
		`, path, project, sessionID, now, int(ttl.Seconds()))
		if err != nil {
			return fmt.Errorf("upsert claim: %w", err)
		}

		owner = sessionID
		return nil
	})
	if err != nil {
		return "", err
	}
	return owner, nil
}

// CheckFileClaim reports whether path is claimed, live, and owned by
// someone other than me. A claim owned by me, or an expired claim, is
// reported as unclaimed (spec.md §4.6).
func (db *DB) CheckFileClaim(ctx context.Context, path, project, me string, now time.Time) (claimed bool, by string, err error) {
	var existingSession string
	var claimedAt time.Time
	var ttlSeconds int

	row := db.QueryRow(ctx, `
		SELECT session_id, claimed_at, ttl_seconds FROM file_claims WHERE file_path = ? AND project = ?
	`, path, project)
	if err := row.Scan(&existingSession, &claimedAt, &ttlSeconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("check file claim: %w", err)
	}

	live := now.Sub(claimedAt) <= time.Duration(ttlSeconds)*time.Second
	if !live || existingSession == me {
		return false, "", nil
	}
	return true, existingSession, nil
}

// ReleaseFileClaim deletes a claim, but only if owned by session — a
// release request from a non-owner is silently ignored (spec.md §4.6).
func (db *DB) ReleaseFileClaim(ctx context.Context, path, project, sessionID string) error {
	_, err := db.Execute(ctx, `
		DELETE FROM file_claims WHERE file_path = ? AND project = ? AND session_id = ?
	`, path, project, sessionID)
	if err != nil {
		return fmt.Errorf("release file claim: %w", err)
	}
	return nil
}

// ListFileClaims returns all claims for a project (used by the
// introspection HTTP surface and cross-session-awareness warnings).
func (db *DB) ListFileClaims(ctx context.Context, project string) ([]FileClaim, error) {
	rows, err := db.Query(ctx, `
		SELECT file_path, project, session_id, claimed_at, ttl_seconds FROM file_claims WHERE project = ?
	`, project)
	if err != nil {
		return nil, fmt.Errorf("list file claims: %w", err)
	}
	defer rows.Close()

	var out []FileClaim
	for rows.Next() {
		var c FileClaim
		if err := rows.Scan(&c.FilePath, &c.Project, &c.SessionID, &c.ClaimedAt, &c.TTLSeconds); err != nil {
			return nil, fmt.Errorf("scan file claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
