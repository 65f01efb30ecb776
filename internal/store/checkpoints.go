package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AddCheckpoint persists a session snapshot used for team awareness.
func (db *DB) AddCheckpoint(ctx context.Context, c Checkpoint) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("marshal checkpoint payload: %w", err)
	}

	_, err = db.Execute(ctx, `
		INSERT INTO checkpoints (id, session_id, label, payload_json, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.SessionID, NullString(c.Label), string(payload), c.CreatedAt, NullTime(c.ExpiresAt))
	if err != nil {
		return fmt.Errorf("add checkpoint: %w", err)
	}
	return nil
}

// SweepExpiredCheckpoints deletes checkpoints past their expires_at,
// returning the number of rows removed.
func (db *DB) SweepExpiredCheckpoints(ctx context.Context, now time.Time) (int, error) {
	res, err := db.Execute(ctx, `DELETE FROM checkpoints WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired checkpoints rows affected: %w", err)
	}
	return int(n), nil
}

// UpsertFeatureWorkspace creates or updates ownership of a named feature
// within a project, used by the Session Supervisor's cross-session
// awareness hook.
func (db *DB) UpsertFeatureWorkspace(ctx context.Context, fw FeatureWorkspace) error {
	_, err := db.Execute(ctx, `
		INSERT INTO feature_workspaces (id, project, feature, owner_session, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_session = excluded.owner_session,
			status        = excluded.status,
			updated_at    = excluded.updated_at
	`, fw.ID, fw.Project, fw.Feature, NullString(fw.OwnerSession), fw.Status, fw.CreatedAt, fw.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert feature workspace: %w", err)
	}
	return nil
}

// ListFeatureWorkspaces returns all feature workspaces for a project.
func (db *DB) ListFeatureWorkspaces(ctx context.Context, project string) ([]FeatureWorkspace, error) {
	rows, err := db.Query(ctx, `
		SELECT id, project, feature, owner_session, status, created_at, updated_at
		FROM feature_workspaces WHERE project = ? ORDER BY updated_at DESC
	`, project)
	if err != nil {
		return nil, fmt.Errorf("list feature workspaces: %w", err)
	}
	defer rows.Close()

	var out []FeatureWorkspace
	for rows.Next() {
		var fw FeatureWorkspace
		var owner sql.NullString
		if err := rows.Scan(&fw.ID, &fw.Project, &fw.Feature, &owner, &fw.Status, &fw.CreatedAt, &fw.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan feature workspace: %w", err)
		}
		fw.OwnerSession = owner.String
		out = append(out, fw)
	}
	return out, rows.Err()
}
