package store

import (
	"context"
	"fmt"
)

// AddActivity appends a hook-decision audit entry, matching the teacher's
// JSONStore.AddActivity behavior, generalized to a SQL-backed table.
// Appending does not trim; retention is applied only when
// CleanupActivityLog is called.
func (db *DB) AddActivity(ctx context.Context, e ActivityLogEntry) error {
	_, err := db.Execute(ctx, `
		INSERT INTO activity_log (session_id, hook_event, pattern, decision, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, NullString(e.SessionID), e.HookEvent, NullString(e.Pattern), e.Decision, NullString(e.Message), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("add activity: %w", err)
	}
	return nil
}

// CleanupActivityLog trims the activity_log table to the most recent
// ActivityLogRetention rows.
func (db *DB) CleanupActivityLog(ctx context.Context) error {
	_, err := db.Execute(ctx, `
		DELETE FROM activity_log WHERE id NOT IN (
			SELECT id FROM activity_log ORDER BY id DESC LIMIT ?
		)
	`, ActivityLogRetention)
	if err != nil {
		return fmt.Errorf("cleanup activity log: %w", err)
	}
	return nil
}
