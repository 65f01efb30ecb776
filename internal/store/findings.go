package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// AddFinding persists a cross-session research note (spec.md §3).
func (db *DB) AddFinding(ctx context.Context, f Finding) error {
	relevantTo, err := json.Marshal(f.RelevantTo)
	if err != nil {
		return fmt.Errorf("marshal relevant_to: %w", err)
	}

	_, err = db.Execute(ctx, `
		INSERT INTO findings (id, session_id, topic, finding, relevant_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.SessionID, f.Topic, f.Finding, string(relevantTo), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("add finding: %w", err)
	}
	return nil
}

// FindingsByTopic retrieves findings matching a topic, most recent first.
func (db *DB) FindingsByTopic(ctx context.Context, topic string, limit int) ([]Finding, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT id, session_id, topic, finding, relevant_to, created_at
		FROM findings WHERE topic = ? ORDER BY created_at DESC LIMIT ?
	`, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("findings by topic: %w", err)
	}
	defer rows.Close()

	var out []Finding
	for rows.Next() {
		var f Finding
		var relevantTo string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Topic, &f.Finding, &relevantTo, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		if err := json.Unmarshal([]byte(relevantTo), &f.RelevantTo); err != nil {
			return nil, fmt.Errorf("unmarshal relevant_to: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
