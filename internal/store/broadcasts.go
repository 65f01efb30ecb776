package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendBroadcast appends a broadcast to the blackboard and returns its
// generated id. Broadcasts are append-only (spec.md §3, §4.4) — this is
// the only write path.
func (db *DB) AppendBroadcast(ctx context.Context, swarmID, sender, broadcastType string, payload map[string]interface{}, at time.Time) (string, error) {
	id := uuid.New().String()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	_, err = db.Execute(ctx, `
		INSERT INTO broadcasts (id, swarm_id, sender_agent, broadcast_type, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, swarmID, sender, broadcastType, string(payloadJSON), at)
	if err != nil {
		return "", fmt.Errorf("append broadcast: %w", err)
	}
	return id, nil
}

// ReadBroadcasts returns the most recent broadcasts for a swarm, ordered
// by (created_at desc, id desc), optionally excluding a sender and
// limited to limit rows (0 means the spec.md §4.4 default of 10).
func (db *DB) ReadBroadcasts(ctx context.Context, swarmID, excludeSender string, limit int) ([]Broadcast, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows *sql.Rows
	var err error
	if excludeSender == "" {
		rows, err = db.Query(ctx, `
			SELECT id, swarm_id, sender_agent, broadcast_type, payload_json, created_at
			FROM broadcasts WHERE swarm_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?`, swarmID, limit)
	} else {
		rows, err = db.Query(ctx, `
			SELECT id, swarm_id, sender_agent, broadcast_type, payload_json, created_at
			FROM broadcasts WHERE swarm_id = ? AND sender_agent != ?
			ORDER BY created_at DESC, id DESC LIMIT ?`, swarmID, excludeSender, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("read broadcasts: %w", err)
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ReadBroadcastsOfType returns all broadcasts of a given type for a
// swarm, most recent first. Used by state transfer to find the latest
// state_transfer broadcast addressed to a given agent.
func (db *DB) ReadBroadcastsOfType(ctx context.Context, swarmID, broadcastType string) ([]Broadcast, error) {
	rows, err := db.Query(ctx, `
		SELECT id, swarm_id, sender_agent, broadcast_type, payload_json, created_at
		FROM broadcasts WHERE swarm_id = ? AND broadcast_type = ?
		ORDER BY created_at DESC, id DESC`, swarmID, broadcastType)
	if err != nil {
		return nil, fmt.Errorf("read broadcasts of type: %w", err)
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountDistinctSenders returns the number of distinct sender_agent values
// that have posted a broadcast of the given type in the swarm — the
// de-duplicated progress metric from spec.md §3 ("the count of distinct
// senders with a done row is the progress metric").
func (db *DB) CountDistinctSenders(ctx context.Context, swarmID, broadcastType string) (int, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT sender_agent) FROM broadcasts WHERE swarm_id = ? AND broadcast_type = ?
	`, swarmID, broadcastType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count distinct senders: %w", err)
	}
	return n, nil
}

// CountAny returns the number of distinct senders that have posted any
// broadcast at all in the swarm — the denominator for swarm progress.
func (db *DB) CountAny(ctx context.Context, swarmID string) (int, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT sender_agent) FROM broadcasts WHERE swarm_id = ?
	`, swarmID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count any: %w", err)
	}
	return n, nil
}

// DistinctDoneSenders returns the set of sender_agent values that have
// posted a 'done' broadcast in the swarm (helper behind
// Blackboard.MissingDoneSenders, which the swarm pattern uses to compute
// who is still missing).
func (db *DB) DistinctDoneSenders(ctx context.Context, swarmID string) (map[string]bool, error) {
	rows, err := db.Query(ctx, `
		SELECT DISTINCT sender_agent FROM broadcasts WHERE swarm_id = ? AND broadcast_type = 'done'
	`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("distinct done senders: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan done sender: %w", err)
		}
		out[s] = true
	}
	return out, rows.Err()
}

// DistinctAnySenders returns the set of sender_agent values that have
// posted any broadcast in the swarm.
func (db *DB) DistinctAnySenders(ctx context.Context, swarmID string) (map[string]bool, error) {
	rows, err := db.Query(ctx, `SELECT DISTINCT sender_agent FROM broadcasts WHERE swarm_id = ?`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("distinct any senders: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan any sender: %w", err)
		}
		out[s] = true
	}
	return out, rows.Err()
}

func scanBroadcast(r rowScanner) (Broadcast, error) {
	var b Broadcast
	var payloadJSON string

	if err := r.Scan(&b.ID, &b.SwarmID, &b.SenderAgent, &b.BroadcastType, &payloadJSON, &b.CreatedAt); err != nil {
		return Broadcast{}, fmt.Errorf("scan broadcast: %w", err)
	}

	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &b.Payload); err != nil {
			return Broadcast{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}

	return b, nil
}
