package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetOrInitCircuitState fetches the CircuitState row for cbID, creating
// it with the given initial threshold if it does not yet exist — a
// breaker identifier is lazily materialized on first use.
func (db *DB) GetOrInitCircuitState(ctx context.Context, cbID string, initialThreshold int, now time.Time) (CircuitState, error) {
	cs, err := db.GetCircuitState(ctx, cbID)
	if err == nil {
		return cs, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return CircuitState{}, err
	}

	cs = CircuitState{
		CBID:             cbID,
		State:            CircuitClosed,
		CurrentThreshold: initialThreshold,
		WindowStart:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = db.Execute(ctx, `
		INSERT INTO circuit_state (cb_id, state, failure_count, success_count, current_threshold, window_start, created_at, updated_at)
		VALUES (?, ?, 0, 0, ?, ?, ?, ?)
		ON CONFLICT(cb_id) DO NOTHING
	`, cs.CBID, string(cs.State), cs.CurrentThreshold, cs.WindowStart, cs.CreatedAt, cs.UpdatedAt)
	if err != nil {
		return CircuitState{}, fmt.Errorf("init circuit state: %w", err)
	}

	return db.GetCircuitState(ctx, cbID)
}

// GetCircuitState fetches the CircuitState row for cbID.
func (db *DB) GetCircuitState(ctx context.Context, cbID string) (CircuitState, error) {
	row := db.QueryRow(ctx, `
		SELECT cb_id, state, failure_count, success_count, current_threshold, window_start, last_failure_at, last_success_at, created_at, updated_at
		FROM circuit_state WHERE cb_id = ?`, cbID)
	return scanCircuitState(row)
}

// SaveCircuitState persists the full row, used after the caller computes
// a new state via the adaptive transition logic in the patterns package.
// Exported for callers (tests, one-off corrections) that already hold a
// freshly-read CircuitState and know no concurrent writer can
// interleave; the hook dispatch path uses the transactional
// UpdateCircuitState below instead, since spec.md §5 requires "a single
// transactional read-modify-write" across concurrently running hook
// processes, not a bare read-then-separate-write.
func (db *DB) SaveCircuitState(ctx context.Context, cs CircuitState) error {
	_, err := db.Execute(ctx, `
		UPDATE circuit_state SET
			state = ?, failure_count = ?, success_count = ?, current_threshold = ?,
			window_start = ?, last_failure_at = ?, last_success_at = ?, updated_at = ?
		WHERE cb_id = ?
	`, string(cs.State), cs.FailureCount, cs.SuccessCount, cs.CurrentThreshold,
		cs.WindowStart, NullTime(cs.LastFailureAt), NullTime(cs.LastSuccessAt), cs.UpdatedAt, cs.CBID)
	if err != nil {
		return fmt.Errorf("save circuit state: %w", err)
	}
	return nil
}

// UpdateCircuitState performs the get-or-init, mutate, and save steps of
// a breaker update inside one transaction, the same Tx-wrapped
// read-modify-write shape ClaimFile (fileclaims.go) uses for its own
// atomic take-over. mutate receives the current row (freshly
// initialized if cbID has no row yet) and adjusts it in place; the
// adjusted row is persisted before the transaction commits, so two
// concurrent hook processes updating the same cb_id serialize on
// SQLite's transaction lock instead of racing a read against a write.
func (db *DB) UpdateCircuitState(ctx context.Context, cbID string, initialThreshold int, now time.Time, mutate func(*CircuitState)) (CircuitState, error) {
	var result CircuitState

	err := db.Tx(ctx, func(tx *sql.Tx) error {
		cs, err := txGetOrInitCircuitState(ctx, tx, cbID, initialThreshold, now)
		if err != nil {
			return err
		}

		mutate(&cs)
		cs.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			UPDATE circuit_state SET
				state = ?, failure_count = ?, success_count = ?, current_threshold = ?,
				window_start = ?, last_failure_at = ?, last_success_at = ?, updated_at = ?
			WHERE cb_id = ?
		`, string(cs.State), cs.FailureCount, cs.SuccessCount, cs.CurrentThreshold,
			cs.WindowStart, NullTime(cs.LastFailureAt), NullTime(cs.LastSuccessAt), cs.UpdatedAt, cs.CBID)
		if err != nil {
			return fmt.Errorf("save circuit state: %w", err)
		}

		result = cs
		return nil
	})
	if err != nil {
		return CircuitState{}, err
	}
	return result, nil
}

// txGetOrInitCircuitState is GetOrInitCircuitState's logic run against
// an open transaction rather than the pooled *DB, so UpdateCircuitState
// can fold the read and the eventual write into one atomic step.
func txGetOrInitCircuitState(ctx context.Context, tx *sql.Tx, cbID string, initialThreshold int, now time.Time) (CircuitState, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT cb_id, state, failure_count, success_count, current_threshold, window_start, last_failure_at, last_success_at, created_at, updated_at
		FROM circuit_state WHERE cb_id = ?`, cbID)
	cs, err := scanCircuitState(row)
	if err == nil {
		return cs, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return CircuitState{}, err
	}

	cs = CircuitState{
		CBID:             cbID,
		State:            CircuitClosed,
		CurrentThreshold: initialThreshold,
		WindowStart:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO circuit_state (cb_id, state, failure_count, success_count, current_threshold, window_start, created_at, updated_at)
		VALUES (?, ?, 0, 0, ?, ?, ?, ?)
		ON CONFLICT(cb_id) DO NOTHING
	`, cs.CBID, string(cs.State), cs.CurrentThreshold, cs.WindowStart, cs.CreatedAt, cs.UpdatedAt)
	if err != nil {
		return CircuitState{}, fmt.Errorf("init circuit state: %w", err)
	}

	row = tx.QueryRowContext(ctx, `
		SELECT cb_id, state, failure_count, success_count, current_threshold, window_start, last_failure_at, last_success_at, created_at, updated_at
		FROM circuit_state WHERE cb_id = ?`, cbID)
	return scanCircuitState(row)
}

func scanCircuitState(r rowScanner) (CircuitState, error) {
	var cs CircuitState
	var state string
	var lastFailureAt, lastSuccessAt sql.NullTime

	err := r.Scan(&cs.CBID, &state, &cs.FailureCount, &cs.SuccessCount, &cs.CurrentThreshold,
		&cs.WindowStart, &lastFailureAt, &lastSuccessAt, &cs.CreatedAt, &cs.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CircuitState{}, ErrNotFound
		}
		return CircuitState{}, fmt.Errorf("scan circuit state: %w", err)
	}

	cs.State = CircuitBreakerState(state)
	if lastFailureAt.Valid {
		cs.LastFailureAt = &lastFailureAt.Time
	}
	if lastSuccessAt.Valid {
		cs.LastSuccessAt = &lastSuccessAt.Time
	}

	return cs, nil
}
