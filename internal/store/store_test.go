package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAgentUpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	agent := Agent{ID: "a1", SessionID: "s1", SpawnedAt: now, Status: AgentRunning, Source: SourceCLI}
	if err := db.UpsertAgent(ctx, agent); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	agent.Pattern = "swarm"
	if err := db.UpsertAgent(ctx, agent); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	n, err := db.CountRunning(ctx, "")
	if err != nil {
		t.Fatalf("count running: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one running row, got %d", n)
	}

	got, err := db.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Pattern != "swarm" {
		t.Fatalf("expected last-writer-wins pattern update, got %q", got.Pattern)
	}
}

func TestCompleteAgentIsNoOpOnUnknown(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CompleteAgent(ctx, "ghost", AgentCompleted, "", time.Now()); err != nil {
		t.Fatalf("complete unknown agent should be a no-op, got error: %v", err)
	}
}

func TestCompleteAgentFirstCallWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := db.UpsertAgent(ctx, Agent{ID: "a1", SessionID: "s1", SpawnedAt: now, Status: AgentRunning}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	first := now.Add(1 * time.Second)
	if err := db.CompleteAgent(ctx, "a1", AgentCompleted, "", first); err != nil {
		t.Fatalf("complete 1: %v", err)
	}
	second := now.Add(2 * time.Second)
	if err := db.CompleteAgent(ctx, "a1", AgentFailed, "later", second); err != nil {
		t.Fatalf("complete 2: %v", err)
	}

	got, err := db.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Status != AgentCompleted {
		t.Fatalf("expected status from first complete() call to stick, got %q", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(first) {
		t.Fatalf("expected completed_at from first call, got %v", got.CompletedAt)
	}
}

func TestBroadcastDoneIsDeduplicatedOnRead(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := db.AppendBroadcast(ctx, "swarm1", "a1", BroadcastDone, nil, now); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := db.AppendBroadcast(ctx, "swarm1", "a1", BroadcastDone, nil, now.Add(time.Millisecond)); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	n, err := db.CountDistinctSenders(ctx, "swarm1", BroadcastDone)
	if err != nil {
		t.Fatalf("count distinct senders: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one distinct done sender despite two posts, got %d", n)
	}
}

func TestFileClaimRaceAndTTLExpiry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	owner1, err := db.ClaimFile(ctx, "src/x.py", "p", "S1", 60*time.Second, now)
	if err != nil {
		t.Fatalf("claim 1: %v", err)
	}
	owner2, err := db.ClaimFile(ctx, "src/x.py", "p", "S2", 60*time.Second, now.Add(time.Second))
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if owner1 != "S1" || owner2 != "S1" {
		t.Fatalf("expected S1 to win the race, got %q then %q", owner1, owner2)
	}

	claimed, by, err := db.CheckFileClaim(ctx, "src/x.py", "p", "S2", now.Add(time.Second))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !claimed || by != "S1" {
		t.Fatalf("expected S2 to see S1's live claim, got claimed=%v by=%q", claimed, by)
	}

	// After TTL elapses, S2 takes over.
	afterTTL := now.Add(61 * time.Second)
	owner3, err := db.ClaimFile(ctx, "src/x.py", "p", "S2", 60*time.Second, afterTTL)
	if err != nil {
		t.Fatalf("claim after ttl: %v", err)
	}
	if owner3 != "S2" {
		t.Fatalf("expected S2 to take over an expired claim, got %q", owner3)
	}

	claimed, by, err = db.CheckFileClaim(ctx, "src/x.py", "p", "S1", afterTTL)
	if err != nil {
		t.Fatalf("check after takeover: %v", err)
	}
	if !claimed || by != "S2" {
		t.Fatalf("expected S1 to see S2 as new owner, got claimed=%v by=%q", claimed, by)
	}
}

func TestCircuitStateLazyInit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	cs, err := db.GetOrInitCircuitState(ctx, "cb1", 3, now)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if cs.State != CircuitClosed || cs.CurrentThreshold != 3 {
		t.Fatalf("unexpected initial state: %+v", cs)
	}

	// Second call returns the same row, not a freshly-initialized one.
	cs.FailureCount = 2
	cs.UpdatedAt = now
	if err := db.SaveCircuitState(ctx, cs); err != nil {
		t.Fatalf("save: %v", err)
	}
	cs2, err := db.GetOrInitCircuitState(ctx, "cb1", 3, now)
	if err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if cs2.FailureCount != 2 {
		t.Fatalf("expected persisted failure_count, got %d", cs2.FailureCount)
	}
}

func TestUpdateCircuitStateIsTransactional(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	cs, err := db.UpdateCircuitState(ctx, "cb1", 3, now, func(cs *CircuitState) {
		cs.FailureCount++
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if cs.FailureCount != 1 || cs.CurrentThreshold != 3 {
		t.Fatalf("unexpected state after first update: %+v", cs)
	}

	// Concurrent updates to the same cb_id must not lose an increment:
	// each call reads, mutates, and writes inside one transaction, so N
	// sequential calls (standing in for N racing hook processes) must
	// sum to exactly N, not fewer.
	const n = 20
	for i := 0; i < n; i++ {
		if _, err := db.UpdateCircuitState(ctx, "cb1", 3, now, func(cs *CircuitState) {
			cs.FailureCount++
		}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	final, err := db.GetCircuitState(ctx, "cb1")
	if err != nil {
		t.Fatalf("get final: %v", err)
	}
	if final.FailureCount != 1+n {
		t.Fatalf("expected failure_count %d, got %d (lost update)", 1+n, final.FailureCount)
	}
}
