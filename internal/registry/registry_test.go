package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcoord/runtime/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestRegisterRejectsInvalidID(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "bad id with spaces!", "s1", "swarm", nil, "", store.SourceCLI, time.Now()); err != nil {
		t.Fatalf("register with invalid id should be a quiet no-op, got error: %v", err)
	}

	n, err := reg.CountRunning(ctx, "")
	if err != nil {
		t.Fatalf("count running: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no agent registered for an invalid id, got %d", n)
	}
}

func TestAtMostOneRunningRowPerAgent(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		if err := reg.Register(ctx, "a1", "s1", "swarm", nil, "", store.SourceCLI, now); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}

	n, err := reg.CountRunning(ctx, "")
	if err != nil {
		t.Fatalf("count running: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected <= 1 running row for the agent id, got %d", n)
	}
}

func TestSweepLeakedAgents(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	old := time.Now().Add(-25 * time.Hour)

	if err := reg.Register(ctx, "stale", "s1", "", nil, "", store.SourceCLI, old); err != nil {
		t.Fatalf("register: %v", err)
	}

	n, err := reg.Sweep(ctx, store.AgentLeakAge, time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 leaked agent swept, got %d", n)
	}

	agent, err := reg.Get(ctx, "stale")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if agent.Status != store.AgentFailed {
		t.Fatalf("expected swept agent marked failed, got %q", agent.Status)
	}
}
