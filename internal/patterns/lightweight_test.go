package patterns

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/registry"
	"github.com/agentcoord/runtime/internal/store"
)

func newTestDBForPatterns(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJuryBlocksUntilQuorum(t *testing.T) {
	db := newTestDBForPatterns(t)
	bb := blackboard.New(db)
	j := NewJury(bb, 2)
	ctx := context.Background()

	j.OnSubagentStop(ctx, Event{SwarmID: "s1", AgentID: "j1", ToolResponse: map[string]interface{}{"verdict": "guilty"}})
	dec := j.OnStop(ctx, Event{SwarmID: "s1"})
	if dec.Result != ResultBlock {
		t.Fatalf("expected block before quorum, got %+v", dec)
	}

	j.OnSubagentStop(ctx, Event{SwarmID: "s1", AgentID: "j2", ToolResponse: map[string]interface{}{"verdict": "guilty"}})
	dec = j.OnStop(ctx, Event{SwarmID: "s1"})
	if dec.Result != ResultContinue {
		t.Fatalf("expected continue once quorum reached, got %+v", dec)
	}
}

func TestChainOfResponsibilityPassesWhenUnhandled(t *testing.T) {
	db := newTestDBForPatterns(t)
	bb := blackboard.New(db)
	c := NewChainOfResponsibility(bb)
	ctx := context.Background()

	dec := c.OnSubagentStop(ctx, Event{SwarmID: "s1", AgentID: "a1", ToolResponse: map[string]interface{}{"handled": false}})
	if dec.Result != ResultContinue {
		t.Fatalf("expected continue on pass, got %+v", dec)
	}

	broadcasts, err := bb.ReadOfType(ctx, "s1", broadcastPass)
	if err != nil {
		t.Fatalf("read pass broadcasts: %v", err)
	}
	if len(broadcasts) != 1 {
		t.Fatalf("expected one pass broadcast, got %d", len(broadcasts))
	}
}

func TestChainOfResponsibilityTerminatesWhenHandled(t *testing.T) {
	db := newTestDBForPatterns(t)
	bb := blackboard.New(db)
	c := NewChainOfResponsibility(bb)
	ctx := context.Background()

	dec := c.OnSubagentStop(ctx, Event{SwarmID: "s1", AgentID: "a1", ToolResponse: map[string]interface{}{"handled": true}})
	if dec.Result != ResultContinue {
		t.Fatalf("expected continue on handled, got %+v", dec)
	}

	broadcasts, err := bb.ReadOfType(ctx, "s1", broadcastHandled)
	if err != nil {
		t.Fatalf("read handled broadcasts: %v", err)
	}
	if len(broadcasts) != 1 {
		t.Fatalf("expected one handled broadcast, got %d", len(broadcasts))
	}
}

func TestHierarchicalBlocksUntilDescendantsComplete(t *testing.T) {
	db := newTestDBForPatterns(t)
	reg := registry.New(db)
	h := NewHierarchical(reg)
	ctx := context.Background()
	now := time.Now()

	if err := reg.Register(ctx, "child1", "s1", "hierarchical", nil, "parent1", store.SourceCLI, now); err != nil {
		t.Fatalf("register child1: %v", err)
	}
	dec := h.OnStop(ctx, Event{AgentID: "parent1"})
	if dec.Result != ResultBlock {
		t.Fatalf("expected block while a descendant is still running, got %+v", dec)
	}

	if err := reg.Complete(ctx, "child1", store.AgentCompleted, "", now); err != nil {
		t.Fatalf("complete child1: %v", err)
	}
	dec = h.OnStop(ctx, Event{AgentID: "parent1"})
	if dec.Result != ResultContinue {
		t.Fatalf("expected continue once all descendants complete, got %+v", dec)
	}
}

func TestMapReduceWaitsForReducer(t *testing.T) {
	db := newTestDBForPatterns(t)
	bb := blackboard.New(db)
	mr := NewMapReduce(bb, "reducer")
	ctx := context.Background()

	mr.OnSubagentStop(ctx, Event{SwarmID: "s1", AgentID: "mapper1", AgentRole: "mapper"})
	dec := mr.OnStop(ctx, Event{SwarmID: "s1", AgentID: "mapper1"})
	if dec.Result != ResultBlock {
		t.Fatalf("expected block before reducer completes, got %+v", dec)
	}

	mr.OnSubagentStop(ctx, Event{SwarmID: "s1", AgentID: "reducer1", AgentRole: "reducer"})
	dec = mr.OnStop(ctx, Event{SwarmID: "s1", AgentID: "reducer1"})
	if dec.Result != ResultContinue {
		t.Fatalf("expected continue once reducer completes, got %+v", dec)
	}
}
