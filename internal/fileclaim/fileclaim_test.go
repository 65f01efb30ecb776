package fileclaim

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcoord/runtime/internal/store"
)

func newTestArbiter(t *testing.T) *Arbiter {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestClaimDefaultsTTLWhenUnspecified(t *testing.T) {
	a := newTestArbiter(t)
	ctx := context.Background()
	now := time.Now()

	owner, err := a.Claim(ctx, "src/a.go", "proj", "S1", 0, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if owner != "S1" {
		t.Fatalf("expected S1 to win an uncontested claim, got %q", owner)
	}

	claimed, by, err := a.Check(ctx, "src/a.go", "proj", "S2", now.Add(DefaultTTL-time.Second))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !claimed || by != "S1" {
		t.Fatalf("expected claim still live just under default ttl, got claimed=%v by=%q", claimed, by)
	}
}

func TestReleaseIgnoresNonOwner(t *testing.T) {
	a := newTestArbiter(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := a.Claim(ctx, "src/a.go", "proj", "S1", time.Minute, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := a.Release(ctx, "src/a.go", "proj", "S2"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}

	claimed, by, err := a.Check(ctx, "src/a.go", "proj", "S2", now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !claimed || by != "S1" {
		t.Fatalf("expected S1's claim to survive a non-owner release, got claimed=%v by=%q", claimed, by)
	}

	if err := a.Release(ctx, "src/a.go", "proj", "S1"); err != nil {
		t.Fatalf("release by owner: %v", err)
	}
	claimed, _, err = a.Check(ctx, "src/a.go", "proj", "S2", now)
	if err != nil {
		t.Fatalf("check after owner release: %v", err)
	}
	if claimed {
		t.Fatalf("expected claim gone after owner released it")
	}
}

func TestListFileClaimsScopedToProject(t *testing.T) {
	a := newTestArbiter(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := a.Claim(ctx, "a.go", "p1", "S1", time.Minute, now); err != nil {
		t.Fatalf("claim p1: %v", err)
	}
	if _, err := a.Claim(ctx, "b.go", "p2", "S1", time.Minute, now); err != nil {
		t.Fatalf("claim p2: %v", err)
	}

	claims, err := a.List(ctx, "p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(claims) != 1 || claims[0].FilePath != "a.go" {
		t.Fatalf("expected only p1's claim, got %+v", claims)
	}
}
