package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcoord/runtime/internal/store"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, nil), db
}

type recordingNotifier struct {
	titles, messages []string
}

func (r *recordingNotifier) Notify(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return nil
}

func TestHeartbeatCreatesThenRefreshesSession(t *testing.T) {
	sup, db := newTestSupervisor(t)
	ctx := context.Background()
	now := time.Now()

	if err := sup.Heartbeat(ctx, "s1", "proj", "initial task", now); err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	got, err := db.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.WorkingOn != "initial task" {
		t.Fatalf("expected working_on set on creation, got %q", got.WorkingOn)
	}

	later := now.Add(time.Minute)
	if err := sup.Heartbeat(ctx, "s1", "proj", "should be ignored", later); err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}
	got, err = db.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session after refresh: %v", err)
	}
	if got.WorkingOn != "initial task" {
		t.Fatalf("expected working_on preserved across heartbeat-only refresh, got %q", got.WorkingOn)
	}
	if !got.LastHeartbeat.Equal(later) {
		t.Fatalf("expected last_heartbeat updated to %v, got %v", later, got.LastHeartbeat)
	}
}

func TestHeartbeatIgnoresMalformedSessionID(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if err := sup.Heartbeat(context.Background(), "bad id with spaces!", "proj", "", time.Now()); err != nil {
		t.Fatalf("expected silent no-op, got error: %v", err)
	}
}

func TestListActiveExcludesStaleSessions(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()
	now := time.Now()

	if err := sup.Heartbeat(ctx, "fresh", "proj", "", now); err != nil {
		t.Fatalf("heartbeat fresh: %v", err)
	}
	if err := sup.Heartbeat(ctx, "stale", "proj", "", now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("heartbeat stale: %v", err)
	}

	active, err := sup.ListActive(ctx, "proj", now)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != "fresh" {
		t.Fatalf("expected only 'fresh' active, got %+v", active)
	}
}

func TestAwakenReportsOtherSessionsAndContention(t *testing.T) {
	sup, db := newTestSupervisor(t)
	ctx := context.Background()
	now := time.Now()

	if err := sup.Heartbeat(ctx, "other", "proj", "", now); err != nil {
		t.Fatalf("heartbeat other: %v", err)
	}
	if _, err := db.ClaimFile(ctx, "src/x.py", "proj", "other", 30*time.Minute, now); err != nil {
		t.Fatalf("claim file: %v", err)
	}

	notifier := &recordingNotifier{}
	sup.notifier = notifier

	aw, err := sup.Awaken(ctx, "new", "proj", []string{"src/x.py", "src/y.py"}, now)
	if err != nil {
		t.Fatalf("awaken: %v", err)
	}
	if len(aw.OtherActiveSessions) != 1 || aw.OtherActiveSessions[0].ID != "other" {
		t.Fatalf("expected to see 'other' as active, got %+v", aw.OtherActiveSessions)
	}
	if len(aw.ContendedFiles) != 1 || aw.ContendedFiles[0].Path != "src/x.py" || aw.ContendedFiles[0].ClaimedBy != "other" {
		t.Fatalf("expected contention on src/x.py claimed by 'other', got %+v", aw.ContendedFiles)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected exactly one contention notification, got %d", len(notifier.messages))
	}
}

func TestAwakenIgnoresExpiredClaims(t *testing.T) {
	sup, db := newTestSupervisor(t)
	ctx := context.Background()
	claimedAt := time.Now().Add(-time.Hour)

	if _, err := db.ClaimFile(ctx, "src/x.py", "proj", "other", time.Minute, claimedAt); err != nil {
		t.Fatalf("claim file: %v", err)
	}

	aw, err := sup.Awaken(ctx, "new", "proj", []string{"src/x.py"}, time.Now())
	if err != nil {
		t.Fatalf("awaken: %v", err)
	}
	if len(aw.ContendedFiles) != 0 {
		t.Fatalf("expected no contention from an expired claim, got %+v", aw.ContendedFiles)
	}
}
