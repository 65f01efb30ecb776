package statetransfer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/store"
)

func newTestTransfer(t *testing.T) *Transfer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(blackboard.New(db))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	s := State{
		Context:      map[string]interface{}{"k": "v"},
		Memory:       map[string]interface{}{"learned": "x"},
		Progress:     42,
		PendingTasks: []string{"t1", "t2"},
	}

	payload, checksum, err := Serialize(s)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	got, err := Deserialize(payload)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Progress != s.Progress || len(got.PendingTasks) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	payload2, checksum2, err := Serialize(got)
	if err != nil {
		t.Fatalf("re-serialize: %v", err)
	}
	if checksum2 != checksum {
		t.Fatalf("expected stable checksum across round trip, got %d vs %d", checksum2, checksum)
	}
	if payload2 != payload {
		t.Fatalf("expected stable payload across round trip")
	}
}

func TestSerializeRejectsOversizedState(t *testing.T) {
	huge := strings.Repeat("x", MaxStateSize+1)
	_, _, err := Serialize(State{Memory: map[string]interface{}{"blob": huge}})
	if err != ErrStateTooLarge {
		t.Fatalf("expected ErrStateTooLarge, got %v", err)
	}
}

func TestPublishThenRestoreRoundTrip(t *testing.T) {
	tr := newTestTransfer(t)
	ctx := context.Background()

	s := State{Progress: 42, PendingTasks: []string{"t1"}}
	if err := tr.Publish(ctx, "swarm1", "a_old", "a_new", s); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, ok, err := tr.Restore(ctx, "swarm1", "a_new")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !ok {
		t.Fatal("expected a restorable state for a_new")
	}
	if got.Progress != 42 || len(got.PendingTasks) != 1 || got.PendingTasks[0] != "t1" {
		t.Fatalf("unexpected restored state: %+v", got)
	}
}

// TestRestoreDiscardsOnChecksumMismatch is spec.md §8 scenario 4: a_old
// publishes with checksum C, the broadcast arrives with checksum mutated
// to C', and a_new's restore must discard silently rather than error.
func TestRestoreDiscardsOnChecksumMismatch(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	bb := blackboard.New(db)
	tr := New(bb)
	ctx := context.Background()

	s := State{Progress: 42, PendingTasks: []string{"t1"}}
	payload, checksum, err := Serialize(s)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	corrupted := envelope{Payload: payload, Checksum: checksum + 1}
	corruptedJSON, err := json.Marshal(corrupted)
	if err != nil {
		t.Fatalf("marshal corrupted envelope: %v", err)
	}

	if _, err := bb.Post(ctx, "swarm1", "a_old", store.BroadcastStateTransfer, map[string]interface{}{
		"dst":      "a_new",
		"envelope": string(corruptedJSON),
	}); err != nil {
		t.Fatalf("post corrupted: %v", err)
	}

	_, ok, err := tr.Restore(ctx, "swarm1", "a_new")
	if err != nil {
		t.Fatalf("restore should not error on checksum mismatch, got %v", err)
	}
	if ok {
		t.Fatal("expected corrupted transfer to be discarded, not restored")
	}
}

func TestRestoreFindsNothingForWrongTarget(t *testing.T) {
	tr := newTestTransfer(t)
	ctx := context.Background()

	if err := tr.Publish(ctx, "swarm1", "a_old", "a_new", State{Progress: 10}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, ok, err := tr.Restore(ctx, "swarm1", "someone_else")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if ok {
		t.Fatal("expected no restorable state for an unaddressed agent")
	}
}
