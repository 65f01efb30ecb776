package externalio

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentcoord/runtime/internal/store"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestStoreReturnsIDOnSuccess(t *testing.T) {
	s := newTestSink(t)
	id := s.Store(context.Background(), "s1", store.LearningWorkingSolution, "use exponential backoff", "circuit breaker tuning", store.ConfidenceHigh)
	if id == "" {
		t.Fatalf("expected a non-empty id")
	}
}

func TestStoreDefaultsConfidenceWhenUnspecified(t *testing.T) {
	s := newTestSink(t)
	id := s.Store(context.Background(), "s1", store.LearningErrorFix, "retry on 503", "", "")
	if id == "" {
		t.Fatalf("expected a non-empty id even with empty confidence")
	}
}

func TestStoreDegradesSilentlyOnMalformedSession(t *testing.T) {
	s := newTestSink(t)
	id := s.Store(context.Background(), "bad id!", store.LearningErrorFix, "content", "", store.ConfidenceLow)
	if id != "" {
		t.Fatalf("expected empty id for malformed session, got %q", id)
	}
}

func TestStoreDegradesSilentlyOnEmptyContent(t *testing.T) {
	s := newTestSink(t)
	id := s.Store(context.Background(), "s1", store.LearningErrorFix, "", "", store.ConfidenceLow)
	if id != "" {
		t.Fatalf("expected empty id for empty content, got %q", id)
	}
}

func TestIngestReturnsIDOnSuccess(t *testing.T) {
	s := newTestSink(t)
	id := s.Ingest(context.Background(), "s1", "proj", "initial", "scan found 12 go files", map[string]interface{}{"languages": []string{"go"}})
	if id == "" {
		t.Fatalf("expected a non-empty id")
	}
}

func TestIngestDegradesSilentlyOnMissingProject(t *testing.T) {
	s := newTestSink(t)
	id := s.Ingest(context.Background(), "s1", "", "initial", "content", nil)
	if id != "" {
		t.Fatalf("expected empty id when project is missing, got %q", id)
	}
}
