// Package externalio implements the External I/O Contracts (spec
// component C10): a Learning sink and a codebase-scan ingest path, both
// best-effort and non-blocking to their caller. Grounded on the teacher's
// internal/memory/learning.go (StoreKnowledge/RecordEpisode's "caller
// never sees a storage failure as fatal" posture) and
// internal/memory/recon.go (RecordScan/SaveFindings' upsert-and-forget
// shape), stripped of the teacher's TF-IDF search surface since spec.md
// §4.10 asks only for a write path (store/ingest), not retrieval.
package externalio

import (
	"context"
	"time"

	"github.com/agentcoord/runtime/internal/idvalidate"
	"github.com/agentcoord/runtime/internal/logging"
	"github.com/agentcoord/runtime/internal/store"

	"github.com/google/uuid"
)

// Sink wraps a Store to provide the two best-effort write contracts of
// spec.md §4.10. A failure anywhere inside Store/Ingest is logged and
// turned into an empty id ("") — it is never propagated as an error, since
// neither contract is allowed to block or fail its caller (a hook process
// exiting non-zero over a learning write would be far worse than losing
// the learning).
type Sink struct {
	db  *store.DB
	log *logging.Logger
}

// New constructs a Sink backed by db.
func New(db *store.DB) *Sink {
	return &Sink{db: db, log: logging.New("EXTERNALIO")}
}

// Store records a cross-session learning. Returns the generated id, or
// an empty string if the write failed or sessionID was malformed — both
// are silent, best-effort outcomes per spec.md §4.10.
func (s *Sink) Store(ctx context.Context, sessionID string, kind store.LearningKind, content, context_ string, confidence store.LearningConfidence) string {
	if !idvalidate.Valid(sessionID) || content == "" {
		return ""
	}
	if confidence == "" {
		confidence = store.ConfidenceMedium
	}

	l := store.Learning{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Kind:       kind,
		Content:    content,
		Context:    context_,
		Confidence: confidence,
		CreatedAt:  time.Now(),
	}
	if err := s.db.AddLearning(ctx, l); err != nil {
		s.log.Printf("store learning failed (degrading silently): %v", err)
		return ""
	}
	return l.ID
}

// Ingest records a codebase-scan submission. Same best-effort contract as
// Store: a nil-equivalent ("") return on any failure, never an error.
func (s *Sink) Ingest(ctx context.Context, sessionID, project, scanType, content string, metadata map[string]interface{}) string {
	if !idvalidate.Valid(sessionID) || project == "" || content == "" {
		return ""
	}

	rec := store.ScanIngest{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Project:   project,
		ScanType:  scanType,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := s.db.AddScanIngest(ctx, rec); err != nil {
		s.log.Printf("scan ingest failed (degrading silently): %v", err)
		return ""
	}
	return rec.ID
}
