package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// LearningKind enumerates the cross-session learning categories of
// spec.md §4.10.
type LearningKind string

const (
	LearningWorkingSolution       LearningKind = "WORKING_SOLUTION"
	LearningFailedApproach        LearningKind = "FAILED_APPROACH"
	LearningArchitecturalDecision LearningKind = "ARCHITECTURAL_DECISION"
	LearningCodebasePattern       LearningKind = "CODEBASE_PATTERN"
	LearningErrorFix              LearningKind = "ERROR_FIX"
)

// LearningConfidence is the caller-asserted confidence of a Learning.
type LearningConfidence string

const (
	ConfidenceLow    LearningConfidence = "low"
	ConfidenceMedium LearningConfidence = "medium"
	ConfidenceHigh   LearningConfidence = "high"
)

// Learning is a durable, cross-session learning record (spec.md §4.10).
type Learning struct {
	ID         string
	SessionID  string
	Kind       LearningKind
	Content    string
	Context    string
	Confidence LearningConfidence
	CreatedAt  time.Time
}

// AddLearning persists a Learning record.
func (db *DB) AddLearning(ctx context.Context, l Learning) error {
	_, err := db.Execute(ctx, `
		INSERT INTO learnings (id, session_id, kind, content, context, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.SessionID, string(l.Kind), l.Content, NullString(l.Context), string(l.Confidence), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("add learning: %w", err)
	}
	return nil
}

// ScanIngest is a durable record of a codebase-scan submission (spec.md
// §4.10 ingest).
type ScanIngest struct {
	ID        string
	SessionID string
	Project   string
	ScanType  string
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// AddScanIngest persists a ScanIngest record.
func (db *DB) AddScanIngest(ctx context.Context, s ScanIngest) error {
	metaJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal scan metadata: %w", err)
	}
	_, err = db.Execute(ctx, `
		INSERT INTO scan_ingests (id, session_id, project, scan_type, content, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.SessionID, s.Project, s.ScanType, s.Content, string(metaJSON), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("add scan ingest: %w", err)
	}
	return nil
}
