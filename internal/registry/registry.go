// Package registry implements the Agent Registry (spec component C3):
// the source of truth for "who is running", grounded on the teacher's
// internal/memory/agent_control.go AgentControlRepository.
package registry

import (
	"context"
	"time"

	"github.com/agentcoord/runtime/internal/idvalidate"
	"github.com/agentcoord/runtime/internal/store"
)

// Registry tracks every running agent's id, session, pattern, parent,
// PID, status, and timestamps.
type Registry struct {
	db *store.DB
}

// New constructs a Registry backed by db.
func New(db *store.DB) *Registry {
	return &Registry{db: db}
}

// Register records a new agent or refreshes an existing one. Idempotent
// on id: registering the same id twice produces one row, with the second
// call's non-key fields winning (spec.md §4.3, §8).
func (r *Registry) Register(ctx context.Context, id, sessionID, pattern string, pid *int, parentAgentID string, source store.AgentSource, now time.Time) error {
	id = idvalidate.OrUnknown(id)
	sessionID = idvalidate.OrUnknown(sessionID)
	if id == "unknown" {
		return nil
	}

	return r.db.UpsertAgent(ctx, store.Agent{
		ID:            id,
		SessionID:     sessionID,
		Pattern:       pattern,
		ParentAgentID: parentAgentID,
		PID:           pid,
		SpawnedAt:     now,
		Status:        store.AgentRunning,
		Source:        source,
	})
}

// Complete marks an agent terminal. A call on an unknown id is a no-op:
// agents may terminate via a path that skips the registry (spec.md §4.3).
func (r *Registry) Complete(ctx context.Context, id string, status store.AgentStatus, errorMessage string, now time.Time) error {
	if !idvalidate.Valid(id) {
		return nil
	}
	return r.db.CompleteAgent(ctx, id, status, errorMessage, now)
}

// CountRunning is the admission signal for resource-aware patterns
// (spec.md §4.3).
func (r *Registry) CountRunning(ctx context.Context, sessionID string) (int, error) {
	return r.db.CountRunning(ctx, sessionID)
}

// ListRunning returns all running agents, optionally scoped to a session.
func (r *Registry) ListRunning(ctx context.Context, sessionID string) ([]store.Agent, error) {
	return r.db.ListRunning(ctx, sessionID)
}

// ListDescendants returns every agent transitively spawned under id,
// used by the Hierarchical pattern.
func (r *Registry) ListDescendants(ctx context.Context, id string) ([]store.Agent, error) {
	return r.db.ListDescendants(ctx, id)
}

// Get retrieves a single agent by id.
func (r *Registry) Get(ctx context.Context, id string) (store.Agent, error) {
	return r.db.GetAgent(ctx, id)
}

// Sweep marks any agent still "running" past maxAge as failed — a row
// that old is presumed leaked (spec.md §3). Returns the count swept.
func (r *Registry) Sweep(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	return r.db.SweepLeakedAgents(ctx, maxAge, now)
}
