// Package fileclaim implements the File Claim Arbiter (spec component
// C6): exclusive, TTL-bounded ownership of a project-scoped file path.
// The ownership-checked take-over idiom is adapted from the teacher's
// internal/instance.InstanceManager, which guards a single pidfile-based
// lock the same way: read the current owner, decide whether it is still
// live, and only then overwrite it.
package fileclaim

import (
	"context"
	"time"

	"github.com/agentcoord/runtime/internal/idvalidate"
	"github.com/agentcoord/runtime/internal/store"
)

// DefaultTTL is applied when a caller claims a file without specifying
// one (spec.md §4.6).
const DefaultTTL = 30 * time.Minute

// Arbiter wraps the store's file-claim table with id validation and TTL
// defaulting.
type Arbiter struct {
	db *store.DB
}

// New constructs an Arbiter backed by db.
func New(db *store.DB) *Arbiter {
	return &Arbiter{db: db}
}

// Claim attempts to take exclusive ownership of path within project on
// behalf of sessionID. It returns the resulting owner, which may not be
// sessionID: a live foreign claim is never pre-empted before its TTL
// expires (spec.md §4.6, scenario 3). A zero or negative ttl falls back
// to DefaultTTL.
func (a *Arbiter) Claim(ctx context.Context, path, project, sessionID string, ttl time.Duration, now time.Time) (string, error) {
	sessionID = idvalidate.OrUnknown(sessionID)
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return a.db.ClaimFile(ctx, path, project, sessionID, ttl, now)
}

// Check reports whether path is currently claimed by someone other than
// me, and if so by whom. An expired claim reports as unclaimed.
func (a *Arbiter) Check(ctx context.Context, path, project, me string, now time.Time) (claimed bool, owner string, err error) {
	return a.db.CheckFileClaim(ctx, path, project, me, now)
}

// Release drops sessionID's claim on path, if it owns one. Releasing a
// claim owned by someone else is a silent no-op (spec.md §4.6).
func (a *Arbiter) Release(ctx context.Context, path, project, sessionID string) error {
	return a.db.ReleaseFileClaim(ctx, path, project, sessionID)
}

// List returns every claim recorded for a project, live or expired; the
// caller is expected to filter with FileClaim.Live when it cares.
func (a *Arbiter) List(ctx context.Context, project string) ([]store.FileClaim, error) {
	return a.db.ListFileClaims(ctx, project)
}
