// Package session implements the Session Supervisor (spec component C9):
// heartbeats live sessions, expires stale ones, and exposes an active-
// sessions view for cross-session awareness. Grounded on the teacher's
// internal/server/heartbeat.go (stale-scan-then-act loop shape) and
// internal/server/cleanup.go (periodic sweep), renamed to the
// session/heartbeat terms of spec.md §3-§4.9.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcoord/runtime/internal/idvalidate"
	"github.com/agentcoord/runtime/internal/logging"
	"github.com/agentcoord/runtime/internal/store"
)

// Supervisor heartbeats sessions and answers cross-session-awareness
// queries. It holds no in-process state of its own beyond the Store;
// "active" is always computed from last_heartbeat, same as the teacher's
// presence tracker computes staleness from a timestamp map rather than a
// separate liveness flag.
type Supervisor struct {
	db       *store.DB
	log      *logging.Logger
	notifier Notifier
}

// Notifier is a best-effort, out-of-band alert channel. It must never
// block or fail the caller; errors are swallowed by the Supervisor and
// only logged. The production implementation is Toast (desktop toast,
// Windows-only); tests use a no-op or recording stub.
type Notifier interface {
	Notify(title, message string) error
}

// New constructs a Supervisor. notifier may be nil, in which case
// contention warnings are logged only.
func New(db *store.DB, notifier Notifier) *Supervisor {
	return &Supervisor{db: db, log: logging.New("SESSION"), notifier: notifier}
}

// Heartbeat records activity for a session on SessionStart, SubagentStart,
// or SubagentStop (spec.md §4.9). If the session is new, it is created
// with the given project and working-on description; otherwise only
// last_heartbeat is bumped, preserving the session's other fields. This
// differs from calling store.UpsertSession directly, which overwrites the
// mutable fields on every later call.
func (s *Supervisor) Heartbeat(ctx context.Context, sessionID, project, workingOn string, now time.Time) error {
	sessionID = idvalidate.OrUnknown(sessionID)
	if sessionID == "unknown" {
		return nil
	}

	if err := s.db.Heartbeat(ctx, sessionID, now); err == store.ErrNotFound {
		return s.db.UpsertSession(ctx, store.Session{
			ID:            sessionID,
			Project:       project,
			WorkingOn:     workingOn,
			StartedAt:     now,
			LastHeartbeat: now,
		})
	} else if err != nil {
		return err
	}
	return nil
}

// ListActive returns sessions with a last_heartbeat within
// store.SessionActiveWindow, optionally scoped to project (spec.md §4.9
// list_active).
func (s *Supervisor) ListActive(ctx context.Context, project string, now time.Time) ([]store.Session, error) {
	return s.db.ListActiveSessions(ctx, project, now)
}

// Awareness is what a cross-session-awareness hook reports to a newly
// started session: which other sessions are active in the same project,
// and which of those sessions is claiming a file that the new session is
// about to touch.
type Awareness struct {
	OtherActiveSessions []store.Session
	ContendedFiles      []ContendedFile
}

// ContendedFile names a file the new session intends to touch that is
// already claimed, live, by a different session.
type ContendedFile struct {
	Path       string
	ClaimedBy  string
	ClaimedAgo time.Duration
}

// Awaken computes the cross-session-awareness view for a session
// starting work in project, optionally declaring the files it intends to
// touch. It never returns an error for a missing project/session — an
// empty Awareness is a valid, silent answer (spec.md §4.9 is informational,
// not load-bearing).
func (s *Supervisor) Awaken(ctx context.Context, sessionID, project string, intendedFiles []string, now time.Time) (Awareness, error) {
	active, err := s.db.ListActiveSessions(ctx, project, now)
	if err != nil {
		return Awareness{}, err
	}

	var others []store.Session
	for _, sess := range active {
		if sess.ID != sessionID {
			others = append(others, sess)
		}
	}

	var contended []ContendedFile
	if len(intendedFiles) > 0 {
		claims, err := s.db.ListFileClaims(ctx, project)
		if err != nil {
			return Awareness{}, err
		}
		wanted := make(map[string]bool, len(intendedFiles))
		for _, f := range intendedFiles {
			wanted[f] = true
		}
		for _, c := range claims {
			if !wanted[c.FilePath] || c.SessionID == sessionID || !c.Live(now) {
				continue
			}
			contended = append(contended, ContendedFile{
				Path:       c.FilePath,
				ClaimedBy:  c.SessionID,
				ClaimedAgo: now.Sub(c.ClaimedAt),
			})
		}
	}

	awareness := Awareness{OtherActiveSessions: others, ContendedFiles: contended}
	s.warnOnContention(sessionID, awareness)
	return awareness, nil
}

// warnOnContention fires a best-effort notification when the new session
// is about to collide with live claims. Failures are logged, never
// propagated — matching the teacher's "respawn attempted, log on failure"
// posture in handleStaleAgent, here applied to a notify-only path.
func (s *Supervisor) warnOnContention(sessionID string, a Awareness) {
	if len(a.ContendedFiles) == 0 || s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("session %s: %d file(s) already claimed by other active sessions", sessionID, len(a.ContendedFiles))
	if err := s.notifier.Notify("File claim contention", msg); err != nil {
		s.log.Printf("notify failed: %v", err)
	}
}

// Sweep is a no-op placeholder for symmetry with the teacher's periodic
// cleanup loop: spec.md has no explicit session-expiry deletion (a stale
// session simply drops out of ListActiveSessions), so there is nothing to
// delete here. Kept so a caller wiring a ticker loop (cmd/coordinatord)
// has a single, stable entry point if that changes.
func (s *Supervisor) Sweep(ctx context.Context, now time.Time) error {
	return nil
}
