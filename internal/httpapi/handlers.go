package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("encode response failed: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleListSessions serves GET /sessions?project=, the active-session
// view behind the Session Supervisor (spec.md §4.9).
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.budgeted(r)
	defer cancel()

	project := r.URL.Query().Get("project")
	sessions, err := s.sup.ListActive(ctx, project, time.Now())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, sessions)
}

// handleListAgents serves GET /agents?session=, the running-agent view
// behind the Agent Registry (spec.md §4.3).
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.budgeted(r)
	defer cancel()

	sessionID := r.URL.Query().Get("session")
	agents, err := s.reg.ListRunning(ctx, sessionID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, agents)
}

// handleBlackboard serves GET /blackboard/{swarm_id}: the most recent
// broadcasts plus the de-duplicated completion view (spec.md §4.4,
// §4.5.a).
func (s *Server) handleBlackboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.budgeted(r)
	defer cancel()

	swarmID := mux.Vars(r)["swarm_id"]
	broadcasts, err := s.bb.Read(ctx, swarmID, "", 0)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	complete, err := s.bb.SwarmComplete(ctx, swarmID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	missing, err := s.bb.MissingDoneSenders(ctx, swarmID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, map[string]interface{}{
		"swarm_id":   swarmID,
		"broadcasts": broadcasts,
		"complete":   complete,
		"missing":    missing,
	})
}

// handleCircuit serves GET /circuit/{cb_id}: a breaker's current state,
// counters, and adaptive threshold (spec.md §4.5.c).
func (s *Server) handleCircuit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.budgeted(r)
	defer cancel()

	cbID := mux.Vars(r)["cb_id"]
	cs, err := s.db.GetCircuitState(ctx, cbID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, cs)
}

// handleClaims serves GET /claims?project=: every live file claim in a
// project (spec.md §4.6).
func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.budgeted(r)
	defer cancel()

	project := r.URL.Query().Get("project")
	claims, err := s.db.ListFileClaims(ctx, project)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now()
	live := make([]interface{}, 0, len(claims))
	for _, c := range claims {
		if c.Live(now) {
			live = append(live, c)
		}
	}
	s.respondJSON(w, live)
}

// handlePipeline serves GET /pipeline/{pipeline_id}: every artifact a
// pipeline has produced so far, in stage order (spec.md §4.5.b).
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.budgeted(r)
	defer cancel()

	pipelineID := mux.Vars(r)["pipeline_id"]
	artifacts, err := s.db.AllArtifacts(ctx, pipelineID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, map[string]interface{}{
		"pipeline_id": pipelineID,
		"artifacts":   artifacts,
	})
}
