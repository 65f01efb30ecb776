package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/config"
	"github.com/agentcoord/runtime/internal/patterns"
	"github.com/agentcoord/runtime/internal/session"
	"github.com/agentcoord/runtime/internal/store"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	bb := blackboard.New(db)
	sup := session.New(db, nil)
	return New(db, bb, sup)
}

func envFrom(vars map[string]string) Env {
	return func(name string) string { return vars[name] }
}

func mustBody(t *testing.T, v map[string]interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func TestHandleReturnsEmptyObjectWhenNoPatternConfigured(t *testing.T) {
	d := newTestDispatcher(t)
	body := mustBody(t, map[string]interface{}{
		"hook_event_name": "PreToolUse",
		"session_id":      "s1",
	})

	out := d.Handle(context.Background(), body, envFrom(nil))
	if len(out) != 0 {
		t.Fatalf("expected empty decision, got %v", out)
	}
}

func TestHandleReturnsEmptyObjectOnMalformedJSON(t *testing.T) {
	d := newTestDispatcher(t)
	body := bytes.NewReader([]byte("{not json"))

	out := d.Handle(context.Background(), body, envFrom(nil))
	if len(out) != 0 {
		t.Fatalf("expected empty decision, got %v", out)
	}
}

func TestHandleRespectsStopHookActiveGuard(t *testing.T) {
	d := newTestDispatcher(t)
	body := mustBody(t, map[string]interface{}{
		"hook_event_name":  "Stop",
		"session_id":       "s1",
		"stop_hook_active": true,
	})

	out := d.Handle(context.Background(), body, envFrom(map[string]string{"PATTERN_TYPE": "swarm"}))
	if out["result"] != "continue" {
		t.Fatalf("expected continue decision on stop_hook_active guard, got %v", out)
	}
}

func TestHandleDispatchesToResolvedPattern(t *testing.T) {
	d := newTestDispatcher(t)
	body := mustBody(t, map[string]interface{}{
		"hook_event_name": "SubagentStart",
		"session_id":      "s1",
		"agent_id":        "agent-1",
	})

	env := envFrom(map[string]string{
		"PATTERN_TYPE": "hierarchical",
		"AGENT_ROLE":   "worker",
	})

	out := d.Handle(context.Background(), body, env)
	// Hierarchical has no SubagentStart handler override, so this is
	// still a no-op decision, but it must not have panicked or errored.
	if out == nil {
		t.Fatalf("expected a non-nil map")
	}
}

func TestHandleTracksAgentLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	startBody := mustBody(t, map[string]interface{}{
		"hook_event_name": "SubagentStart",
		"session_id":      "s1",
		"agent_id":        "agent-1",
	})
	d.Handle(context.Background(), startBody, envFrom(map[string]string{"PATTERN_TYPE": "swarm"}))

	agent, err := d.reg.Get(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("expected agent to be registered: %v", err)
	}
	if agent.Status != store.AgentRunning {
		t.Fatalf("expected running status, got %v", agent.Status)
	}

	stopBody := mustBody(t, map[string]interface{}{
		"hook_event_name": "SubagentStop",
		"session_id":      "s1",
		"agent_id":        "agent-1",
	})
	d.Handle(context.Background(), stopBody, envFrom(map[string]string{"PATTERN_TYPE": "swarm"}))

	agent, err = d.reg.Get(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("get after stop: %v", err)
	}
	if agent.Status != store.AgentCompleted {
		t.Fatalf("expected completed status, got %v", agent.Status)
	}
}

func TestHandleHeartbeatsSessionOnSessionStart(t *testing.T) {
	d := newTestDispatcher(t)
	body := mustBody(t, map[string]interface{}{
		"hook_event_name": "SessionStart",
		"session_id":      "s1",
	})
	d.Handle(context.Background(), body, envFrom(nil))

	active, err := d.sup.ListActive(context.Background(), "", time.Now())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != "s1" {
		t.Fatalf("expected session s1 to be active, got %v", active)
	}
}

func TestBreakerConfigFromEnvOverridesDefaults(t *testing.T) {
	env := envFrom(map[string]string{
		"CB_INITIAL_THRESHOLD":   "3",
		"CB_MIN_THRESHOLD":       "1",
		"CB_MAX_THRESHOLD":       "10",
		"CB_ADAPTATION_RATE":     "0.5",
		"CB_WINDOW_SIZE_SECONDS": "60",
	})
	d := newTestDispatcher(t)
	cfg := d.breakerConfigFromEnv(env)
	if cfg.InitialThreshold != 3 || cfg.MinThreshold != 1 || cfg.MaxThreshold != 10 {
		t.Fatalf("expected overridden thresholds, got %+v", cfg)
	}
	if cfg.AdaptationRate != 0.5 {
		t.Fatalf("expected overridden adaptation rate, got %v", cfg.AdaptationRate)
	}
	if cfg.WindowSize != 60*time.Second {
		t.Fatalf("expected overridden window size, got %v", cfg.WindowSize)
	}
}

func TestBreakerConfigFromEnvFallsBackToAttachedFileConfig(t *testing.T) {
	d := newTestDispatcher(t)
	fileCfg := &config.PatternConfig{}
	fileCfg.CircuitBreaker.InitialThreshold = 7
	fileCfg.CircuitBreaker.WindowSeconds = 45
	d.WithConfig(fileCfg)

	cfg := d.breakerConfigFromEnv(envFrom(nil))
	if cfg.InitialThreshold != 7 {
		t.Fatalf("expected file config threshold 7, got %v", cfg.InitialThreshold)
	}
	if cfg.WindowSize != 45*time.Second {
		t.Fatalf("expected file config window 45s, got %v", cfg.WindowSize)
	}
	// Fields the file config leaves zero still fall back to library defaults.
	def := patterns.DefaultBreakerConfig()
	if cfg.MinThreshold != def.MinThreshold || cfg.MaxThreshold != def.MaxThreshold {
		t.Fatalf("expected library defaults for unset fields, got %+v", cfg)
	}
}

func TestResolvePipelineFallsBackToFileConfigMandatoryStages(t *testing.T) {
	d := newTestDispatcher(t)
	fileCfg := &config.PatternConfig{}
	fileCfg.Pipeline.MandatoryStages = []int{0, 1}
	d.WithConfig(fileCfg)

	p := d.resolve("pipeline", envFrom(nil))
	if p == nil {
		t.Fatal("expected a non-nil pipeline engine")
	}
}

func TestParseIntList(t *testing.T) {
	got := parseIntList("1, 2,3")
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected parse result: %v", got)
	}
	if parseIntList("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestResolveReturnsNilForUnknownPatternType(t *testing.T) {
	d := newTestDispatcher(t)
	if p := d.resolve("not_a_real_pattern", envFrom(nil)); p != nil {
		t.Fatalf("expected nil engine for unknown pattern type, got %v", p)
	}
}

func TestHandleRejectsInvalidComposition(t *testing.T) {
	d := newTestDispatcher(t)
	body := mustBody(t, map[string]interface{}{
		"hook_event_name": "SubagentStart",
		"session_id":      "s1",
		"agent_id":        "agent-1",
	})

	env := envFrom(map[string]string{
		"PATTERN_TYPE": "hierarchical",
		"COMPOSE_WITH": "hierarchical",
	})

	out := d.Handle(context.Background(), body, env)
	if out["result"] != "block" {
		t.Fatalf("expected block decision for cyclic hierarchical composition, got %v", out)
	}
}

func TestHandleRecordsLearningOnSubagentStop(t *testing.T) {
	d := newTestDispatcher(t)
	body := mustBody(t, map[string]interface{}{
		"hook_event_name": "SubagentStop",
		"session_id":      "s1",
		"agent_id":        "agent-1",
		"tool_response": map[string]interface{}{
			"learning": map[string]interface{}{
				"kind":       "WORKING_SOLUTION",
				"content":    "use exponential backoff on retries",
				"context":    "circuit breaker tuning",
				"confidence": "high",
			},
		},
	})

	out := d.Handle(context.Background(), body, envFrom(map[string]string{"PATTERN_TYPE": "swarm"}))
	learning, ok := out["learning"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a learning field in the decision, got %v", out)
	}
	if learning["kind"] != "WORKING_SOLUTION" {
		t.Fatalf("expected learning kind WORKING_SOLUTION, got %v", learning["kind"])
	}
	if learning["id"] == "" {
		t.Fatalf("expected a non-empty learning id, got %v", learning["id"])
	}
}

func TestHandleSkipsLearningWhenToolResponseCarriesNone(t *testing.T) {
	d := newTestDispatcher(t)
	body := mustBody(t, map[string]interface{}{
		"hook_event_name": "SubagentStop",
		"session_id":      "s1",
		"agent_id":        "agent-1",
	})

	out := d.Handle(context.Background(), body, envFrom(map[string]string{"PATTERN_TYPE": "swarm"}))
	if _, ok := out["learning"]; ok {
		t.Fatalf("expected no learning field, got %v", out)
	}
}

func TestHandleIngestsScanOnPreCompact(t *testing.T) {
	d := newTestDispatcher(t)
	body := mustBody(t, map[string]interface{}{
		"hook_event_name": "PreCompact",
		"session_id":      "s1",
		"tool_response": map[string]interface{}{
			"scan": map[string]interface{}{
				"project":   "proj1",
				"scan_type": "pre_compact",
				"content":   "scanned 40 files before compaction",
			},
		},
	})

	// PreCompact carries no PATTERN_TYPE in this scenario; the ingest
	// must still fire even though there is no active pattern to dispatch.
	out := d.Handle(context.Background(), body, envFrom(nil))
	if len(out) != 0 {
		t.Fatalf("expected empty decision (ingest carries no decision output), got %v", out)
	}

	var count int
	row := d.db.QueryRow(context.Background(), `SELECT count(*) FROM scan_ingests WHERE project = ?`, "proj1")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("query scan_ingests: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the scan to be persisted, got count=%d", count)
	}
}

func TestHandleAllowsValidCompositionAndStillDispatches(t *testing.T) {
	d := newTestDispatcher(t)
	body := mustBody(t, map[string]interface{}{
		"hook_event_name": "SubagentStart",
		"session_id":      "s1",
		"agent_id":        "agent-1",
	})

	env := envFrom(map[string]string{
		"PATTERN_TYPE":  "pipeline",
		"COMPOSE_WITH":  "pipeline",
		"COMPOSE_SCOPE": "handoff",
	})

	out := d.Handle(context.Background(), body, env)
	// pipeline's SubagentStart at stage 0 has no upstream artifacts and
	// returns a continue saying so; the composition check must not have
	// blocked dispatch.
	if out["result"] == "block" {
		t.Fatalf("expected composition to pass and dispatch to proceed, got %v", out)
	}
}
