// Package hook implements the Hook Dispatcher (spec component C2): it
// decodes a single JSON hook event off stdin, resolves the active
// pattern and its coordination fields from the environment, drives the
// Agent Registry and Session Supervisor's ambient bookkeeping, invokes
// the selected pattern engine, and emits exactly one JSON decision
// object on stdout. Grounded on the teacher's cmd/dbctl/main.go — a
// single-purpose CLI that maps one action name to one backing-store
// call and always emits a JSON object — generalized from an
// action-and-agent-flag CLI into a full stdin-JSON/env-var hook
// protocol.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/config"
	"github.com/agentcoord/runtime/internal/externalio"
	"github.com/agentcoord/runtime/internal/logging"
	"github.com/agentcoord/runtime/internal/patterns"
	"github.com/agentcoord/runtime/internal/registry"
	"github.com/agentcoord/runtime/internal/session"
	"github.com/agentcoord/runtime/internal/store"
)

// StdinReadBudget bounds how long the dispatcher waits for a hook body
// on stdin before giving up (spec.md §4.2: "child-process stdin read:
// 30 s timeout on hook bodies").
const StdinReadBudget = 30 * time.Second

// Env looks up an environment variable by name, returning "" if unset.
// An interface-shaped func (rather than a direct os.Getenv dependency)
// keeps the dispatcher testable without touching the process
// environment.
type Env func(name string) string

// Dispatcher owns every shared dependency a pattern constructor needs
// and is the single entry point a hook binary calls once per invocation.
type Dispatcher struct {
	db  *store.DB
	bb  *blackboard.Blackboard
	reg *registry.Registry
	sup *session.Supervisor
	ext *externalio.Sink
	cfg *config.PatternConfig
	log *logging.Logger
}

// New constructs a Dispatcher. sup may be nil, in which case heartbeat
// side effects are skipped.
func New(db *store.DB, bb *blackboard.Blackboard, sup *session.Supervisor) *Dispatcher {
	return &Dispatcher{
		db: db, bb: bb, reg: registry.New(db), sup: sup, ext: externalio.New(db),
		cfg: &config.PatternConfig{}, log: logging.New("HOOK"),
	}
}

// WithConfig attaches YAML-file fallback defaults for pattern tuning,
// used whenever the corresponding environment variable is unset (spec.md
// §6 is env-first; this is purely a local-development convenience on
// top of it).
func (d *Dispatcher) WithConfig(cfg *config.PatternConfig) *Dispatcher {
	if cfg != nil {
		d.cfg = cfg
	}
	return d
}

// rawEvent is the wire shape of a hook invocation's stdin body
// (spec.md §4.2).
type rawEvent struct {
	HookEventName  string                 `json:"hook_event_name"`
	SessionID      string                 `json:"session_id"`
	Timestamp      string                 `json:"timestamp"`
	ToolName       string                 `json:"tool_name"`
	ToolInput      map[string]interface{} `json:"tool_input"`
	ToolResponse   map[string]interface{} `json:"tool_response"`
	AgentID        string                 `json:"agent_id"`
	AgentType      string                 `json:"agent_type"`
	StopHookActive bool                   `json:"stop_hook_active"`
	Source         string                 `json:"source"`
	Trigger        string                 `json:"trigger"`
	TranscriptPath string                 `json:"transcript_path"`
	UserPrompt     string                 `json:"user_prompt"`
}

// Handle decodes the hook body from stdin, resolves coordination fields
// from env, dispatches to the pattern engine named by PATTERN_TYPE, and
// returns the JSON-ready output map. It never panics or returns an
// error: any failure anywhere in this pipeline degrades to an empty map
// per spec.md §4.2 ("the dispatcher MUST NOT raise; any unhandled
// failure becomes {}").
func (d *Dispatcher) Handle(ctx context.Context, stdin io.Reader, env Env) (out map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Printf("recovered panic, returning {}: %v", r)
			out = map[string]interface{}{}
		}
	}()

	data, err := readWithBudget(ctx, stdin, StdinReadBudget)
	if err != nil {
		d.log.Printf("stdin read failed or exceeded budget: %v", err)
		return map[string]interface{}{}
	}

	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		d.log.Printf("malformed hook body: %v", err)
		return map[string]interface{}{}
	}

	e := buildEvent(raw, env)
	d.heartbeat(ctx, e)
	d.trackAgentLifecycle(ctx, e)
	learning := d.recordLearning(ctx, e)
	d.recordScanIngest(ctx, e)

	if e.PatternType == "" {
		return learningOnlyOutput(learning)
	}

	if composeWith := env("COMPOSE_WITH"); composeWith != "" {
		if dec, blocked := d.checkComposition(e.PatternType, composeWith, env); blocked {
			return decisionToOutput(dec)
		}
	}

	p := d.resolve(e.PatternType, env)
	if p == nil {
		return learningOnlyOutput(learning)
	}

	decision := patterns.Dispatch(ctx, p, e)
	if learning != nil && decision.Learning == nil {
		decision.Learning = learning
	}
	d.logActivity(ctx, e, decision)
	return decisionToOutput(decision)
}

// learningOnlyOutput is the hook output for an invocation with no active
// pattern (or an unresolvable one): still {} unless a Learning was
// recorded, in which case it rides along alone.
func learningOnlyOutput(learning map[string]interface{}) map[string]interface{} {
	if learning != nil {
		return map[string]interface{}{"learning": learning}
	}
	return map[string]interface{}{}
}

// recordLearning is the External I/O Contracts' Learning sink (spec.md
// §4.10) wired to a concrete hook path: when a SubagentStop's structured
// output carries a "learning" object, it is persisted through
// externalio.Sink and echoed back in the decision's learning field so
// the caller can confirm what was recorded. Best-effort per spec.md
// §4.10: a malformed or absent learning object is a silent no-op, never
// a blocked or failed hook event.
func (d *Dispatcher) recordLearning(ctx context.Context, e patterns.Event) map[string]interface{} {
	if e.HookEventName != "SubagentStop" || d.ext == nil {
		return nil
	}
	kind, content, ctxNote, confidence, ok := extractLearning(e.ToolResponse)
	if !ok {
		return nil
	}

	id := d.ext.Store(ctx, e.SessionID, kind, content, ctxNote, confidence)
	if id == "" {
		return nil
	}
	return map[string]interface{}{"id": id, "kind": string(kind)}
}

// recordScanIngest is the External I/O Contracts' codebase-scan ingest
// (spec.md §4.10) wired to PreCompact: compaction is the point a
// transcript's working context is about to be discarded, so a scan
// finding attached to that hook body is the natural place to persist it
// before it is lost. Same best-effort, silent-on-absence posture as
// recordLearning.
func (d *Dispatcher) recordScanIngest(ctx context.Context, e patterns.Event) {
	if e.HookEventName != "PreCompact" || d.ext == nil {
		return
	}
	project, scanType, content, metadata, ok := extractScanIngest(e.ToolResponse)
	if !ok {
		return
	}
	d.ext.Ingest(ctx, e.SessionID, project, scanType, content, metadata)
}

// extractLearning pulls a Learning sink submission out of a hook body's
// tool_response, the same shape extractArtifact (patterns/pipeline.go)
// and extractHandoffState (patterns/swarm.go) use to pull their own
// structured payload out of the same field.
func extractLearning(toolResponse map[string]interface{}) (kind store.LearningKind, content, context_ string, confidence store.LearningConfidence, ok bool) {
	if toolResponse == nil {
		return "", "", "", "", false
	}
	raw, _ := toolResponse["learning"].(map[string]interface{})
	if raw == nil {
		return "", "", "", "", false
	}

	content, _ = raw["content"].(string)
	if content == "" {
		return "", "", "", "", false
	}
	kindStr, _ := raw["kind"].(string)
	context_, _ = raw["context"].(string)
	confidenceStr, _ := raw["confidence"].(string)

	return store.LearningKind(kindStr), content, context_, store.LearningConfidence(confidenceStr), true
}

// extractScanIngest pulls a codebase-scan submission out of a hook
// body's tool_response.
func extractScanIngest(toolResponse map[string]interface{}) (project, scanType, content string, metadata map[string]interface{}, ok bool) {
	if toolResponse == nil {
		return "", "", "", nil, false
	}
	raw, _ := toolResponse["scan"].(map[string]interface{})
	if raw == nil {
		return "", "", "", nil, false
	}

	project, _ = raw["project"].(string)
	content, _ = raw["content"].(string)
	if project == "" || content == "" {
		return "", "", "", nil, false
	}
	scanType, _ = raw["scan_type"].(string)
	metadata, _ = raw["metadata"].(map[string]interface{})

	return project, scanType, content, metadata, true
}

// heartbeat refreshes the Session Supervisor on the three events that
// carry session liveness (spec.md §4.9): SessionStart, SubagentStart,
// SubagentStop. Best-effort: an error here never affects the pattern
// decision.
func (d *Dispatcher) heartbeat(ctx context.Context, e patterns.Event) {
	if d.sup == nil {
		return
	}
	switch e.HookEventName {
	case "SessionStart", "SubagentStart", "SubagentStop":
		if err := d.sup.Heartbeat(ctx, e.SessionID, "", "", e.Timestamp); err != nil {
			d.log.Printf("heartbeat failed: %v", err)
		}
	}
}

// trackAgentLifecycle keeps the Agent Registry's "who is running" view
// current independent of which pattern is active, so count_running and
// sweep reflect reality even for hook invocations whose pattern carries
// no agent-lifecycle logic of its own.
func (d *Dispatcher) trackAgentLifecycle(ctx context.Context, e patterns.Event) {
	if d.reg == nil || e.AgentID == "" {
		return
	}
	switch e.HookEventName {
	case "SubagentStart":
		if err := d.reg.Register(ctx, e.AgentID, e.SessionID, e.PatternType, nil, "", store.SourceCLI, e.Timestamp); err != nil {
			d.log.Printf("register failed: %v", err)
		}
	case "SubagentStop":
		if err := d.reg.Complete(ctx, e.AgentID, store.AgentCompleted, "", e.Timestamp); err != nil {
			d.log.Printf("complete failed: %v", err)
		}
	}
}

func (d *Dispatcher) logActivity(ctx context.Context, e patterns.Event, dec patterns.Decision) {
	result := string(dec.Result)
	if result == "" {
		result = "noop"
	}
	_ = d.db.AddActivity(ctx, store.ActivityLogEntry{
		SessionID: e.SessionID,
		HookEvent: e.HookEventName,
		Pattern:   e.PatternType,
		Decision:  result,
		Message:   dec.Message,
		CreatedAt: time.Now(),
	})
}

// buildEvent merges the decoded stdin body with the environment-resolved
// coordination fields of spec.md §6.
func buildEvent(raw rawEvent, env Env) patterns.Event {
	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		ts = time.Now()
	}

	return patterns.Event{
		HookEventName:  raw.HookEventName,
		SessionID:      raw.SessionID,
		Timestamp:      ts,
		ToolName:       raw.ToolName,
		ToolInput:      raw.ToolInput,
		ToolResponse:   raw.ToolResponse,
		AgentID:        raw.AgentID,
		AgentType:      raw.AgentType,
		StopHookActive: raw.StopHookActive,
		Source:         raw.Source,
		Trigger:        raw.Trigger,
		TranscriptPath: raw.TranscriptPath,
		UserPrompt:     raw.UserPrompt,

		PatternType:        env("PATTERN_TYPE"),
		SwarmID:            env("SWARM_ID"),
		CBID:               env("CB_ID"),
		AgentRole:          env("AGENT_ROLE"),
		PipelineID:         env("PIPELINE_ID"),
		StageIndex:         parseIntDefault(env("STAGE_INDEX"), 0),
		SwarmStateTransfer: parseBool(env("SWARM_STATE_TRANSFER")),
		SwarmHandoffTarget: env("SWARM_HANDOFF_TARGET"),
	}
}

// resolve maps a PATTERN_TYPE name to a concrete engine, reading any
// pattern-specific tuning from CB_*/JURY_*/MAP_REDUCE_*/PIPELINE_*
// environment overrides (spec.md §4.5.c: "all overridable per breaker
// via environment or a config row").
func (d *Dispatcher) resolve(patternType string, env Env) patterns.PatternEngine {
	switch patternType {
	case "swarm":
		return patterns.NewSwarm(d.bb)
	case "pipeline":
		mandatory := parseIntList(env("PIPELINE_MANDATORY_STAGES"))
		if mandatory == nil {
			mandatory = d.cfg.Pipeline.MandatoryStages
		}
		return patterns.NewPipeline(d.db, mandatory)
	case "circuit_breaker":
		return patterns.NewCircuitBreaker(d.db, d.breakerConfigFromEnv(env))
	case "generator_critic":
		return patterns.NewGeneratorCritic(d.bb)
	case "hierarchical":
		return patterns.NewHierarchical(d.reg)
	case "map_reduce":
		reducer := env("MAP_REDUCE_REDUCER_ROLE")
		if reducer == "" {
			reducer = d.cfg.MapReduce.ReducerRole
		}
		return patterns.NewMapReduce(d.bb, reducer)
	case "jury":
		quorum := parseIntDefault(env("JURY_QUORUM"), 0)
		if quorum == 0 {
			quorum = d.cfg.Jury.Quorum
		}
		if quorum == 0 {
			quorum = 1
		}
		return patterns.NewJury(d.bb, quorum)
	case "chain_of_responsibility":
		return patterns.NewChainOfResponsibility(d.bb)
	case "adversarial":
		return patterns.NewAdversarial(d.bb)
	case "event_driven":
		return patterns.NewEventDriven(d.bb)
	default:
		return nil
	}
}

// checkComposition runs the Composition Gate (spec.md §4.8) before the
// dispatcher enters a composed pattern. COMPOSE_WITH names the second
// pattern; COMPOSE_SCOPE ("handoff"|"shared", default "handoff") and
// COMPOSE_SEQ (";"|"||", default ";") name the scope and sequencing
// operators. The gate is authoritative: an invalid composition is
// returned as a Block (host respects it on Stop/SubagentStop per
// spec.md §4.2; elsewhere it is merely advisory, same as every other
// Block). A valid-with-warnings composition proceeds to normal
// dispatch; warnings are logged but never block.
func (d *Dispatcher) checkComposition(patternType, composeWith string, env Env) (patterns.Decision, bool) {
	scope := patterns.ScopeOperator(env("COMPOSE_SCOPE"))
	if scope == "" {
		scope = patterns.ScopeHandoff
	}
	seq := patterns.SequenceOperator(env("COMPOSE_SEQ"))
	if seq == "" {
		seq = patterns.SequenceThen
	}

	result := patterns.ValidateComposition(patternType, composeWith, scope, seq)
	if !result.Valid {
		msg := fmt.Sprintf("composition %s %s %s rejected: %s",
			patternType, seq, composeWith, strings.Join(result.Errors, "; "))
		return patterns.Block(msg), true
	}
	for _, w := range result.Warnings {
		d.log.Printf("composition warning: %s", w)
	}
	return patterns.NoOp, false
}

// breakerConfigFromEnv resolves circuit breaker tuning env-first,
// falling back to the attached YAML config, and finally to the
// pattern's own library defaults.
func (d *Dispatcher) breakerConfigFromEnv(env Env) patterns.BreakerConfig {
	cfg := patterns.DefaultBreakerConfig()
	fileCfg := d.cfg.CircuitBreaker

	if v := parseIntDefault(env("CB_INITIAL_THRESHOLD"), -1); v >= 0 {
		cfg.InitialThreshold = v
	} else if fileCfg.InitialThreshold != 0 {
		cfg.InitialThreshold = fileCfg.InitialThreshold
	}
	if v := parseIntDefault(env("CB_MIN_THRESHOLD"), -1); v >= 0 {
		cfg.MinThreshold = v
	} else if fileCfg.MinThreshold != 0 {
		cfg.MinThreshold = fileCfg.MinThreshold
	}
	if v := parseIntDefault(env("CB_MAX_THRESHOLD"), -1); v >= 0 {
		cfg.MaxThreshold = v
	} else if fileCfg.MaxThreshold != 0 {
		cfg.MaxThreshold = fileCfg.MaxThreshold
	}
	if v, err := strconv.ParseFloat(env("CB_ADAPTATION_RATE"), 64); err == nil {
		cfg.AdaptationRate = v
	} else if fileCfg.AdaptationRate != 0 {
		cfg.AdaptationRate = fileCfg.AdaptationRate
	}
	if v := parseIntDefault(env("CB_WINDOW_SIZE_SECONDS"), -1); v >= 0 {
		cfg.WindowSize = time.Duration(v) * time.Second
	} else if fileCfg.WindowSeconds != 0 {
		cfg.WindowSize = time.Duration(fileCfg.WindowSeconds) * time.Second
	}
	return cfg
}

func decisionToOutput(dec patterns.Decision) map[string]interface{} {
	if dec.Result == "" {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{"result": string(dec.Result)}
	if dec.Message != "" {
		out["message"] = dec.Message
	}
	if dec.HookSpecificOutput != nil {
		out["hookSpecificOutput"] = dec.HookSpecificOutput
	}
	if dec.Learning != nil {
		out["learning"] = dec.Learning
	}
	return out
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func parseIntList(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if v, err := strconv.Atoi(part); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return v
}

// readWithBudget reads all of r, giving up once budget elapses. stdin
// reads cannot be cancelled mid-syscall, so the read runs in a
// goroutine; on timeout the goroutine is abandoned (the process exits
// shortly after the hook binary returns its {} response anyway).
func readWithBudget(ctx context.Context, r io.Reader, budget time.Duration) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		ch <- result{data, err}
	}()

	select {
	case res := <-ch:
		return res.data, res.err
	case <-cctx.Done():
		return nil, cctx.Err()
	}
}
