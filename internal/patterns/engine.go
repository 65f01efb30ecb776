// Package patterns implements the Pattern Engines (spec component C5)
// and the Composition Gate (C8): the per-pattern state machines that
// decide what a hook event should return. The tagged-variant-plus-
// capability shape — one small interface, one concrete type per
// pattern, selected by a lookup table — is the generalization of the
// teacher's internal/handlers dispatch-by-route-field style
// (coordination.go, supervisor.go) into a dispatch-by-PATTERN_TYPE
// style, since hook events carry no HTTP route to switch on.
package patterns

import (
	"context"
	"time"
)

// MaxMessageSize is the spec.md §7 cap on a user-visible message.
const MaxMessageSize = 2 * 1024

// Result is the hook protocol's typed decision (spec.md §4.2, §6).
type Result string

const (
	ResultContinue Result = "continue"
	ResultBlock    Result = "block"
)

// Decision is what a pattern handler returns for one hook event.
// A zero-value Decision (Result == "") means "no-op": the dispatcher
// emits {} rather than a result field at all.
type Decision struct {
	Result             Result
	Message            string
	HookSpecificOutput map[string]interface{}
	Learning           map[string]interface{}
}

// NoOp is the zero decision: the dispatcher will emit {}.
var NoOp = Decision{}

// Continue builds a continue decision, truncating message to
// MaxMessageSize.
func Continue(message string) Decision {
	return Decision{Result: ResultContinue, Message: truncate(message)}
}

// ContinueWithOutput builds a continue decision carrying hook-specific
// structured output (e.g. injected context for PreToolUse/SubagentStart).
func ContinueWithOutput(message string, output map[string]interface{}) Decision {
	return Decision{Result: ResultContinue, Message: truncate(message), HookSpecificOutput: output}
}

// Block builds a block decision. Per spec.md §4.2, block is only
// respected by the host on Stop and SubagentStop; on other events it is
// advisory only. Neither this package nor the dispatcher filters by
// event: the host applies that distinction.
func Block(message string) Decision {
	return Decision{Result: ResultBlock, Message: truncate(message)}
}

func truncate(s string) string {
	if len(s) <= MaxMessageSize {
		return s
	}
	return s[:MaxMessageSize]
}

// Event is the decoded hook invocation plus the environment-derived
// coordination fields the dispatcher resolves before calling a pattern
// (spec.md §4.2, §6).
type Event struct {
	HookEventName   string
	SessionID       string
	Timestamp       time.Time
	ToolName        string
	ToolInput       map[string]interface{}
	ToolResponse    map[string]interface{}
	AgentID         string
	AgentType       string
	StopHookActive  bool
	Source          string
	Trigger         string
	TranscriptPath  string
	UserPrompt      string

	// Environment-resolved coordination fields.
	PatternType         string
	SwarmID             string
	CBID                string
	AgentRole           string
	PipelineID          string
	StageIndex          int
	SwarmStateTransfer  bool
	SwarmHandoffTarget  string
}

// PatternEngine is the capability every pattern implements: a handler
// per hook event it cares about. Patterns that don't care about an
// event inherit BasePatternEngine's no-op.
type PatternEngine interface {
	Name() string
	OnSessionStart(ctx context.Context, e Event) Decision
	OnUserPromptSubmit(ctx context.Context, e Event) Decision
	OnPreToolUse(ctx context.Context, e Event) Decision
	OnPostToolUse(ctx context.Context, e Event) Decision
	OnSubagentStart(ctx context.Context, e Event) Decision
	OnSubagentStop(ctx context.Context, e Event) Decision
	OnStop(ctx context.Context, e Event) Decision
	OnPreCompact(ctx context.Context, e Event) Decision
	OnSessionEnd(ctx context.Context, e Event) Decision
}

// BasePatternEngine supplies a no-op for every hook event. Concrete
// patterns embed it and override only what they need (spec.md §9's
// "tagged variant plus a small capability set").
type BasePatternEngine struct{}

func (BasePatternEngine) OnSessionStart(context.Context, Event) Decision     { return NoOp }
func (BasePatternEngine) OnUserPromptSubmit(context.Context, Event) Decision { return NoOp }
func (BasePatternEngine) OnPreToolUse(context.Context, Event) Decision      { return NoOp }
func (BasePatternEngine) OnPostToolUse(context.Context, Event) Decision     { return NoOp }
func (BasePatternEngine) OnSubagentStart(context.Context, Event) Decision   { return NoOp }
func (BasePatternEngine) OnSubagentStop(context.Context, Event) Decision    { return NoOp }
func (BasePatternEngine) OnStop(context.Context, Event) Decision            { return NoOp }
func (BasePatternEngine) OnPreCompact(context.Context, Event) Decision       { return NoOp }
func (BasePatternEngine) OnSessionEnd(context.Context, Event) Decision       { return NoOp }

// Dispatch routes e to the handler method matching e.HookEventName. An
// unrecognized hook event name is a no-op.
func Dispatch(ctx context.Context, p PatternEngine, e Event) Decision {
	// stop_hook_active short-circuits Stop regardless of pattern, to
	// prevent feedback loops (spec.md §4.2, §8 scenario 6).
	if e.HookEventName == "Stop" && e.StopHookActive {
		return Continue("")
	}

	switch e.HookEventName {
	case "SessionStart":
		return p.OnSessionStart(ctx, e)
	case "UserPromptSubmit":
		return p.OnUserPromptSubmit(ctx, e)
	case "PreToolUse":
		return p.OnPreToolUse(ctx, e)
	case "PostToolUse":
		return p.OnPostToolUse(ctx, e)
	case "SubagentStart":
		return p.OnSubagentStart(ctx, e)
	case "SubagentStop":
		return p.OnSubagentStop(ctx, e)
	case "Stop":
		return p.OnStop(ctx, e)
	case "PreCompact":
		return p.OnPreCompact(ctx, e)
	case "SessionEnd":
		return p.OnSessionEnd(ctx, e)
	default:
		return NoOp
	}
}
