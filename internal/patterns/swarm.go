package patterns

import (
	"context"
	"fmt"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/idvalidate"
	"github.com/agentcoord/runtime/internal/statetransfer"
	"github.com/agentcoord/runtime/internal/store"
)

// Swarm implements the fan-out/fan-in coordination strategy of
// spec.md §4.5.a: a set of agents sharing SWARM_ID, "in progress" while
// fewer distinct senders have posted done than have posted anything.
type Swarm struct {
	BasePatternEngine
	bb *blackboard.Blackboard
	tr *statetransfer.Transfer
}

// NewSwarm constructs a Swarm pattern over a Blackboard, with state
// transfer wired through the same Blackboard instance.
func NewSwarm(bb *blackboard.Blackboard) *Swarm {
	return &Swarm{bb: bb, tr: statetransfer.New(bb)}
}

func (s *Swarm) Name() string { return "swarm" }

func (s *Swarm) OnSubagentStart(ctx context.Context, e Event) Decision {
	if !e.SwarmStateTransfer {
		return NoOp
	}

	state, ok, err := s.tr.Restore(ctx, e.SwarmID, e.AgentID)
	if err != nil || !ok {
		return NoOp
	}

	return Continue(fmt.Sprintf("Restored handoff state: progress=%d%%, %d pending task(s).",
		state.Progress, len(state.PendingTasks)))
}

func (s *Swarm) OnPostToolUse(ctx context.Context, e Event) Decision {
	if e.ToolName != "Task" {
		return NoOp
	}

	sender := extractSpawnedAgentID(e.ToolResponse)
	if _, err := s.bb.Post(ctx, e.SwarmID, sender, store.BroadcastStarted, nil); err != nil {
		return NoOp
	}
	return NoOp
}

// extractHandoffState pulls the agent's working state out of the
// SubagentStop hook body, the same way extractArtifact (pipeline.go)
// pulls a pipeline artifact out of the same field: the agent's
// structured output is expected to carry context/memory/progress/
// pendingTasks directly, under the shape statetransfer.State marshals
// to (spec.md §4.5.a "serialize the agent's state", §4.7). A missing or
// malformed field degrades to that field's zero value rather than
// failing the handoff outright.
func extractHandoffState(toolResponse map[string]interface{}) statetransfer.State {
	if toolResponse == nil {
		return statetransfer.State{}
	}

	var s statetransfer.State
	if ctxMap, ok := toolResponse["context"].(map[string]interface{}); ok {
		s.Context = ctxMap
	}
	if memMap, ok := toolResponse["memory"].(map[string]interface{}); ok {
		s.Memory = memMap
	}
	switch v := toolResponse["progress"].(type) {
	case float64:
		s.Progress = int(v)
	case int:
		s.Progress = v
	}
	if rawTasks, ok := toolResponse["pendingTasks"].([]interface{}); ok {
		tasks := make([]string, 0, len(rawTasks))
		for _, t := range rawTasks {
			if str, ok := t.(string); ok {
				tasks = append(tasks, str)
			}
		}
		s.PendingTasks = tasks
	}
	return s
}

func extractSpawnedAgentID(toolResponse map[string]interface{}) string {
	if toolResponse == nil {
		return "unknown"
	}
	raw, _ := toolResponse["agent_id"].(string)
	if raw == "" || !idvalidate.Valid(raw) {
		return "unknown"
	}
	return raw
}

func (s *Swarm) OnPreToolUse(ctx context.Context, e Event) Decision {
	broadcasts, err := s.bb.Read(ctx, e.SwarmID, e.AgentID, 0)
	if err != nil || len(broadcasts) == 0 {
		return NoOp
	}

	msg := "Recent swarm activity:\n"
	for _, b := range broadcasts {
		msg += fmt.Sprintf("- %s: %s\n", b.SenderAgent, b.BroadcastType)
	}
	return ContinueWithOutput(msg, map[string]interface{}{"broadcasts": broadcasts})
}

func (s *Swarm) OnSubagentStop(ctx context.Context, e Event) Decision {
	if _, err := s.bb.Post(ctx, e.SwarmID, e.AgentID, store.BroadcastDone, map[string]interface{}{"auto": true}); err != nil {
		return NoOp
	}

	if e.SwarmHandoffTarget != "" {
		state := extractHandoffState(e.ToolResponse)
		_ = s.tr.Publish(ctx, e.SwarmID, e.AgentID, e.SwarmHandoffTarget, state)
	}

	complete, err := s.bb.SwarmComplete(ctx, e.SwarmID)
	if err == nil && complete {
		return Continue("All swarm agents complete. Synthesize their outputs.")
	}
	return NoOp
}

func (s *Swarm) OnStop(ctx context.Context, e Event) Decision {
	complete, err := s.bb.SwarmComplete(ctx, e.SwarmID)
	if err != nil {
		return NoOp
	}
	if complete {
		return Continue("All swarm agents complete. Synthesize their outputs.")
	}

	missing, err := s.bb.MissingDoneSenders(ctx, e.SwarmID)
	if err != nil {
		return NoOp
	}
	return Block(fmt.Sprintf("Waiting for %d agent(s) to complete.", len(missing)))
}
