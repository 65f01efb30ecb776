package patterns

import (
	"context"
	"fmt"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/registry"
	"github.com/agentcoord/runtime/internal/store"
)

// The patterns in this file follow the contract sketches of
// spec.md §4.5.d: each is a thin layer over the Blackboard or Agent
// Registry with no dedicated state machine of its own, the same "small
// capability set over a shared substrate" shape as Swarm and Pipeline
// but without their depth.

// GeneratorCritic is a two-role loop: the critic's done broadcast gates
// the generator's next turn. Implemented as a two-agent pipeline over
// the Blackboard's done-tracking (spec.md §4.5.d).
type GeneratorCritic struct {
	BasePatternEngine
	bb *blackboard.Blackboard
}

func NewGeneratorCritic(bb *blackboard.Blackboard) *GeneratorCritic {
	return &GeneratorCritic{bb: bb}
}

func (g *GeneratorCritic) Name() string { return "generator_critic" }

func (g *GeneratorCritic) OnSubagentStop(ctx context.Context, e Event) Decision {
	if _, err := g.bb.Post(ctx, e.SwarmID, e.AgentID, store.BroadcastDone, map[string]interface{}{"auto": true}); err != nil {
		return NoOp
	}
	if e.AgentRole != "critic" {
		return NoOp
	}

	criticDone, err := g.bb.CountDistinctSenders(ctx, e.SwarmID, store.BroadcastDone)
	if err != nil || criticDone == 0 {
		return NoOp
	}
	return Continue("Critic has reviewed; generator may proceed with its next turn.")
}

// Hierarchical tracks a parent/child agent tree via parent_agent_id; a
// parent's Stop blocks until every descendant is completed
// (spec.md §4.5.d).
type Hierarchical struct {
	BasePatternEngine
	reg *registry.Registry
}

func NewHierarchical(reg *registry.Registry) *Hierarchical {
	return &Hierarchical{reg: reg}
}

func (h *Hierarchical) Name() string { return "hierarchical" }

func (h *Hierarchical) OnStop(ctx context.Context, e Event) Decision {
	descendants, err := h.reg.ListDescendants(ctx, e.AgentID)
	if err != nil {
		return NoOp
	}

	var incomplete int
	for _, d := range descendants {
		if d.Status == store.AgentRunning {
			incomplete++
		}
	}
	if incomplete > 0 {
		return Block(fmt.Sprintf("Waiting for %d descendant agent(s) to complete.", incomplete))
	}
	return Continue("All descendant agents complete.")
}

// MapReduce fans out via swarm semantics; a distinguished reducer
// agent's completion terminates the group (spec.md §4.5.d).
type MapReduce struct {
	BasePatternEngine
	bb          *blackboard.Blackboard
	reducerRole string
}

func NewMapReduce(bb *blackboard.Blackboard, reducerRole string) *MapReduce {
	if reducerRole == "" {
		reducerRole = "reducer"
	}
	return &MapReduce{bb: bb, reducerRole: reducerRole}
}

func (m *MapReduce) Name() string { return "map_reduce" }

func (m *MapReduce) OnSubagentStop(ctx context.Context, e Event) Decision {
	if _, err := m.bb.Post(ctx, e.SwarmID, e.AgentID, store.BroadcastDone, map[string]interface{}{"auto": true, "role": e.AgentRole}); err != nil {
		return NoOp
	}
	if e.AgentRole == m.reducerRole {
		return Continue("Reducer complete; map-reduce group finished.")
	}
	return NoOp
}

func (m *MapReduce) OnStop(ctx context.Context, e Event) Decision {
	done, err := m.bb.ReadOfType(ctx, e.SwarmID, store.BroadcastDone)
	if err != nil {
		return NoOp
	}
	for _, b := range done {
		if role, _ := b.Payload["role"].(string); role == m.reducerRole {
			return Continue("Map-reduce group finished.")
		}
	}
	return Block("Waiting for the reducer agent to complete.")
}

// Jury collects N independent verdict broadcasts and requires a
// configurable quorum (spec.md §4.5.d).
type Jury struct {
	BasePatternEngine
	bb     *blackboard.Blackboard
	quorum int
}

const broadcastVerdict = "verdict"

func NewJury(bb *blackboard.Blackboard, quorum int) *Jury {
	if quorum < 1 {
		quorum = 1
	}
	return &Jury{bb: bb, quorum: quorum}
}

func (j *Jury) Name() string { return "jury" }

func (j *Jury) OnSubagentStop(ctx context.Context, e Event) Decision {
	verdict, _ := e.ToolResponse["verdict"].(string)
	if verdict == "" {
		verdict = "abstain"
	}
	if _, err := j.bb.Post(ctx, e.SwarmID, e.AgentID, broadcastVerdict, map[string]interface{}{"verdict": verdict}); err != nil {
		return NoOp
	}
	return NoOp
}

func (j *Jury) OnStop(ctx context.Context, e Event) Decision {
	n, err := j.bb.CountDistinctSenders(ctx, e.SwarmID, broadcastVerdict)
	if err != nil {
		return NoOp
	}
	if n < j.quorum {
		return Block(fmt.Sprintf("Waiting for quorum: %d/%d verdicts received.", n, j.quorum))
	}
	return Continue(fmt.Sprintf("Quorum reached: %d/%d verdicts received.", n, j.quorum))
}

// ChainOfResponsibility advances an ordered agent list: each agent
// either produces a terminal result or a pass broadcast handing off to
// the next (spec.md §4.5.d).
type ChainOfResponsibility struct {
	BasePatternEngine
	bb *blackboard.Blackboard
}

const broadcastPass = "pass"
const broadcastHandled = "handled"

func NewChainOfResponsibility(bb *blackboard.Blackboard) *ChainOfResponsibility {
	return &ChainOfResponsibility{bb: bb}
}

func (c *ChainOfResponsibility) Name() string { return "chain_of_responsibility" }

func (c *ChainOfResponsibility) OnSubagentStop(ctx context.Context, e Event) Decision {
	if handled, _ := e.ToolResponse["handled"].(bool); handled {
		_, err := c.bb.Post(ctx, e.SwarmID, e.AgentID, broadcastHandled, e.ToolResponse)
		if err != nil {
			return NoOp
		}
		return Continue("Request handled; chain terminates.")
	}

	if _, err := c.bb.Post(ctx, e.SwarmID, e.AgentID, broadcastPass, nil); err != nil {
		return NoOp
	}
	return Continue("No handler matched; passing to next link in the chain.")
}

// Adversarial and EventDriven carry domain-specific broadcast tags and
// never block (spec.md §4.5.d). Adversarial posts a done broadcast on
// SubagentStop and reports when the swarm completion check passes;
// EventDriven only records a tool_event broadcast on PostToolUse.
type Adversarial struct {
	BasePatternEngine
	bb *blackboard.Blackboard
}

func NewAdversarial(bb *blackboard.Blackboard) *Adversarial {
	return &Adversarial{bb: bb}
}

func (a *Adversarial) Name() string { return "adversarial" }

func (a *Adversarial) OnSubagentStop(ctx context.Context, e Event) Decision {
	_, _ = a.bb.Post(ctx, e.SwarmID, e.AgentID, store.BroadcastDone, map[string]interface{}{"auto": true})
	complete, err := a.bb.SwarmComplete(ctx, e.SwarmID)
	if err == nil && complete {
		return Continue("Adversarial round complete; compare attacker/defender findings.")
	}
	return NoOp
}

type EventDriven struct {
	BasePatternEngine
	bb *blackboard.Blackboard
}

func NewEventDriven(bb *blackboard.Blackboard) *EventDriven {
	return &EventDriven{bb: bb}
}

func (ed *EventDriven) Name() string { return "event_driven" }

func (ed *EventDriven) OnPostToolUse(ctx context.Context, e Event) Decision {
	if e.ToolName == "" {
		return NoOp
	}
	_, _ = ed.bb.Post(ctx, e.SwarmID, e.AgentID, "tool_event", map[string]interface{}{"tool": e.ToolName})
	return NoOp
}
