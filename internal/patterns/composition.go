package patterns

import "fmt"

// ScopeOperator is how two composed patterns share or hand off state
// (spec.md §4.8).
type ScopeOperator string

const (
	ScopeHandoff ScopeOperator = "handoff"
	ScopeShared  ScopeOperator = "shared"
)

// SequenceOperator is how two composed patterns are ordered (spec.md §4.8).
type SequenceOperator string

const (
	SequenceThen     SequenceOperator = ";"
	SequenceParallel SequenceOperator = "||"
)

// CompositionResult is the Composition Gate's verdict.
type CompositionResult struct {
	Valid      bool
	Errors     []string
	Warnings   []string
	ScopeTrace []string
}

// ValidateComposition applies the non-exhaustive policy table from
// spec.md §4.8. The gate is authoritative: the dispatcher must refuse to
// enter a composed pattern this rejects.
func ValidateComposition(a, b string, scope ScopeOperator, seq SequenceOperator) CompositionResult {
	trace := []string{fmt.Sprintf("%s %s %s %s", a, seq, b, scope)}

	switch {
	case a == "hierarchical" && b == "hierarchical":
		return CompositionResult{
			Valid:      false,
			Errors:     []string{"cyclic hierarchical nesting is invalid"},
			ScopeTrace: trace,
		}

	case a == "pipeline" && b == "pipeline" && scope == ScopeHandoff:
		return CompositionResult{Valid: true, ScopeTrace: trace}

	case a == "swarm" && b == "swarm" && seq == SequenceParallel:
		return CompositionResult{
			Valid:      true,
			Warnings:   []string{"two parallel swarms may contend for the agent pool"},
			ScopeTrace: trace,
		}

	case a == "circuit_breaker":
		return CompositionResult{Valid: true, ScopeTrace: trace}

	default:
		return CompositionResult{Valid: true, ScopeTrace: trace}
	}
}
