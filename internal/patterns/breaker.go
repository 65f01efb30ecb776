package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcoord/runtime/internal/store"
)

// Breaker tuning defaults (spec.md §4.5.c), overridable per breaker via
// BreakerConfig.
const (
	DefaultInitialThreshold = 3
	DefaultMinThreshold     = 1
	DefaultMaxThreshold     = 10
	DefaultAdaptationRate   = 0.2
	DefaultWindowSize       = 60 * time.Second
)

// BreakerConfig holds a breaker's tuning parameters, normally resolved
// from CB_* environment overrides by the dispatcher.
type BreakerConfig struct {
	InitialThreshold int
	MinThreshold     int
	MaxThreshold     int
	AdaptationRate   float64
	WindowSize       time.Duration
}

// DefaultBreakerConfig returns the spec.md §4.5.c defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		InitialThreshold: DefaultInitialThreshold,
		MinThreshold:     DefaultMinThreshold,
		MaxThreshold:     DefaultMaxThreshold,
		AdaptationRate:   DefaultAdaptationRate,
		WindowSize:       DefaultWindowSize,
	}
}

// CircuitBreaker implements the adaptive failure-rate governor of
// spec.md §4.5.c.
type CircuitBreaker struct {
	BasePatternEngine
	db  *store.DB
	cfg BreakerConfig
}

// NewCircuitBreaker constructs a CircuitBreaker pattern over db with cfg
// tuning.
func NewCircuitBreaker(db *store.DB, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{db: db, cfg: cfg}
}

func (c *CircuitBreaker) Name() string { return "circuit_breaker" }

func (c *CircuitBreaker) OnSubagentStart(ctx context.Context, e Event) Decision {
	cs, err := c.db.GetOrInitCircuitState(ctx, e.CBID, c.cfg.InitialThreshold, time.Now())
	if err != nil {
		return NoOp
	}

	switch {
	case e.AgentRole == "primary" && cs.State == store.CircuitClosed:
		return Continue("Monitored normal operation.")
	case e.AgentRole == "primary" && cs.State == store.CircuitHalfOpen:
		return Continue("Circuit half-open: a single failure reopens it.")
	case e.AgentRole == "fallback":
		return Continue("You are a degraded, safer backup.")
	default:
		return NoOp
	}
}

func (c *CircuitBreaker) OnPostToolUse(ctx context.Context, e Event) Decision {
	if e.AgentRole != "primary" {
		return NoOp
	}

	now := time.Now()
	failed := isToolFailure(e)

	// Get-or-init, window-reset, and the failure/success transition are
	// folded into UpdateCircuitState's single transaction so two
	// concurrently running hook processes updating the same CB_ID
	// serialize instead of racing a read against a separate write
	// (spec.md §5: "a single transactional read-modify-write").
	_, err := c.db.UpdateCircuitState(ctx, e.CBID, c.cfg.InitialThreshold, now, func(cs *store.CircuitState) {
		if now.Sub(cs.WindowStart) > c.cfg.WindowSize {
			cs.FailureCount = 0
			cs.SuccessCount = 0
			cs.WindowStart = now
		}

		if failed {
			c.recordFailure(cs, now)
		} else {
			c.recordSuccess(cs, now)
		}
	})
	if err != nil {
		return NoOp
	}
	return NoOp
}

// isToolFailure classifies a tool invocation as a failure per spec.md
// §4.5.c: a Bash call with a nonzero exit code, or any tool response
// carrying an "error" field.
func isToolFailure(e Event) bool {
	if e.ToolName == "Bash" {
		if code, ok := e.ToolResponse["exit_code"]; ok {
			switch v := code.(type) {
			case float64:
				if v != 0 {
					return true
				}
			case int:
				if v != 0 {
					return true
				}
			}
		}
	}
	if e.ToolResponse != nil {
		if _, ok := e.ToolResponse["error"]; ok {
			return true
		}
	}
	return false
}

func (c *CircuitBreaker) recordFailure(cs *store.CircuitState, now time.Time) {
	cs.FailureCount++
	cs.LastFailureAt = &now
	c.adaptThreshold(cs)

	switch cs.State {
	case store.CircuitClosed:
		if cs.FailureCount >= cs.CurrentThreshold {
			cs.State = store.CircuitOpen
		}
	case store.CircuitHalfOpen:
		cs.State = store.CircuitOpen
	case store.CircuitOpen:
		// stays open; timed re-test is out of scope (spec.md §9).
	}
}

func (c *CircuitBreaker) recordSuccess(cs *store.CircuitState, now time.Time) {
	cs.SuccessCount++
	cs.LastSuccessAt = &now
	c.adaptThreshold(cs)

	switch cs.State {
	case store.CircuitOpen:
		cs.State = store.CircuitHalfOpen
	case store.CircuitHalfOpen:
		cs.State = store.CircuitClosed
		cs.FailureCount = 0
	case store.CircuitClosed:
		// stays closed.
	}
}

// adaptThreshold recomputes current_threshold from the current
// failure_rate per spec.md §4.5.c's formula, clamped to
// [min_threshold, max_threshold].
func (c *CircuitBreaker) adaptThreshold(cs *store.CircuitState) {
	total := cs.FailureCount + cs.SuccessCount
	if total == 0 {
		return
	}
	failureRate := float64(cs.FailureCount) / float64(total)

	current := float64(cs.CurrentThreshold)
	var next float64
	if failureRate > 0.5 {
		next = current - c.cfg.AdaptationRate*current
		if next < float64(c.cfg.MinThreshold) {
			next = float64(c.cfg.MinThreshold)
		}
	} else {
		next = current + c.cfg.AdaptationRate*(1-failureRate)*current
		if next > float64(c.cfg.MaxThreshold) {
			next = float64(c.cfg.MaxThreshold)
		}
	}

	// Truncate rather than round-half-up: with a small integer base and
	// adaptation_rate=0.2, round-half-up gets stuck at a stable fixed
	// point (e.g. 2 -> 1.6 -> 2 forever) and never reaches min_threshold
	// under sustained failure. Truncation lets the adjustment actually
	// converge to the floor.
	rounded := int(next)
	if rounded < c.cfg.MinThreshold {
		rounded = c.cfg.MinThreshold
	}
	if rounded > c.cfg.MaxThreshold {
		rounded = c.cfg.MaxThreshold
	}
	cs.CurrentThreshold = rounded
}

func (c *CircuitBreaker) OnSubagentStop(ctx context.Context, e Event) Decision {
	cs, err := c.db.GetCircuitState(ctx, e.CBID)
	if err != nil {
		return NoOp
	}
	return Continue(breakerSummary(cs))
}

func (c *CircuitBreaker) OnStop(ctx context.Context, e Event) Decision {
	cs, err := c.db.GetCircuitState(ctx, e.CBID)
	if err != nil {
		return NoOp
	}
	return Continue(breakerSummary(cs))
}

func breakerSummary(cs store.CircuitState) string {
	total := cs.FailureCount + cs.SuccessCount
	var rate float64
	if total > 0 {
		rate = float64(cs.FailureCount) / float64(total)
	}

	lastFailure := "never"
	if cs.LastFailureAt != nil {
		lastFailure = cs.LastFailureAt.Format(time.RFC3339)
	}
	lastSuccess := "never"
	if cs.LastSuccessAt != nil {
		lastSuccess = cs.LastSuccessAt.Format(time.RFC3339)
	}

	return fmt.Sprintf(
		"breaker %s: state=%s failures=%d successes=%d failure_rate=%.2f threshold=%d last_failure=%s last_success=%s",
		cs.CBID, cs.State, cs.FailureCount, cs.SuccessCount, rate, cs.CurrentThreshold, lastFailure, lastSuccess,
	)
}
