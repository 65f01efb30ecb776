package store

import "time"

// AgentStatus is the lifecycle status of an Agent row.
type AgentStatus string

const (
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentCancelled AgentStatus = "cancelled"
)

// AgentSource distinguishes agents spawned by the CLI from ones spawned by
// a long-running server process, per spec.md §3.
type AgentSource string

const (
	SourceCLI    AgentSource = "cli"
	SourceServer AgentSource = "server"
)

// Session is a top-level user interaction lifetime (spec.md §3).
type Session struct {
	ID            string
	Project       string
	WorkingOn     string
	StartedAt     time.Time
	LastHeartbeat time.Time
	CurrentPhase  string
	ActiveFiles   []string
	BlockedBy     []string
	NextAction    string
}

// SessionActiveWindow is the liveness window for a Session (spec.md §3).
const SessionActiveWindow = 5 * time.Minute

// Active reports whether the session has heartbeated within the liveness
// window relative to now.
func (s Session) Active(now time.Time) bool {
	return now.Sub(s.LastHeartbeat) <= SessionActiveWindow
}

// Agent is a child process launched by the host CLI (spec.md §3).
type Agent struct {
	ID            string
	SessionID     string
	Pattern       string
	ParentAgentID string
	PID           *int
	PPID          *int
	SpawnedAt     time.Time
	CompletedAt   *time.Time
	Status        AgentStatus
	ErrorMessage  string
	Source        AgentSource
}

// AgentLeakAge is the age past which a still-"running" Agent row is
// presumed leaked and eligible for garbage collection (spec.md §3).
const AgentLeakAge = 24 * time.Hour

// Broadcast is an append-only blackboard message (spec.md §3).
type Broadcast struct {
	ID            string
	SwarmID       string
	SenderAgent   string
	BroadcastType string
	Payload       map[string]interface{}
	CreatedAt     time.Time
}

// Well-known broadcast types referenced by the pattern engines.
const (
	BroadcastStarted       = "started"
	BroadcastDone          = "done"
	BroadcastStateTransfer = "state_transfer"
	BroadcastTaskSpawned   = "task_spawned"
	BroadcastFinding       = "finding"
)

// FileClaim is an exclusive, TTL-bounded lock on a project-scoped file
// path (spec.md §3).
type FileClaim struct {
	FilePath   string
	Project    string
	SessionID  string
	ClaimedAt  time.Time
	TTLSeconds int
}

// Live reports whether the claim has not yet expired relative to now.
func (c FileClaim) Live(now time.Time) bool {
	return now.Sub(c.ClaimedAt) <= time.Duration(c.TTLSeconds)*time.Second
}

// PipelineArtifact is a typed output emitted by a pipeline stage
// (spec.md §3).
type PipelineArtifact struct {
	ID              int64
	PipelineID      string
	StageIndex      int
	ArtifactType    string
	ArtifactPath    string
	ArtifactContent string
	CreatedAt       time.Time
}

// CircuitBreakerState is the finite-state lifecycle of an adaptive
// circuit breaker (spec.md §3).
type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half-open"
)

// CircuitState is one breaker's persisted counters and thresholds
// (spec.md §3).
type CircuitState struct {
	CBID             string
	State            CircuitBreakerState
	FailureCount     int
	SuccessCount     int
	CurrentThreshold int
	WindowStart      time.Time
	LastFailureAt    *time.Time
	LastSuccessAt    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Finding is a cross-session research note (spec.md §3).
type Finding struct {
	ID          string
	SessionID   string
	Topic       string
	Finding     string
	RelevantTo  []string
	CreatedAt   time.Time
}

// Checkpoint is a session-owned, expiring snapshot used for team
// awareness (spec.md §3).
type Checkpoint struct {
	ID         string
	SessionID  string
	Label      string
	Payload    map[string]interface{}
	CreatedAt  time.Time
	ExpiresAt  *time.Time
}

// FeatureWorkspace tracks which session owns work on a named feature,
// used by the Session Supervisor for cross-session awareness
// (spec.md §3, §4.9).
type FeatureWorkspace struct {
	ID           string
	Project      string
	Feature      string
	OwnerSession string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActivityLogEntry records every hook decision made, for audit purposes.
// Mirrors the teacher's JSONStore.AddActivity, scaled to a SQL-backed
// table; rows are trimmed only when DB.CleanupActivityLog is called, not
// on append.
type ActivityLogEntry struct {
	ID        int64
	SessionID string
	HookEvent string
	Pattern   string
	Decision  string
	Message   string
	CreatedAt time.Time
}

// ActivityLogRetention is the number of most-recent rows kept by
// CleanupActivityLog.
const ActivityLogRetention = 2000
