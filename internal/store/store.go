// Package store is the durable relational repository for the orchestrator.
// It is the single writer for all persistent rows; callers hold a *DB and go
// through typed operations. Upserts use a declared natural key with an
// explicit update column set; event tables are append-only.
package store

import "time"

// Run status values.
const (
	StatusQueued           = "queued"
	StatusInProgress       = "in_progress"
	StatusNeedsInput       = "needs_input"
	StatusNeedsRevision    = "needs_revision"
	StatusVerified         = "verified"
	StatusRejected         = "rejected"
	StatusAwaitingApproval = "awaiting_approval"
	StatusSent             = "sent"
	StatusFailed           = "failed"
)

// Verifier outcomes.
const (
	OutcomePass         = "pass"
	OutcomeMinorFix     = "minor_fix"
	OutcomeCriticalFail = "critical_fail"
	OutcomeAbstain      = "abstain"
)

// Event types recorded in task_events.
const (
	EventRiskClassified    = "risk_classified"
	EventTaskRouted        = "task_routed"
	EventLoopCompleted     = "loop_completed"
	EventLoopExhausted     = "loop_exhausted"
	EventNeedsInput        = "needs_input"
	EventAwaitingApproval  = "awaiting_approval"
	EventVerified          = "verified"
	EventFailed            = "failed"
	EventBrowserExecution  = "browser_execution"
	EventToolingExecution  = "tooling_execution"
	EventSkillAutodraft    = "skill_autodraft"
	EventProactiveOutreach = "proactive_outreach"
	EventSuperseded        = "superseded_by_new_message"
	EventMemoryIngested    = "memory_ingested"
)

// TaskRun is one harness invocation for one message and one agent.
type TaskRun struct {
	RunID           string
	TaskID          string
	Channel         string
	Sender          string
	SenderID        string
	ConversationID  string
	BranchKey       string
	Objective       string
	RiskLevel       string
	Status          string
	AssignedAgent   string
	LoopIteration   int
	MaxIterations   int
	VerifierOutcome string
	ResultText      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TaskEvent is one append-only audit row.
type TaskEvent struct {
	EventID   string
	RunID     string
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
}

// TaskStep records one generator/verifier/reviser step inside the loop.
type TaskStep struct {
	StepID    string
	RunID     string
	Iteration int
	Kind      string // "generate", "verify", "revise"
	Detail    string
	CreatedAt time.Time
}

// Memory categories.
const (
	MemPreferences    = "preferences"
	MemProjects       = "projects"
	MemWorkflows      = "workflows"
	MemContacts       = "contacts"
	MemTaskStates     = "task_states"
	MemConfirmedFacts = "confirmed_facts"
)

// MemoryRecord is one extracted user fact. (user, category, key) is unique;
// a newer ingest wins only when its confidence is at least as high.
type MemoryRecord struct {
	RecordID    string
	UserID      string
	Category    string
	Key         string
	Value       string
	Confidence  float64
	SourceRunID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission statuses.
const (
	PermActive  = "active"
	PermRevoked = "revoked"
	PermPending = "pending"
)

// Permission grants a user an action on a subject (tool or capability).
type Permission struct {
	PermissionID string
	UserID       string
	Subject      string
	Action       string
	Resource     string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Tool trust classes and statuses.
const (
	TrustCurated    = "curated"
	TrustMainstream = "mainstream"
	TrustUnknown    = "unknown"

	ToolApproved = "approved"
	ToolBlocked  = "blocked"
	ToolPending  = "pending"
)

// ToolInfo is one registered external tool.
type ToolInfo struct {
	ToolID     string
	Name       string
	Source     string
	TrustClass string
	Status     string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Skill statuses.
const (
	SkillDraft    = "draft"
	SkillActive   = "active"
	SkillDisabled = "disabled"
)

// Skill is a versioned reusable workflow document.
type Skill struct {
	SkillID     string
	Name        string
	Status      string
	ContentPath string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SkillVersion is one immutable content revision of a skill.
type SkillVersion struct {
	VersionID   string
	SkillID     string
	Version     int
	ContentPath string
	Note        string
	CreatedAt   time.Time
}

// PendingMessage is a durable reply handle so an adapter can answer after a
// restart. Expired rows are invisible to Read and purged by cleanup.
type PendingMessage struct {
	MessageID string
	Channel   string
	Sender    string
	SenderID  string
	ChatRef   string
	ReplyRef  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// DefaultPendingTTL is the pending-message lifetime when the caller gives none.
const DefaultPendingTTL = 10 * time.Minute

// Browser rows.
const (
	TabActive   = "active"
	TabError    = "error"
	TabReleased = "released"
)

// BrowserSession is one live debugger endpoint keyed by (host, port).
type BrowserSession struct {
	SessionID   string
	Host        string
	Port        int
	ProfilePath string
	Provider    string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BrowserTab is one automation tab owned by a run; its trace is the ordered
// selector-trace JSON used for replay.
type BrowserTab struct {
	TabID     string
	SessionID string
	RunID     string
	Status    string
	TraceJSON string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BrowserAction is one planned step executed in a tab.
type BrowserAction struct {
	ActionID         string
	TabID            string
	RunID            string
	StepIndex        int
	Kind             string
	Selector         string
	Value            string
	Risk             string
	RequiresApproval bool
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BrowserApproval is a pending or decided approval request for an action.
type BrowserApproval struct {
	ApprovalID string
	ActionID   string
	RunID      string
	UserID     string
	Reason     string
	Status     string // "pending", "approved", "denied"
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BrowserAudit is one append-only audit row; every action has at least one.
type BrowserAudit struct {
	AuditID          string
	ActionID         string
	RunID            string
	EventType        string
	BeforeScreenshot string
	AfterScreenshot  string
	TraceJSON        string
	CreatedAt        time.Time
}

// MetricEvent is one append-only counter mutation.
type MetricEvent struct {
	EventID   string
	Name      string
	Delta     float64
	Metadata  map[string]any
	CreatedAt time.Time
}
