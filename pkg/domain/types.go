// Package domain holds the data model shared by every component of the
// orchestration core: agents, tasks, evidence, context entries, data-share
// requests, audit events, and framework controls. Components depend on
// these types and on each other's interfaces, never on each other's
// internals, so ownership stays single-writer per §3 of the design.
package domain

import "time"

// AgentState is a node in the agent lifecycle state machine (see
// pkg/agent for the transition table).
type AgentState string

const (
	AgentRegistered   AgentState = "registered"
	AgentInitializing AgentState = "initializing"
	AgentIdle         AgentState = "idle"
	AgentRunning      AgentState = "running"
	AgentFailed       AgentState = "failed"
	AgentStopped      AgentState = "stopped"
)

// Agent is the registry's view of one logical agent instance.
type Agent struct {
	AgentID           string
	AgentType         string
	Capabilities      map[string]struct{}
	MaxConcurrentTask int
	Priority          int
	State             AgentState
	ConsecutiveErrors int
	RegisteredAt      time.Time
	LastStateChange   time.Time
}

// TaskState is a node in a task's own lifecycle.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskScheduled TaskState = "scheduled"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
	TaskRetrying  TaskState = "retrying"
)

// ErrorKind classifies a failure for retry purposes. It is distinct from
// Go's error type hierarchy: scheduler and agents only ever branch on
// Kind, never on concrete error values.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindNotFound         ErrorKind = "not_found"
	KindAccessDenied     ErrorKind = "access_denied"
	KindIntegrityError   ErrorKind = "integrity_error"
	KindEncryptionError  ErrorKind = "encryption_error"
	KindBackpressure     ErrorKind = "backpressure"
	KindTimeout          ErrorKind = "timeout"
	KindTransient        ErrorKind = "transient"
	KindPermanent        ErrorKind = "permanent"
	KindValidationFailed ErrorKind = "validation_failed"
	KindAlreadyRunning   ErrorKind = "already_running"
)

// Task is one unit of work routed to an agent.
type Task struct {
	TaskID           string
	OrganizationID   string
	TaskType         string
	AgentTarget      string // agent_type, or a literal agent_id
	Priority         int    // 1-10, higher dispatches first
	Payload          map[string]interface{}
	Timeout          time.Duration
	Deadline         time.Time
	RetriesRemaining int
	Attempt          int
	State            TaskState
	SubmittedAt      time.Time
	CorrelationID    string
}

// TaskResult is the immutable outcome of one task attempt.
type TaskResult struct {
	TaskID         string
	Success        bool
	Output         map[string]interface{}
	ErrorKind      ErrorKind
	ErrorMsg       string
	ProcessingTime time.Duration
	EvidenceRefs   []string
	CompletedAt    time.Time
}

// EvidenceType enumerates the kinds of artifact an agent can emit as proof
// of a compliance control's state.
type EvidenceType string

const (
	EvidenceSnapshot    EvidenceType = "snapshot"
	EvidenceAPIResponse EvidenceType = "api-response"
	EvidenceConfig      EvidenceType = "config"
	EvidenceLog         EvidenceType = "log"
	EvidencePolicy      EvidenceType = "policy"
	EvidenceScanResult  EvidenceType = "scan-result"
	EvidenceQuestion    EvidenceType = "question"
	EvidenceAnswer      EvidenceType = "answer"
	EvidenceReport      EvidenceType = "report"
)

// EvidenceStatus tracks an evidence item through verification and expiry.
type EvidenceStatus string

const (
	EvidencePending  EvidenceStatus = "pending"
	EvidenceVerified EvidenceStatus = "verified"
	EvidenceRejected EvidenceStatus = "rejected"
	EvidenceExpired  EvidenceStatus = "expired"
)

// ProvenanceStep records one action taken against an evidence item.
type ProvenanceStep struct {
	Actor  string
	Action string
	At     time.Time
}

// EvidenceItem is the immutable, hash-addressed artifact produced by an
// agent as proof of a compliance control's state.
type EvidenceItem struct {
	EvidenceID      string
	Source          string // agent id
	EvidenceType    EvidenceType
	Content         map[string]interface{}
	ConfidenceScore float64
	TrustPoints     int
	Framework       string
	ControlID       string
	CollectedAt     time.Time
	ExpiresAt       time.Time
	Status          EvidenceStatus
	IntegrityHash   string
	ProvenanceChain []ProvenanceStep
	OrganizationID  string
}

// ContextType enumerates the kind of data a Context Entry carries.
type ContextType string

const (
	ContextEvidence   ContextType = "evidence"
	ContextRisk       ContextType = "risk"
	ContextCompliance ContextType = "compliance"
	ContextSecurity   ContextType = "security"
	ContextConfig     ContextType = "config"
	ContextPolicy     ContextType = "policy"
	ContextWorkflow   ContextType = "workflow"
	ContextLearning   ContextType = "learning"
	ContextMetrics    ContextType = "metrics"
	ContextIntegration ContextType = "integration"
)

// ContextScope bounds which agents may read a Context Entry.
type ContextScope string

const (
	ScopeGlobal       ContextScope = "global"
	ScopeOrganization ContextScope = "organization"
	ScopeWorkflow     ContextScope = "workflow"
	ScopeAgentType    ContextScope = "agent_type"
	ScopePrivate      ContextScope = "private"
)

// DataSensitivity is the access-policy tier of a Context Entry.
type DataSensitivity string

const (
	SensitivityPublic       DataSensitivity = "public"
	SensitivityInternal     DataSensitivity = "internal"
	SensitivityConfidential DataSensitivity = "confidential"
	SensitivitySecret       DataSensitivity = "secret"
)

// ContextEntry is a scoped, typed, optionally encrypted data item shared
// between agents. The Context Store is its sole owner; agents hold only
// EntryIDs.
type ContextEntry struct {
	EntryID        string
	ContextType    ContextType
	Scope          ContextScope
	Sensitivity    DataSensitivity
	Data           map[string]interface{}
	CreatedBy      string
	OrganizationID string
	AllowedAgents  map[string]struct{}
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessed   time.Time
	AccessCount    int64
	Version        int
	Tags           map[string]struct{}
	Encrypted      bool
	KeyID          string
}

// ShareStatus tracks a Data-Share Request through its approval workflow.
type ShareStatus string

const (
	ShareStatusPending  ShareStatus = "pending"
	ShareStatusApproved ShareStatus = "approved"
	ShareStatusDenied   ShareStatus = "denied"
	ShareStatusExpired  ShareStatus = "expired"
)

// DataShareRequest lets an agent pass data to specific other agents
// without making it globally visible.
type DataShareRequest struct {
	RequestID       string
	RequestingAgent string
	TargetAgents    []string
	ContextType     ContextType
	Data            map[string]interface{}
	Sensitivity     DataSensitivity
	Justification   string
	Status          ShareStatus
	Approvers       []string
	CreatedAt       time.Time
	ExpiresInHours  int
	OrganizationID  string
	MaterializedID  string
}

// AuditLevel mirrors standard log severities for audit entries.
type AuditLevel string

const (
	AuditLevelInfo     AuditLevel = "info"
	AuditLevelWarning  AuditLevel = "warning"
	AuditLevelError    AuditLevel = "error"
	AuditLevelCritical AuditLevel = "critical"
)

// AuditCategory groups audit events by subsystem.
type AuditCategory string

const (
	CategoryTask       AuditCategory = "task"
	CategoryContext    AuditCategory = "context"
	CategoryEvidence   AuditCategory = "evidence"
	CategoryAccess     AuditCategory = "access"
	CategorySecurity   AuditCategory = "security"
	CategoryDataShare  AuditCategory = "data_share"
	CategoryCompliance AuditCategory = "compliance"
	CategoryAgent      AuditCategory = "agent"
	CategoryPipeline   AuditCategory = "pipeline"
)

// AuditOutcome records how the audited action concluded.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
	OutcomePartial AuditOutcome = "partial"
	OutcomeBlocked AuditOutcome = "blocked"
	OutcomeError   AuditOutcome = "error"
)

// ActorKind distinguishes who/what performed an audited action.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAgent  ActorKind = "agent"
	ActorSystem ActorKind = "system"
	ActorAPI    ActorKind = "api"
)

// AuditEvent is one append-only, integrity-sealed log entry.
type AuditEvent struct {
	EventID         string
	Timestamp       time.Time
	Level           AuditLevel
	Category        AuditCategory
	EventType       string
	Outcome         AuditOutcome
	ActorID         string
	ActorKind       ActorKind
	OrganizationID  string
	ResourceRef     string
	Action          string
	Details         map[string]interface{}
	IP              string
	Session         string
	CorrelationID   string
	RiskScore       float64
	Frameworks      []string
	CustomerVisible bool
	IntegrityHash   string
	RetentionDays   int
}

// FrameworkControl is one requirement within a named compliance framework,
// injected as reference data rather than defined in code.
type FrameworkControl struct {
	ControlID       string
	Framework       string
	Name            string
	RequirementText string
	Family          string
	Criticality     string
}

// ComplianceStatus is the derived per-control compliance tier.
type ComplianceStatus string

const (
	StatusFullyCompliant    ComplianceStatus = "fully_compliant"
	StatusMostlyCompliant   ComplianceStatus = "mostly_compliant"
	StatusPartiallyCompliant ComplianceStatus = "partially_compliant"
	StatusNonCompliant      ComplianceStatus = "non_compliant"
	StatusUnknown           ComplianceStatus = "unknown"
)

// Gap is one compliance shortfall surfaced by the scoring engine.
type Gap struct {
	ControlID      string
	Kind           string // missing_evidence | low_confidence | expired
	Severity       string // critical | high | medium | low
	Description    string
	Score          float64
	DetectedAt     time.Time
}

// ComplianceMetric is computed on demand, never stored canonically.
type ComplianceMetric struct {
	ControlID       string
	Framework       string
	Status          ComplianceStatus
	EvidenceCount   int
	AverageConfidence float64
	CompliancePct   float64
	Gaps            []Gap
	Recommendations []string
}
