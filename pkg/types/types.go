package types

import (
	"errors"
	"time"
)

// Tenant represents an isolated customer of the control plane. A tenant owns
// its runs, queue items, usage counters, rate windows, policies and API keys.
type Tenant struct {
	ID        string
	Name      string
	Tier      TenantTier
	Status    TenantStatus
	Quota     *Quota
	Limits    *Limits
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantTier is the commercial tier of a tenant. Tier changes update Quota
// and Limits atomically.
type TenantTier string

const (
	TenantTierFree       TenantTier = "free"
	TenantTierStandard   TenantTier = "standard"
	TenantTierEnterprise TenantTier = "enterprise"
)

// TenantStatus represents the lifecycle state of a tenant. Only active
// tenants admit new work.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusPending   TenantStatus = "pending"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// Quota controls admission and scheduling for a tenant.
type Quota struct {
	ConcurrencyCap int     // Max in-flight runs
	QueueDepthCap  int     // Max pending+processing queue items
	MaxPerMinute   int     // Admissions per minute window
	MaxPerHour     int     // Admissions per hour window
	MaxPerDay      int     // Admissions per day window
	PriorityBoost  float64 // Bias added to base priority, in [-10, +10]
	Weight         int     // Fair-share weight, in [1, 100]
}

// Limits caps aggregate resource consumption for a tenant.
type Limits struct {
	MaxRunsPerDay   int
	MaxCostPerDay   float64
	MaxTokensPerRun int64
	MaxStorageBytes int64
}

// Run is one logical execution of one agent on one input for one tenant.
// Runs are deduplicated by idempotency key across the whole ledger.
type Run struct {
	ID             string
	IdempotencyKey string
	TenantID       string
	AgentID        string
	TraceID        string
	Input          []byte // Opaque payload; never parsed by the ledger
	InputHash      string
	Budget         *Budget
	Consumed       Consumed
	Tier           TierID // Current capability tier (runtime state)
	Effort         EffortLevel
	Status         RunStatus
	StatusReason   string
	Output         []byte // Final or partial output
	OutputHash     string
	Error          string
	CreatedAt      time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
}

// RunStatus represents the state of a run. Transitions to terminal states
// (completed, partial, failed) are monotonic.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusPartial || s == RunStatusFailed
}

// Budget bounds the resources a single run may consume.
type Budget struct {
	MaxTokens   int64
	MaxCost     float64
	MaxDuration time.Duration
	MaxSteps    int
	AllowDemote bool
	TierFloor   TierID // Optional; empty means no floor
}

// Consumed tracks resources a run has used. All fields are monotonically
// non-decreasing and equal the sum over completed steps.
type Consumed struct {
	Tokens     int64
	Cost       float64
	Duration   time.Duration
	Steps      int
	Downgrades int
}

// Step is one unit of worker invocation within a run, indexed densely from 0.
type Step struct {
	ID         string
	RunID      string
	Index      int
	Tier       TierID
	InputHash  string
	OutputHash string
	Output     []byte
	Status     StepStatus
	Tokens     int64
	Cost       float64
	Duration   time.Duration
	Error      string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// StepStatus represents the state of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// QueueItem is pending work awaiting dispatch to a run driver.
type QueueItem struct {
	ID                string
	TenantID          string
	AgentID           string
	Payload           []byte
	IdempotencyKey    string
	Budget            *Budget     // Budget for the run this item opens
	Effort            EffortLevel // Pre-flight hint; empty means medium
	BasePriority      float64 // In [0, 100]
	EffectivePriority float64 // base + tenant boost + aging, clamped to [0, 100]
	Attempts          int
	MaxAttempts       int
	ScheduledAt       time.Time // Zero means immediately eligible
	Timeout           time.Duration
	Status            QueueItemStatus
	RunID             string // Set once a driver opens the run
	Error             string
	CreatedAt         time.Time
	StartedAt         time.Time
	FinishedAt        time.Time
}

// QueueItemStatus represents the state of a queue item.
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemCompleted  QueueItemStatus = "completed"
	QueueItemFailed     QueueItemStatus = "failed"
	QueueItemCancelled  QueueItemStatus = "cancelled"
	QueueItemTimeout    QueueItemStatus = "timeout"
)

// TierID identifies a capability tier. Tiers are totally ordered, most
// capable (and costliest) first; demotion only moves down the order.
type TierID string

const (
	TierFrontier TierID = "frontier"
	TierAdvanced TierID = "advanced"
	TierBaseline TierID = "baseline"
	TierEconomy  TierID = "economy"
)

// EffortLevel is a caller-supplied hint mapping to a recommended starting
// tier and thinking budget. Effort is a pre-flight input only and is never
// mutated mid-run.
type EffortLevel string

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
	EffortMax    EffortLevel = "max"
)

// Policy is a priority-ordered ABAC rule. Lower priority value means higher
// precedence. A policy with an empty TenantID is global.
type Policy struct {
	ID        string
	TenantID  string // Empty for global policies
	Name      string
	Effect    PolicyEffect
	Priority  int
	Subjects  []Condition
	Resources []Condition
	Actions   []string // "*" matches any action
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PolicyEffect is the outcome a matching policy produces.
type PolicyEffect string

const (
	PolicyAllow PolicyEffect = "allow"
	PolicyDeny  PolicyEffect = "deny"
)

// Condition is a single attribute comparison inside a policy condition set.
// All conditions in a set must hold for the set to match.
type Condition struct {
	Attribute       string
	Operator        ConditionOperator
	Value           any
	CaseInsensitive bool // Applies to string operators only
}

// ConditionOperator enumerates the supported comparison operators.
type ConditionOperator string

const (
	OpEquals         ConditionOperator = "eq"
	OpNotEquals      ConditionOperator = "ne"
	OpIn             ConditionOperator = "in"
	OpNotIn          ConditionOperator = "not-in"
	OpContains       ConditionOperator = "contains"
	OpStartsWith     ConditionOperator = "starts-with"
	OpEndsWith       ConditionOperator = "ends-with"
	OpGreaterThan    ConditionOperator = "gt"
	OpLessThan       ConditionOperator = "lt"
	OpGreaterOrEqual ConditionOperator = "gte"
	OpLessOrEqual    ConditionOperator = "lte"
	OpRegex          ConditionOperator = "regex"
)

// AccessRequest is the input to a policy evaluation.
type AccessRequest struct {
	Subject      map[string]any // e.g. id, roles, tier
	ResourceType string
	ResourceID   string
	Resource     map[string]any
	Action       string
	Environment  map[string]any
}

// AccessDecision is the result of a policy evaluation. Decisions are derived
// and not stored by default; they may be appended for audit.
type AccessDecision struct {
	Allowed     bool
	PolicyID    string // Matching policy, if any
	Reason      string
	EvaluatedAt time.Time
}

// RoleBinding assigns a role to a subject within a tenant.
type RoleBinding struct {
	ID        string
	TenantID  string
	SubjectID string
	Role      string
	CreatedAt time.Time
}

// UsageDay aggregates tenant consumption for one UTC day. Increments are
// additive and commutative within a day, and never decrement.
type UsageDay struct {
	TenantID     string
	Date         string // "2006-01-02", UTC
	Runs         int64
	Tokens       int64
	Cost         float64
	StorageBytes int64
	ActiveAgents int64
}

// RateWindowKind selects one of the three admission windows.
type RateWindowKind string

const (
	WindowMinute RateWindowKind = "minute"
	WindowHour   RateWindowKind = "hour"
	WindowDay    RateWindowKind = "day"
)

// APIKey is the stored form of a tenant API key. Key material is kept only
// as the SHA-256 of the presented token.
type APIKey struct {
	ID        string
	TenantID  string
	Name      string
	KeyHash   string // hex SHA-256 of the token
	Prefix    string // First 8 chars of the token, for display
	Scopes    []string
	ExpiresAt time.Time // Zero means no expiry
	LastUsed  time.Time
	CreatedAt time.Time
}

// ProviderJob mirrors a long-running external computation referenced by an
// external id. The associated run stays running while a job is outstanding.
type ProviderJob struct {
	ID         string
	Provider   string
	ExternalID string
	RunID      string
	TenantID   string
	Status     ProviderJobStatus
	Progress   int // [0, 100]
	ResultURL  string
	Cost       float64
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProviderJobStatus represents the state of a provider job.
type ProviderJobStatus string

const (
	ProviderJobPending    ProviderJobStatus = "pending"
	ProviderJobProcessing ProviderJobStatus = "processing"
	ProviderJobComplete   ProviderJobStatus = "complete"
	ProviderJobFailed     ProviderJobStatus = "failed"
	ProviderJobCancelled  ProviderJobStatus = "cancelled"
)

// RejectionReason identifies why an admission was refused.
type RejectionReason string

const (
	RejectTenantInactive RejectionReason = "TENANT_INACTIVE"
	RejectAgentForbidden RejectionReason = "AGENT_FORBIDDEN"
	RejectQueueDepth     RejectionReason = "QUEUE_DEPTH"
	RejectRatePerMinute  RejectionReason = "RATE_PER_MINUTE"
	RejectRatePerHour    RejectionReason = "RATE_PER_HOUR"
	RejectRatePerDay     RejectionReason = "RATE_PER_DAY"
)

// Rejection is a typed admission refusal surfaced to callers. The queue
// never drops work silently.
type Rejection struct {
	Reason    RejectionReason
	QuotaType string // "minute", "hour" or "day" for rate rejections
	Message   string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Message != "" {
		return string(r.Reason) + ": " + r.Message
	}
	return string(r.Reason)
}

// Sentinel errors shared across subsystems.
var (
	// ErrTerminalState is returned when a terminal-state transition is
	// attempted a second time. Non-retryable.
	ErrTerminalState = errors.New("run is in a terminal state")

	// ErrStepDivergence is returned when a step already exists at an index
	// with a different input hash. Non-retryable.
	ErrStepDivergence = errors.New("step input diverges from persisted step")

	// ErrPreflightRejected is returned when the estimated minimum cost of a
	// run exceeds its budget. Non-retryable.
	ErrPreflightRejected = errors.New("pre-flight cost estimate exceeds budget")

	// ErrNotFound is returned by ledger reads for missing records.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a request fails validation before
	// admission. Non-retryable.
	ErrInvalidInput = errors.New("invalid input")
)
