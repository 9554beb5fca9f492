// Package component defines the Force Engine's data model: the six
// admissible component kinds (Tool, Pattern, Constraint, GovernancePolicy,
// LearningRecord, Variant) plus their shared building blocks (Parameter,
// Command, ErrorHandler, Metadata).
package component

import "encoding/json"

// Kind identifies which of the six component families a document belongs to.
type Kind string

const (
	KindTool       Kind = "tool"
	KindPattern    Kind = "pattern"
	KindConstraint Kind = "constraint"
	KindGovernance Kind = "governance"
	KindLearning   Kind = "learning"
	KindVariant    Kind = "variant"
	KindUnknown    Kind = "unknown"
)

// ExecutionStrategy enumerates the strategies a Tool's command sequence can
// run under.
type ExecutionStrategy string

const (
	StrategySequential  ExecutionStrategy = "sequential"
	StrategyParallel    ExecutionStrategy = "parallel"
	StrategyConditional ExecutionStrategy = "conditional"
	StrategyIterative   ExecutionStrategy = "iterative"
	StrategyDynamic     ExecutionStrategy = "dynamic"
	StrategyAdaptive    ExecutionStrategy = "adaptive"
)

// ErrorStrategy enumerates how an ErrorHandler reacts to a matched failure.
type ErrorStrategy string

const (
	ErrorStrategyRetry               ErrorStrategy = "retry"
	ErrorStrategyFallback            ErrorStrategy = "fallback"
	ErrorStrategySkip                ErrorStrategy = "skip"
	ErrorStrategyAbort               ErrorStrategy = "abort"
	ErrorStrategyManualIntervention  ErrorStrategy = "manual_intervention"
	ErrorStrategyContinue            ErrorStrategy = "continue"
	ErrorStrategyEscalate            ErrorStrategy = "escalate"
	ErrorStrategyAutoFix             ErrorStrategy = "auto_fix"
	ErrorStrategyGracefulDegradation ErrorStrategy = "graceful_degradation"
	ErrorStrategyCircuitBreaker      ErrorStrategy = "circuit_breaker"
	ErrorStrategyExponentialBackoff  ErrorStrategy = "exponential_backoff"
)

// Severity enumerates Constraint violation severities.
type Severity string

const (
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// EnforcementLevel enumerates GovernancePolicy enforcement levels.
type EnforcementLevel string

const (
	EnforcementBlocking   EnforcementLevel = "blocking"
	EnforcementStrict     EnforcementLevel = "strict"
	EnforcementMonitoring EnforcementLevel = "monitoring"
	EnforcementAdvisory   EnforcementLevel = "advisory"
)

// Metadata is the common bookkeeping block carried by every component.
type Metadata struct {
	Created            string                 `json:"created"`
	Updated            string                 `json:"updated"`
	Version            string                 `json:"version"`
	Complexity         string                 `json:"complexity,omitempty"`
	Tags               []string               `json:"tags,omitempty"`
	Author             string                 `json:"author,omitempty"`
	PerformanceMetrics *PerformanceMetrics    `json:"performance_metrics,omitempty"`
	Extra              map[string]interface{} `json:"-"`
}

// PerformanceMetrics summarizes a Tool or Pattern's execution history, as
// surfaced by Registry.Stats / the Learning Recorder's aggregate query.
type PerformanceMetrics struct {
	AvgExecutionTime float64 `json:"avg_execution_time"`
	SuccessRate      float64 `json:"success_rate"`
	UsageCount       int64   `json:"usage_count"`
}

// Constraints bounds a Parameter's accepted values.
type Constraints struct {
	Min      *float64      `json:"min,omitempty"`
	Max      *float64      `json:"max,omitempty"`
	Pattern  string        `json:"pattern,omitempty"`
	Enum     []interface{} `json:"enum,omitempty"`
	Required bool          `json:"required,omitempty"`
}

// Parameter describes one input a Tool's command sequence can bind.
type Parameter struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Description string       `json:"description,omitempty"`
	Default     interface{}  `json:"default,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
}

// ParameterSet splits a Tool's parameters into required and optional, the
// canonical (post auto-fix) shape.
type ParameterSet struct {
	Required []Parameter `json:"required"`
	Optional []Parameter `json:"optional"`
}

// Command is one opaque action invocation in a Tool's execution sequence.
type Command struct {
	Action      string                 `json:"action"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Timeout     float64                `json:"timeout,omitempty"` // seconds
	Retry       int                    `json:"retry,omitempty"`
	Condition   string                 `json:"condition,omitempty"`
}

// ErrorHandler describes how the Runtime reacts when a command matching
// ErrorType fails.
type ErrorHandler struct {
	ErrorType   string        `json:"error_type"`
	Strategy    ErrorStrategy `json:"strategy"`
	Action      string        `json:"action,omitempty"`
	Escalation  string        `json:"escalation,omitempty"`
	MaxRetries  int           `json:"max_retries,omitempty"`
}

// Validation bundles a Tool's pre/post condition predicates and error
// handling table.
type Validation struct {
	PreConditions  []string       `json:"pre_conditions,omitempty"`
	PostConditions []string       `json:"post_conditions,omitempty"`
	ErrorHandling  []ErrorHandler `json:"error_handling,omitempty"`
}

// Execution bundles a Tool's command sequence, strategy, and validation.
type Execution struct {
	Strategy   ExecutionStrategy `json:"strategy"`
	Commands   []Command         `json:"commands"`
	Validation Validation        `json:"validation"`
}

// Tool is an invocable, parameterized unit of work.
type Tool struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	Parameters  ParameterSet `json:"parameters"`
	Execution   Execution    `json:"execution"`
	Metadata    Metadata     `json:"metadata"`

	// Critical marks a Tool whose quarantine blocks startup in production
	// mode. Sourced from metadata.tags containing "critical" during
	// classification.
	Critical bool `json:"-"`
}

// ExecutableStep invokes a Tool as one step of a Pattern.
type ExecutableStep struct {
	Name       string                 `json:"name"`
	ToolID     string                 `json:"toolId"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Optional   bool                   `json:"optional,omitempty"`
}

// PatternContext documents when and why to use a Pattern.
type PatternContext struct {
	WhenToUse   string   `json:"when_to_use,omitempty"`
	Benefits    []string `json:"benefits,omitempty"`
	TradeOffs   []string `json:"trade_offs,omitempty"`
	AntiPatterns []string `json:"anti_patterns,omitempty"`
}

// PatternImplementation holds a Pattern's steps: executable steps are
// preferred; descriptive steps are a free-form fallback.
type PatternImplementation struct {
	Steps           []string         `json:"steps,omitempty"`
	ExecutableSteps []ExecutableStep `json:"executable_steps,omitempty"`
}

// Pattern is an ordered multi-step workflow mixing executable and
// descriptive steps.
type Pattern struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Category       string                 `json:"category,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Context        PatternContext         `json:"context,omitempty"`
	Implementation PatternImplementation  `json:"implementation"`
	Metadata       Metadata               `json:"metadata"`
}

// ConstraintValidation is a Constraint's declarative ruleset.
type ConstraintValidation struct {
	Rules    json.RawMessage `json:"rules,omitempty"`
	Severity Severity        `json:"severity"`
	Scope    []string        `json:"scope,omitempty"`
}

// ConstraintEnforcement controls what a Constraint violation does.
type ConstraintEnforcement struct {
	AutoFix         bool `json:"auto_fix,omitempty"`
	RequireApproval bool `json:"require_approval,omitempty"`
	Blocking        bool `json:"blocking,omitempty"`
}

// Constraint is a declarative quality/governance rule evaluated against a
// scope by the Constraint Engine.
type Constraint struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Category    string                `json:"category,omitempty"`
	Description string                `json:"description,omitempty"`
	Validation  ConstraintValidation  `json:"validation"`
	Enforcement ConstraintEnforcement `json:"enforcement"`
	Metadata    Metadata              `json:"metadata"`
}

// GovernanceEnforcement controls how a GovernancePolicy's violations are
// treated at admission/execution time.
type GovernanceEnforcement struct {
	Level           EnforcementLevel `json:"level"`
	Automated       bool             `json:"automated,omitempty"`
	ValidationRules []string         `json:"validation_rules,omitempty"`
}

// GovernanceScope bounds where a GovernancePolicy applies.
type GovernanceScope struct {
	AppliesTo    []string `json:"applies_to,omitempty"`
	Environments []string `json:"environments,omitempty"`
	Exceptions   []string `json:"exceptions,omitempty"`
}

// GovernancePolicy is a rule evaluated at admission and/or execution time
// that can block, warn, or log.
type GovernancePolicy struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Category    string                `json:"category,omitempty"`
	PolicyType  string                `json:"policy_type"`
	Enforcement GovernanceEnforcement `json:"enforcement"`
	Scope       GovernanceScope       `json:"scope,omitempty"`
	Metadata    Metadata              `json:"metadata"`
}

// LearningRecord is a durable, curated insight, distinct from the ephemeral
// per-execution log entries the Learning Recorder appends.
type LearningRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Content     string   `json:"content,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// VariantContext documents a Variant's persona, goals, and environment.
type VariantContext struct {
	Persona     string   `json:"persona,omitempty"`
	Goals       []string `json:"goals,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// VariantAnchors binds a Variant's prompt/behavior profile to other
// components by id.
type VariantAnchors struct {
	Constraints []string `json:"constraints,omitempty"`
	Governance  []string `json:"governance,omitempty"`
	Patterns    []string `json:"patterns,omitempty"`
	Learnings   []string `json:"learnings,omitempty"`
}

// Variant is a session-orchestration profile.
type Variant struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category,omitempty"`
	Instructions string          `json:"instructions"`
	Rules        []string        `json:"rules,omitempty"`
	Context      VariantContext  `json:"context,omitempty"`
	Targets      []string        `json:"targets,omitempty"`
	Anchors      VariantAnchors  `json:"anchors"`
	Metadata     Metadata        `json:"metadata"`
}

// Record is the Validator's per-component verdict.
type Record struct {
	ID       string
	Kind     Kind
	Valid    bool
	Errors   []FieldError
	Critical bool // tool-kind only: metadata.tags contained "critical"
}

// FieldError is one validation diagnostic.
type FieldError struct {
	Path    string
	Message string
}
