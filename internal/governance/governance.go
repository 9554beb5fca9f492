// Package governance implements the Governance Gate: evaluating registered
// GovernancePolicies against an admission or execution event and enforcing
// them according to the policy's declared EnforcementLevel.
package governance

import (
	"context"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/logging"
)

// Phase identifies when a Decision is being requested.
type Phase string

const (
	PhaseAdmission Phase = "admission"
	PhaseExecution Phase = "execution"
)

// Event is what a policy evaluator decides over: a component being admitted
// into the Registry, or a Tool about to execute.
type Event struct {
	Phase       Phase
	ComponentID string
	Kind        component.Kind
	Payload     map[string]interface{}
}

// StatsSource lets a policy evaluator consult execution history (e.g. the
// "success_rate >= 0.8 to be considered stable" lifecycle policy) without
// the governance package importing internal/learning or internal/registry
// directly.
type StatsSource interface {
	Stats(id string) (component.PerformanceMetrics, bool)
}

// PolicyEvaluator decides whether policy permits event, returning a
// human-readable reason when it does not.
type PolicyEvaluator func(ctx context.Context, policy component.GovernancePolicy, event Event, stats StatsSource) (allow bool, reason string)

// Decision is the Gate's verdict for one Event.
type Decision struct {
	Allowed  bool       `json:"allowed"`
	Findings []Finding  `json:"findings,omitempty"`
}

// Finding records one policy's verdict within a Decision.
type Finding struct {
	PolicyID string                     `json:"policy_id"`
	Level    component.EnforcementLevel `json:"level"`
	Allowed  bool                       `json:"allowed"`
	Reason   string                     `json:"reason,omitempty"`
}

// Gate evaluates GovernancePolicies.
type Gate struct {
	policies   func() []component.GovernancePolicy
	evaluators map[string]PolicyEvaluator
	stats      StatsSource
	logger     logging.Logger
}

// Option configures a Gate at construction.
type Option func(*Gate)

// WithStatsSource wires execution-history lookups into evaluators.
func WithStatsSource(s StatsSource) Option {
	return func(g *Gate) { g.stats = s }
}

// WithLogger sets the Gate's logger.
func WithLogger(l logging.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New builds a Gate. policies returns the live GovernancePolicy set
// (typically registry.Snapshot().Governance values), re-read on every
// Evaluate call.
func New(policies func() []component.GovernancePolicy, opts ...Option) *Gate {
	g := &Gate{
		policies:   policies,
		evaluators: map[string]PolicyEvaluator{},
		logger:     logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterEvaluator binds a PolicyEvaluator to a GovernancePolicy's
// policy_type. A policy_type without a registered evaluator defaults to
// allow, logged at debug, matching the Constraint Engine's unmatched-category
// behavior.
func (g *Gate) RegisterEvaluator(policyType string, ev PolicyEvaluator) {
	g.evaluators[policyType] = ev
}

// Evaluate runs every GovernancePolicy whose scope applies to event's kind,
// combining their verdicts: the Decision is disallowed only if a policy at
// EnforcementBlocking or EnforcementStrict disallows it. Monitoring and
// advisory policies record Findings but never flip Allowed to false.
func (g *Gate) Evaluate(ctx context.Context, event Event) Decision {
	dec := Decision{Allowed: true}

	for _, p := range g.policies() {
		if !appliesTo(p, event) {
			continue
		}

		ev, ok := g.evaluators[p.PolicyType]
		if !ok {
			g.logger.Debug("no evaluator for governance policy_type", map[string]interface{}{
				"policy_id": p.ID, "policy_type": p.PolicyType,
			})
			continue
		}

		allowed, reason := ev(ctx, p, event, g.stats)
		dec.Findings = append(dec.Findings, Finding{
			PolicyID: p.ID, Level: p.Enforcement.Level, Allowed: allowed, Reason: reason,
		})

		if !allowed && isEnforcing(p.Enforcement.Level) {
			dec.Allowed = false
		}
	}

	return dec
}

func isEnforcing(level component.EnforcementLevel) bool {
	return level == component.EnforcementBlocking || level == component.EnforcementStrict
}

func appliesTo(p component.GovernancePolicy, event Event) bool {
	if len(p.Scope.AppliesTo) == 0 {
		return true
	}
	for _, target := range p.Scope.AppliesTo {
		if target == string(event.Kind) || target == "*" {
			return true
		}
	}
	return false
}

// StableThreshold is the minimum success rate a StatsSource must report for
// a component to be considered "stable" by the lifecycle-promotion example
// policy described in the Governance Gate's design decisions.
const StableThreshold = 0.8

// IsStable reports whether id's recorded success rate meets StableThreshold
// with at least one recorded execution.
func IsStable(stats StatsSource, id string) bool {
	if stats == nil {
		return false
	}
	m, ok := stats.Stats(id)
	if !ok || m.UsageCount == 0 {
		return false
	}
	return m.SuccessRate >= StableThreshold
}
