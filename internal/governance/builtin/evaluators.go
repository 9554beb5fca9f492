// Package builtin supplies default GovernancePolicy evaluators for the two
// policy_type values a GovernancePolicy can declare (mandatory,
// recommended): a bare Force Engine process registers these so the
// Governance Gate actually enforces and reports something out of the box,
// the way internal/builtin registers the Action Table's default actions.
package builtin

import (
	"context"
	"fmt"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/governance"
	"github.com/force-engine/force/internal/logging"
)

// namedCheck resolves one validation_rules entry against an Event, returning
// whether it passes and a human-readable reason either way.
type namedCheck func(ctx context.Context, policy component.GovernancePolicy, event governance.Event, stats governance.StatsSource) (pass bool, reason string)

var namedChecks = map[string]namedCheck{
	"stable_success_rate": checkStableSuccessRate,
	"applies_to_declared": checkAppliesToDeclared,
}

// checkStableSuccessRate passes when the event's component meets the
// Governance Gate's stability threshold, exercising the otherwise-unwired
// IsStable/StableThreshold helpers for the lifecycle-promotion example
// policy described in the Gate's design decisions.
func checkStableSuccessRate(_ context.Context, _ component.GovernancePolicy, event governance.Event, stats governance.StatsSource) (bool, string) {
	if governance.IsStable(stats, event.ComponentID) {
		return true, fmt.Sprintf("%s meets the %.0f%% stable success-rate threshold", event.ComponentID, governance.StableThreshold*100)
	}
	return false, fmt.Sprintf("%s has not met the %.0f%% stable success-rate threshold", event.ComponentID, governance.StableThreshold*100)
}

// checkAppliesToDeclared passes when event.Kind is named in the policy's own
// scope.applies_to (or the scope is unrestricted), a sanity check a policy
// author can opt a rule into when a policy is shared across kinds but one
// validation_rules entry should only fire for a subset of them.
func checkAppliesToDeclared(_ context.Context, policy component.GovernancePolicy, event governance.Event, _ governance.StatsSource) (bool, string) {
	if len(policy.Scope.AppliesTo) == 0 {
		return true, "policy applies to all kinds"
	}
	for _, target := range policy.Scope.AppliesTo {
		if target == string(event.Kind) || target == "*" {
			return true, fmt.Sprintf("policy scope includes %s", event.Kind)
		}
	}
	return false, fmt.Sprintf("policy scope excludes %s", event.Kind)
}

// Register wires the mandatory and recommended policy_type evaluators into
// gate.
func Register(gate *governance.Gate, logger logging.Logger) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	log := logger.WithComponent("governance.builtin")

	gate.RegisterEvaluator("mandatory", mandatoryEvaluator(log))
	gate.RegisterEvaluator("recommended", recommendedEvaluator(log))
}

// mandatoryEvaluator disallows the event if any of the policy's declared
// validation_rules fails; an unrecognized rule name is skipped (logged at
// debug) rather than treated as a failure, consistent with the Constraint
// Engine's unmatched-category behavior.
func mandatoryEvaluator(log logging.Logger) governance.PolicyEvaluator {
	return func(ctx context.Context, policy component.GovernancePolicy, event governance.Event, stats governance.StatsSource) (bool, string) {
		for _, name := range policy.Enforcement.ValidationRules {
			check, ok := namedChecks[name]
			if !ok {
				log.Debug("no named check for mandatory validation rule", map[string]interface{}{
					"policy_id": policy.ID, "rule": name,
				})
				continue
			}
			if pass, reason := check(ctx, policy, event, stats); !pass {
				return false, reason
			}
		}
		return true, "all declared validation_rules passed"
	}
}

// recommendedEvaluator runs the same named checks as mandatoryEvaluator but
// always allows the event: a recommended policy reports its verdict as a
// Finding without ever flipping the Gate's Decision to disallowed.
func recommendedEvaluator(log logging.Logger) governance.PolicyEvaluator {
	return func(ctx context.Context, policy component.GovernancePolicy, event governance.Event, stats governance.StatsSource) (bool, string) {
		for _, name := range policy.Enforcement.ValidationRules {
			check, ok := namedChecks[name]
			if !ok {
				log.Debug("no named check for recommended validation rule", map[string]interface{}{
					"policy_id": policy.ID, "rule": name,
				})
				continue
			}
			if pass, reason := check(ctx, policy, event, stats); !pass {
				return true, "advisory only, not enforced: " + reason
			}
		}
		return true, "all declared validation_rules passed"
	}
}
