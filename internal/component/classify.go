package component

// Classify identifies which Kind a raw JSON document belongs to by checking
// for the presence of each kind's discriminating required fields:
// parameters+execution => Tool; implementation => Pattern;
// validation+enforcement => Constraint; policy_type+enforcement.level =>
// GovernancePolicy; instructions+anchors => Variant. A document with a title
// and none of those markers is treated as a durable LearningRecord.
func Classify(doc map[string]interface{}) Kind {
	_, hasParameters := doc["parameters"]
	_, hasExecution := doc["execution"]
	if hasParameters && hasExecution {
		return KindTool
	}

	if _, ok := doc["implementation"]; ok {
		return KindPattern
	}

	_, hasValidation := doc["validation"]
	_, hasEnforcement := doc["enforcement"]
	if hasValidation && hasEnforcement {
		return KindConstraint
	}

	if _, ok := doc["policy_type"]; ok {
		if enf, ok := doc["enforcement"].(map[string]interface{}); ok {
			if _, ok := enf["level"]; ok {
				return KindGovernance
			}
		}
	}

	_, hasInstructions := doc["instructions"]
	_, hasAnchors := doc["anchors"]
	if hasInstructions && hasAnchors {
		return KindVariant
	}

	if _, ok := doc["title"]; ok {
		return KindLearning
	}

	return KindUnknown
}

// AggregateKey maps each Kind to the top-level array key used by aggregate
// component files, plus the supplemental "learning_records" key.
func AggregateKey(k Kind) string {
	switch k {
	case KindTool:
		return "tools"
	case KindPattern:
		return "patterns"
	case KindConstraint:
		return "constraints"
	case KindGovernance:
		return "governance_policies"
	case KindVariant:
		return "variants"
	case KindLearning:
		return "learning_records"
	default:
		return ""
	}
}

// KindFromDir maps a Loader directory name to its Kind hint.
func KindFromDir(dir string) Kind {
	switch dir {
	case "tools":
		return KindTool
	case "patterns":
		return KindPattern
	case "constraints":
		return KindConstraint
	case "governance":
		return KindGovernance
	case "variants":
		return KindVariant
	case "learning":
		return KindLearning
	default:
		return KindUnknown
	}
}
