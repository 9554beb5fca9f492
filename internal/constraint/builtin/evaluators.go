// Package builtin supplies default Constraint category evaluators for the
// three rule representations a Constraint's validation.rules can take
// (regex, AST-query, schema): a bare Force Engine process registers these
// so force_check_constraints reports real violations out of the box, the
// way internal/builtin registers the Action Table's default actions.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/constraint"
	"github.com/force-engine/force/internal/logging"
)

// Register wires the regex, ast_query, and schema category evaluators into
// engine.
func Register(engine *constraint.Engine, logger logging.Logger) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	log := logger.WithComponent("constraint.builtin")

	engine.RegisterEvaluator("regex", regexEvaluator(log))
	engine.RegisterEvaluator("ast_query", astQueryEvaluator(log))
	engine.RegisterEvaluator("schema", schemaEvaluator(log))
}

// regexRule is a regex-category Constraint's validation.rules body: pattern
// is matched against every string named in target ("paths", "component_ids",
// or otherwise the payload key of that name). A string that does not match
// is a violation; with invert set, a string that matches is.
type regexRule struct {
	Pattern string `json:"pattern"`
	Target  string `json:"target"`
	Invert  bool   `json:"invert"`
	Message string `json:"message"`
}

// regexEvaluator checks scope strings against a compiled pattern, grounded
// on spec.md's "regex" rule representation for a Constraint's validation.rules.
func regexEvaluator(log logging.Logger) constraint.Evaluator {
	return func(ctx context.Context, c component.Constraint, scope constraint.Scope) ([]string, error) {
		var rule regexRule
		if err := json.Unmarshal(c.Validation.Rules, &rule); err != nil {
			return nil, fmt.Errorf("regex rule: %w", err)
		}
		if rule.Pattern == "" {
			return nil, nil
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("regex rule: compile %q: %w", rule.Pattern, err)
		}

		var violations []string
		check := func(label, s string) {
			matched := re.MatchString(s)
			if matched == rule.Invert {
				msg := rule.Message
				if msg == "" {
					msg = fmt.Sprintf("%q does not satisfy pattern %q", s, rule.Pattern)
				}
				violations = append(violations, fmt.Sprintf("%s: %s", label, msg))
			}
		}

		switch rule.Target {
		case "paths":
			for _, p := range scope.Paths {
				check(p, p)
			}
		case "component_ids":
			for _, id := range scope.ComponentIDs {
				check(id, id)
			}
		default:
			// An unrecognized or empty target falls back to the payload key
			// named by rule.Target, matching a single declared value.
			if v, ok := scope.Payload[rule.Target].(string); ok {
				check(rule.Target, v)
			}
		}

		log.Debug("regex evaluator ran", map[string]interface{}{
			"constraint_id": c.ID, "violations": len(violations),
		})
		return violations, nil
	}
}

// astQueryRule is an ast_query-category Constraint's validation.rules body.
// True AST parsing is out of scope for the Engine; forbidden_imports is
// checked as a substring scan over each scoped file's source text, which
// catches the common "must not import package X" case the original
// implementation's AST-query rules are generally used for.
type astQueryRule struct {
	ForbiddenImports []string `json:"forbidden_imports"`
	Message          string   `json:"message"`
}

func astQueryEvaluator(log logging.Logger) constraint.Evaluator {
	return func(ctx context.Context, c component.Constraint, scope constraint.Scope) ([]string, error) {
		var rule astQueryRule
		if err := json.Unmarshal(c.Validation.Rules, &rule); err != nil {
			return nil, fmt.Errorf("ast_query rule: %w", err)
		}
		if len(rule.ForbiddenImports) == 0 {
			return nil, nil
		}

		var violations []string
		for _, path := range scope.Paths {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Debug("ast_query evaluator skipped unreadable path", map[string]interface{}{
					"constraint_id": c.ID, "path": path, "error": err.Error(),
				})
				continue
			}
			src := string(data)
			for _, imp := range rule.ForbiddenImports {
				if strings.Contains(src, imp) {
					msg := rule.Message
					if msg == "" {
						msg = fmt.Sprintf("forbidden import %q", imp)
					}
					violations = append(violations, fmt.Sprintf("%s: %s", path, msg))
				}
			}
		}
		return violations, nil
	}
}

// schemaRule is a schema-category Constraint's validation.rules body: an
// inline JSON Schema validated against the scope's payload, using the same
// gojsonschema validator the Schema Store validates components with.
type schemaRule struct {
	Schema map[string]interface{} `json:"schema"`
}

func schemaEvaluator(log logging.Logger) constraint.Evaluator {
	return func(ctx context.Context, c component.Constraint, scope constraint.Scope) ([]string, error) {
		var rule schemaRule
		if err := json.Unmarshal(c.Validation.Rules, &rule); err != nil {
			return nil, fmt.Errorf("schema rule: %w", err)
		}
		if len(rule.Schema) == 0 {
			return nil, nil
		}

		schemaLoader := gojsonschema.NewGoLoader(rule.Schema)
		docLoader := gojsonschema.NewGoLoader(scope.Payload)
		result, err := gojsonschema.Validate(schemaLoader, docLoader)
		if err != nil {
			return nil, fmt.Errorf("schema rule: validate: %w", err)
		}
		if result.Valid() {
			return nil, nil
		}

		violations := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			violations = append(violations, e.String())
		}
		log.Debug("schema evaluator found violations", map[string]interface{}{
			"constraint_id": c.ID, "violations": len(violations),
		})
		return violations, nil
	}
}
