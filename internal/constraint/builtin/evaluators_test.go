package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/constraint"
)

func oneConstraint(cs ...component.Constraint) func() []component.Constraint {
	return func() []component.Constraint { return cs }
}

func TestRegexEvaluatorFlagsComponentIDNotMatchingPattern(t *testing.T) {
	rules, _ := json.Marshal(map[string]interface{}{
		"pattern": "^[a-z][a-z0-9_]*$", "target": "component_ids",
	})
	c := component.Constraint{ID: "c1", Category: "regex", Validation: component.ConstraintValidation{Rules: rules}}
	e := constraint.New(oneConstraint(c))
	Register(e, nil)

	violations := e.Check(context.Background(), constraint.Scope{ComponentIDs: []string{"BadName"}})
	require.Len(t, violations, 1)
	assert.Equal(t, "c1", violations[0].ConstraintID)
}

func TestRegexEvaluatorPassesMatchingComponentID(t *testing.T) {
	rules, _ := json.Marshal(map[string]interface{}{
		"pattern": "^[a-z][a-z0-9_]*$", "target": "component_ids",
	})
	c := component.Constraint{ID: "c1", Category: "regex", Validation: component.ConstraintValidation{Rules: rules}}
	e := constraint.New(oneConstraint(c))
	Register(e, nil)

	violations := e.Check(context.Background(), constraint.Scope{ComponentIDs: []string{"good_name"}})
	assert.Empty(t, violations)
}

func TestAstQueryEvaluatorFlagsForbiddenImport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.go")
	require.NoError(t, os.WriteFile(path, []byte(`package x

import "unsafe"
`), 0o644))

	rules, _ := json.Marshal(map[string]interface{}{"forbidden_imports": []string{"\"unsafe\""}})
	c := component.Constraint{ID: "c1", Category: "ast_query", Validation: component.ConstraintValidation{Rules: rules}}
	e := constraint.New(oneConstraint(c))
	Register(e, nil)

	violations := e.Check(context.Background(), constraint.Scope{Paths: []string{path}})
	require.Len(t, violations, 1)
}

func TestSchemaEvaluatorFlagsPayloadViolatingSchema(t *testing.T) {
	rules, _ := json.Marshal(map[string]interface{}{
		"schema": map[string]interface{}{
			"type":     "object",
			"required": []string{"owner"},
		},
	})
	c := component.Constraint{ID: "c1", Category: "schema", Validation: component.ConstraintValidation{Rules: rules}}
	e := constraint.New(oneConstraint(c))
	Register(e, nil)

	violations := e.Check(context.Background(), constraint.Scope{Payload: map[string]interface{}{"name": "x"}})
	require.Len(t, violations, 1)
}

func TestSchemaEvaluatorPassesConformingPayload(t *testing.T) {
	rules, _ := json.Marshal(map[string]interface{}{
		"schema": map[string]interface{}{
			"type":     "object",
			"required": []string{"owner"},
		},
	})
	c := component.Constraint{ID: "c1", Category: "schema", Validation: component.ConstraintValidation{Rules: rules}}
	e := constraint.New(oneConstraint(c))
	Register(e, nil)

	violations := e.Check(context.Background(), constraint.Scope{Payload: map[string]interface{}{"owner": "team-x"}})
	assert.Empty(t, violations)
}
