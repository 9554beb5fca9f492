// Package schema loads and compiles the Force Engine's two JSON Schema
// variants (strict and extended) and validates component documents against
// them, following the draft-07 validation style of loom's protocol
// validator.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/ferrors"
)

//go:embed assets/force-schema.json assets/force-extended-schema.json
var defaultAssets embed.FS

// Type identifies which schema variant a Store is enforcing.
type Type string

const (
	// TypeStrict rejects any field value outside its closed enum.
	TypeStrict Type = "strict"
	// TypeExtended accepts open string values for fields the strict
	// variant constrains to an enum, but keeps every other structural
	// check identical.
	TypeExtended Type = "extended"
)

const (
	strictAssetPath   = "assets/force-schema.json"
	extendedAssetPath = "assets/force-extended-schema.json"

	strictFileName   = "force-schema.json"
	extendedFileName = "force-extended-schema.json"
)

// ValidationResult is the outcome of validating one document against one
// Kind's sub-schema.
type ValidationResult struct {
	Valid  bool
	Errors []component.FieldError
}

// Store holds one compiled schema document (either variant) and exposes
// per-Kind validation against it.
type Store struct {
	typ        Type
	raw        map[string]interface{}
	definitions map[string]interface{}
}

// Load resolves the active schema variant under root/schemas: an extended
// schema takes priority over a strict one, following the precedence spelled
// out for SchemaStore.Load. If neither file exists under root, Load falls
// back to the embedded default pair and reports TypeStrict.
func Load(root string) (*Store, error) {
	extPath := filepath.Join(root, "schemas", extendedFileName)
	if data, err := os.ReadFile(extPath); err == nil {
		return newStore(TypeExtended, data)
	}

	strictPath := filepath.Join(root, "schemas", strictFileName)
	if data, err := os.ReadFile(strictPath); err == nil {
		return newStore(TypeStrict, data)
	}

	data, err := defaultAssets.ReadFile(strictAssetPath)
	if err != nil {
		return nil, ferrors.Withf("schema.Load", "schema", "", ferrors.ErrSchemaMissing, "read embedded default: %v", err)
	}
	return newStore(TypeStrict, data)
}

// LoadExtended forces the embedded extended schema regardless of what is on
// disk under root, used by the Auto-Fixer's relaxed-validation passes.
func LoadExtended() (*Store, error) {
	data, err := defaultAssets.ReadFile(extendedAssetPath)
	if err != nil {
		return nil, ferrors.Withf("schema.LoadExtended", "schema", "", ferrors.ErrSchemaMissing, "read embedded extended: %v", err)
	}
	return newStore(TypeExtended, data)
}

func newStore(typ Type, data []byte) (*Store, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ferrors.Withf("schema.Load", "schema", string(typ), ferrors.ErrSchemaInvalid, "parse: %v", err)
	}
	defs, _ := raw["definitions"].(map[string]interface{})
	if defs == nil {
		return nil, ferrors.Withf("schema.Load", "schema", string(typ), ferrors.ErrSchemaInvalid, "document has no definitions")
	}
	return &Store{typ: typ, raw: raw, definitions: defs}, nil
}

// Type reports which variant is active.
func (s *Store) Type() Type {
	return s.typ
}

// kindDefinition maps a component.Kind to the schema's definition name.
func kindDefinition(k component.Kind) (string, error) {
	switch k {
	case component.KindTool:
		return "tool", nil
	case component.KindPattern:
		return "pattern", nil
	case component.KindConstraint:
		return "constraint", nil
	case component.KindGovernance:
		return "governance_policy", nil
	case component.KindLearning:
		return "learning_record", nil
	case component.KindVariant:
		return "variant", nil
	default:
		return "", fmt.Errorf("schema: no definition for kind %q", k)
	}
}

// Validate checks doc against the sub-schema for kind, synthesizing a
// wrapper document that references the single named definition so the full
// definitions block stays available for internal $ref resolution.
func (s *Store) Validate(kind component.Kind, doc map[string]interface{}) (*ValidationResult, error) {
	defName, err := kindDefinition(kind)
	if err != nil {
		return nil, err
	}
	if _, ok := s.definitions[defName]; !ok {
		return nil, fmt.Errorf("schema: definition %q not present in loaded %s schema", defName, s.typ)
	}

	wrapper := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"definitions": s.definitions,
		"allOf": []interface{}{
			map[string]interface{}{"$ref": "#/definitions/" + defName},
		},
	}

	schemaLoader := gojsonschema.NewGoLoader(wrapper)
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("schema: validate %s: %w", defName, err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, component.FieldError{
			Path:    e.Field(),
			Message: e.Description(),
		})
	}
	return out, nil
}
