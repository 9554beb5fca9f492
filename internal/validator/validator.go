// Package validator runs the Force Engine's two-phase component check:
// schema validation against the active schema.Store, then semantic checks
// (id format, SemVer, ISO-8601 timestamps, referential integrity) in the
// style of the teradata-labs-loom pack's semantic validation pass.
package validator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/schema"
)

var (
	snakeCaseRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	paramNameRe = snakeCaseRe
)

// Validator applies a schema.Store plus semantic checks to parsed documents.
type Validator struct {
	store *schema.Store
}

// New builds a Validator against the given schema Store.
func New(store *schema.Store) *Validator {
	return &Validator{store: store}
}

// Corpus is the set of already-seen ids the semantic pass checks referential
// integrity and uniqueness against, grouped by kind.
type Corpus struct {
	ToolIDs    map[string]bool
	PatternIDs map[string]bool
	ConstraintIDs map[string]bool
	GovernanceIDs map[string]bool
	VariantIDs map[string]bool
	LearningIDs map[string]bool
}

// NewCorpus returns an empty Corpus.
func NewCorpus() *Corpus {
	return &Corpus{
		ToolIDs:       map[string]bool{},
		PatternIDs:    map[string]bool{},
		ConstraintIDs: map[string]bool{},
		GovernanceIDs: map[string]bool{},
		VariantIDs:    map[string]bool{},
		LearningIDs:   map[string]bool{},
	}
}

func (c *Corpus) idSet(k component.Kind) map[string]bool {
	switch k {
	case component.KindTool:
		return c.ToolIDs
	case component.KindPattern:
		return c.PatternIDs
	case component.KindConstraint:
		return c.ConstraintIDs
	case component.KindGovernance:
		return c.GovernanceIDs
	case component.KindVariant:
		return c.VariantIDs
	case component.KindLearning:
		return c.LearningIDs
	default:
		return nil
	}
}

// Validate runs schema validation followed by semantic checks and returns
// one Record. kind is resolved by the caller via component.Classify before
// calling in, so classification failures surface as a KindUnknown record.
func (v *Validator) Validate(kind component.Kind, doc map[string]interface{}, corpus *Corpus) component.Record {
	id, _ := doc["id"].(string)
	rec := component.Record{ID: id, Kind: kind}

	if kind == component.KindUnknown {
		rec.Errors = append(rec.Errors, component.FieldError{
			Path: "$", Message: "document matches no known component kind",
		})
		return rec
	}

	if v.store != nil {
		result, err := v.store.Validate(kind, doc)
		if err != nil {
			rec.Errors = append(rec.Errors, component.FieldError{Path: "$", Message: err.Error()})
			return rec
		}
		if !result.Valid {
			rec.Errors = append(rec.Errors, result.Errors...)
		}
	}

	rec.Errors = append(rec.Errors, semanticErrors(kind, doc, corpus)...)
	rec.Valid = len(rec.Errors) == 0

	if corpus != nil && id != "" {
		if set := corpus.idSet(kind); set != nil {
			set[id] = true
		}
	}

	return rec
}

// semanticErrors runs the structural checks beyond what JSON Schema can
// express: snake_case ids, unique-within-kind ids, SemVer versions,
// ISO-8601 timestamps with updated >= created, and toolId/anchor references
// resolving against the corpus seen so far.
func semanticErrors(kind component.Kind, doc map[string]interface{}, corpus *Corpus) []component.FieldError {
	var errs []component.FieldError

	if id, ok := doc["id"].(string); ok {
		if !snakeCaseRe.MatchString(id) {
			errs = append(errs, component.FieldError{
				Path: "id", Message: fmt.Sprintf("id %q is not snake_case", id),
			})
		}
		if corpus != nil {
			if set := corpus.idSet(kind); set != nil && set[id] {
				errs = append(errs, component.FieldError{
					Path: "id", Message: fmt.Sprintf("duplicate id %q within kind %q", id, kind),
				})
			}
		}
	} else {
		errs = append(errs, component.FieldError{Path: "id", Message: "missing or non-string id"})
	}

	if meta, ok := doc["metadata"].(map[string]interface{}); ok {
		errs = append(errs, validateMetadata(meta)...)
	}

	if kind == component.KindTool {
		errs = append(errs, validateParameterNames(doc)...)
	}
	if kind == component.KindPattern && corpus != nil {
		errs = append(errs, validatePatternRefs(doc, corpus)...)
	}
	if kind == component.KindVariant && corpus != nil {
		errs = append(errs, validateVariantAnchors(doc, corpus)...)
	}

	return errs
}

func validateMetadata(meta map[string]interface{}) []component.FieldError {
	var errs []component.FieldError

	created, _ := meta["created"].(string)
	updated, _ := meta["updated"].(string)
	createdT, createdErr := time.Parse(time.RFC3339, created)
	if createdErr != nil {
		errs = append(errs, component.FieldError{
			Path: "metadata.created", Message: fmt.Sprintf("not ISO-8601: %v", createdErr),
		})
	}
	updatedT, updatedErr := time.Parse(time.RFC3339, updated)
	if updatedErr != nil {
		errs = append(errs, component.FieldError{
			Path: "metadata.updated", Message: fmt.Sprintf("not ISO-8601: %v", updatedErr),
		})
	}
	if createdErr == nil && updatedErr == nil && updatedT.Before(createdT) {
		errs = append(errs, component.FieldError{
			Path: "metadata.updated", Message: "updated precedes created",
		})
	}

	if version, ok := meta["version"].(string); ok {
		if _, err := semver.NewVersion(version); err != nil {
			errs = append(errs, component.FieldError{
				Path: "metadata.version", Message: fmt.Sprintf("not SemVer: %v", err),
			})
		}
	}

	return errs
}

func validateParameterNames(doc map[string]interface{}) []component.FieldError {
	var errs []component.FieldError
	params, ok := doc["parameters"].(map[string]interface{})
	if !ok {
		return errs
	}
	for _, bucket := range []string{"required", "optional"} {
		list, ok := params[bucket].([]interface{})
		if !ok {
			continue
		}
		for i, item := range list {
			p, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := p["name"].(string)
			if name != "" && !paramNameRe.MatchString(name) {
				errs = append(errs, component.FieldError{
					Path:    fmt.Sprintf("parameters.%s[%d].name", bucket, i),
					Message: fmt.Sprintf("parameter name %q is not snake_case", name),
				})
			}
		}
	}
	return errs
}

func validatePatternRefs(doc map[string]interface{}, corpus *Corpus) []component.FieldError {
	var errs []component.FieldError
	impl, ok := doc["implementation"].(map[string]interface{})
	if !ok {
		return errs
	}
	steps, ok := impl["executable_steps"].([]interface{})
	if !ok {
		return errs
	}
	for i, item := range steps {
		step, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		toolID, _ := step["toolId"].(string)
		if toolID == "" {
			continue
		}
		if !corpus.ToolIDs[toolID] {
			errs = append(errs, component.FieldError{
				Path:    fmt.Sprintf("implementation.executable_steps[%d].toolId", i),
				Message: fmt.Sprintf("referenced tool %q not found in corpus", toolID),
			})
		}
	}
	return errs
}

func validateVariantAnchors(doc map[string]interface{}, corpus *Corpus) []component.FieldError {
	var errs []component.FieldError
	anchors, ok := doc["anchors"].(map[string]interface{})
	if !ok {
		return errs
	}
	checks := []struct {
		field string
		set   map[string]bool
	}{
		{"constraints", corpus.ConstraintIDs},
		{"governance", corpus.GovernanceIDs},
		{"patterns", corpus.PatternIDs},
		{"learnings", corpus.LearningIDs},
	}
	for _, c := range checks {
		refs, ok := anchors[c.field].([]interface{})
		if !ok {
			continue
		}
		for i, r := range refs {
			id, _ := r.(string)
			if id != "" && !c.set[id] {
				errs = append(errs, component.FieldError{
					Path:    fmt.Sprintf("anchors.%s[%d]", c.field, i),
					Message: fmt.Sprintf("referenced %s %q not found in corpus", c.field, id),
				})
			}
		}
	}
	return errs
}

// MarshalErrors renders a Record's errors as a JSON array of {path, message}
// objects, used by the MCP Surface's registry_validate response body.
func MarshalErrors(errs []component.FieldError) ([]byte, error) {
	type wire struct {
		Path    string `json:"path"`
		Message string `json:"message"`
	}
	out := make([]wire, 0, len(errs))
	for _, e := range errs {
		out = append(out, wire{Path: e.Path, Message: e.Message})
	}
	return json.Marshal(out)
}
