// Package autofix applies the Force Engine's bounded, deterministic repair
// rule set to a component document that failed validation, backing up the
// source file before any mutation, following the pack's own "write a backup,
// then rewrite in place" discipline for declarative config repair.
package autofix

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/force-engine/force/internal/component"
)

var nonSnake = regexp.MustCompile(`[^a-z0-9_]+`)

// Rule is one deterministic repair pass; it mutates doc in place and reports
// whether it changed anything.
type Rule func(doc map[string]interface{}) bool

// Fixer applies the ordered rule set to documents and owns file backup.
type Fixer struct {
	rules []namedRule
}

type namedRule struct {
	name string
	fn   Rule
}

// New builds a Fixer with the Force Engine's standard rule set, applied in
// a fixed order so repeated runs over the same document are idempotent.
func New() *Fixer {
	return &Fixer{rules: []namedRule{
		{"migrate_parameter_list", migrateParameterList},
		{"normalize_parameter_names", normalizeParameterNames},
		{"default_execution_strategy", defaultExecutionStrategy},
		{"strip_unknown_legacy_fields", stripUnknownLegacyFields},
		{"stub_metadata", stubMetadata},
	}}
}

// Applied records which rules fired during one Fix call.
type Applied struct {
	Rules []string
}

// Fix runs every rule against doc in order, returning the rules that
// actually changed something. Fix is idempotent: running it twice on its
// own output applies no further rules.
func (f *Fixer) Fix(kind component.Kind, doc map[string]interface{}) Applied {
	var applied Applied
	for _, r := range f.rules {
		if r.fn(doc) {
			applied.Rules = append(applied.Rules, r.name)
		}
	}
	return applied
}

// FixFile backs up path to a timestamped sibling containing a UTC
// timestamp, runs Fix over the decoded document, and rewrites path only if
// at least one rule applied.
func (f *Fixer) FixFile(path string, kind component.Kind) (Applied, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Applied{}, fmt.Errorf("autofix: read %s: %w", path, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Applied{}, fmt.Errorf("autofix: parse %s: %w", path, err)
	}

	applied := f.Fix(kind, doc)
	if len(applied.Rules) == 0 {
		return applied, nil
	}

	backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return Applied{}, fmt.Errorf("autofix: write backup %s: %w", backupPath, err)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Applied{}, fmt.Errorf("autofix: marshal fixed document: %w", err)
	}
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return Applied{}, fmt.Errorf("autofix: write %s: %w", path, err)
	}

	return applied, nil
}

// migrateParameterList rewrites a legacy `parameters: [...]` array (every
// element an inline Parameter, no required/optional split) into the
// canonical `{required:[...], optional:[...]}` shape, sorting by each
// entry's own top-level `required` flag. A `constraints.required` flag is
// honored as a fallback for documents that only carried the nested form,
// and absent either, a bare "has no default" heuristic decides. The
// top-level `required` key is dropped from the emitted parameter object
// once it has been classified, matching the canonical shape which carries
// required/optional only as list membership.
func migrateParameterList(doc map[string]interface{}) bool {
	list, ok := doc["parameters"].([]interface{})
	if !ok {
		return false
	}

	required := make([]interface{}, 0, len(list))
	optional := make([]interface{}, 0, len(list))
	for _, item := range list {
		p, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		var isRequired bool
		if r, ok := p["required"].(bool); ok {
			isRequired = r
			delete(p, "required")
		} else if c, ok := p["constraints"].(map[string]interface{}); ok {
			if r, ok := c["required"].(bool); ok {
				isRequired = r
			} else if _, hasDefault := p["default"]; !hasDefault {
				isRequired = true
			}
		} else if _, hasDefault := p["default"]; !hasDefault {
			isRequired = true
		}
		if isRequired {
			required = append(required, p)
		} else {
			optional = append(optional, p)
		}
	}

	doc["parameters"] = map[string]interface{}{
		"required": required,
		"optional": optional,
	}
	return true
}

// normalizeParameterNames lower-snake-cases every parameter name under the
// canonical required/optional buckets.
func normalizeParameterNames(doc map[string]interface{}) bool {
	params, ok := doc["parameters"].(map[string]interface{})
	if !ok {
		return false
	}
	changed := false
	for _, bucket := range []string{"required", "optional"} {
		list, ok := params[bucket].([]interface{})
		if !ok {
			continue
		}
		for _, item := range list {
			p, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := p["name"].(string)
			if name == "" {
				continue
			}
			fixed := toSnakeCase(name)
			if fixed != name {
				p["name"] = fixed
				changed = true
			}
		}
	}
	return changed
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' && i > 0 {
			p := s[i-1]
			if (p >= 'a' && p <= 'z') || (p >= '0' && p <= '9') {
				b.WriteByte('_')
			}
		}
		b.WriteByte(c)
	}
	s = strings.ToLower(b.String())
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = nonSnake.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return s
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "p_" + s
	}
	return s
}

// defaultExecutionStrategy inserts "sequential" when execution.strategy is
// absent, matching Runtime's own fallback for an unset strategy.
func defaultExecutionStrategy(doc map[string]interface{}) bool {
	exec, ok := doc["execution"].(map[string]interface{})
	if !ok {
		return false
	}
	if strategy, ok := exec["strategy"].(string); ok && strategy != "" {
		return false
	}
	exec["strategy"] = string(component.StrategySequential)
	return true
}

// legacyFields lists top-level keys the original dev_sentinel tool format
// carried that the Force Engine schema no longer admits.
var legacyFields = []string{"legacy_id", "internal_notes", "deprecated_params", "script_path"}

// stripUnknownLegacyFields removes top-level fields known to be carried over
// from the pre-migration tool format.
func stripUnknownLegacyFields(doc map[string]interface{}) bool {
	changed := false
	for _, f := range legacyFields {
		if _, ok := doc[f]; ok {
			delete(doc, f)
			changed = true
		}
	}
	return changed
}

// stubMetadata fills in a minimal metadata block when one is missing
// entirely, or backfills created/updated/version when present but partial.
// Stubbed timestamps use the current UTC instant so audit trails show when
// the stub was introduced, not a fabricated history.
func stubMetadata(doc map[string]interface{}) bool {
	now := time.Now().UTC().Format(time.RFC3339)
	meta, ok := doc["metadata"].(map[string]interface{})
	if !ok {
		doc["metadata"] = map[string]interface{}{
			"created": now,
			"updated": now,
			"version": "0.1.0",
		}
		return true
	}

	changed := false
	if _, ok := meta["created"].(string); !ok {
		meta["created"] = now
		changed = true
	}
	if _, ok := meta["updated"].(string); !ok {
		meta["updated"] = now
		changed = true
	}
	if v, ok := meta["version"].(string); !ok || v == "" {
		meta["version"] = "0.1.0"
		changed = true
	}
	return changed
}

// BackupPath returns the sibling backup path FixFile would write for path at
// instant t, exposed for tests that need to assert a backup's existence
// without racing the fixer's own clock.
func BackupPath(path string, t time.Time) string {
	return fmt.Sprintf("%s.%s.bak", path, t.UTC().Format("20060102T150405Z"))
}

// ResolveBackupGlob returns the glob pattern matching any backup FixFile may
// have written for path, for cleanup in tests and the forcectl CLI.
func ResolveBackupGlob(path string) string {
	return filepath.Join(filepath.Dir(path), filepath.Base(path)+".*.bak")
}
