package mcpserver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/loader"
)

// fixAllFiles runs the Auto-Fixer over every standalone component file the
// Loader discovers. Aggregate files are skipped: the Auto-Fixer's contract
// operates on one component per file, so an aggregate must first go through
// force_sync(direction=split) before it can be fixed in place.
func (e *Engine) fixAllFiles(dryRun bool) ([]string, error) {
	ld := loader.New(e.cfg.Root)
	entries, err := ld.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("mcpserver: enumerate for fix: %w", err)
	}

	seen := map[string]bool{}
	var fixed []string
	for _, entry := range entries {
		if entry.Index != -1 || seen[entry.Path] {
			continue // aggregate member or already visited this path
		}
		seen[entry.Path] = true

		kind := component.Classify(entry.Raw)
		if kind == component.KindUnknown {
			kind = entry.KindHint
		}

		if dryRun {
			probe := e.fixer.Fix(kind, cloneDoc(entry.Raw))
			if len(probe.Rules) > 0 {
				fixed = append(fixed, entry.Path)
			}
			continue
		}

		applied, err := e.fixer.FixFile(entry.Path, kind)
		if err != nil {
			e.logger.Warn("fix failed", map[string]interface{}{"path": entry.Path, "error": err.Error()})
			continue
		}
		if len(applied.Rules) > 0 {
			fixed = append(fixed, entry.Path)
		}
	}
	return fixed, nil
}

func cloneDoc(doc map[string]interface{}) map[string]interface{} {
	data, _ := json.Marshal(doc)
	var out map[string]interface{}
	_ = json.Unmarshal(data, &out)
	return out
}

// syncFiles rewrites the on-disk component tree between the aggregate and
// single-component file shapes. "split" takes every aggregate file apart
// into one file per component, named
// "<subtree>/<id>.json"; "merge" collapses every standalone file in a
// subtree back into one "<subtree>/<plural-key>.json" aggregate.
func (e *Engine) syncFiles(direction string) (int, error) {
	switch direction {
	case "split":
		return e.splitAggregates()
	case "merge":
		return e.mergeToAggregate()
	default:
		return 0, fmt.Errorf("mcpserver: unknown sync direction %q", direction)
	}
}

func (e *Engine) splitAggregates() (int, error) {
	ld := loader.New(e.cfg.Root)
	entries, err := ld.Enumerate()
	if err != nil {
		return 0, fmt.Errorf("mcpserver: enumerate for split: %w", err)
	}

	aggregatePaths := map[string]bool{}
	changed := 0

	for _, entry := range entries {
		if entry.Index == -1 {
			continue // already a standalone file
		}
		aggregatePaths[entry.Path] = true

		id, _ := entry.Raw["id"].(string)
		if id == "" {
			id = fmt.Sprintf("unnamed_%d", entry.Index)
		}

		dir := filepath.Dir(entry.Path)
		target := filepath.Join(dir, id+".json")
		data, err := json.MarshalIndent(entry.Raw, "", "  ")
		if err != nil {
			return changed, fmt.Errorf("mcpserver: marshal %s: %w", id, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return changed, fmt.Errorf("mcpserver: write %s: %w", target, err)
		}
		changed++
	}

	for path := range aggregatePaths {
		if err := os.Remove(path); err != nil {
			e.logger.Warn("failed to remove split aggregate", map[string]interface{}{"path": path, "error": err.Error()})
		}
	}

	return changed, nil
}

func (e *Engine) mergeToAggregate() (int, error) {
	ld := loader.New(e.cfg.Root)
	entries, err := ld.Enumerate()
	if err != nil {
		return 0, fmt.Errorf("mcpserver: enumerate for merge: %w", err)
	}

	byDir := map[string][]loader.FileEntry{}
	standalonePaths := map[string][]string{}
	for _, entry := range entries {
		dir := filepath.Dir(entry.Path)
		byDir[dir] = append(byDir[dir], entry)
		if entry.Index == -1 {
			standalonePaths[dir] = append(standalonePaths[dir], entry.Path)
		}
	}

	changed := 0
	for dir, group := range byDir {
		if len(standalonePaths[dir]) < 2 {
			continue // nothing to gain by merging a single file
		}

		kind := component.Classify(group[0].Raw)
		if kind == component.KindUnknown {
			kind = group[0].KindHint
		}
		key := component.AggregateKey(kind)
		if key == "" {
			continue
		}

		docs := make([]map[string]interface{}, 0, len(group))
		for _, e := range group {
			docs = append(docs, e.Raw)
		}

		agg := map[string]interface{}{key: docs}
		data, err := json.MarshalIndent(agg, "", "  ")
		if err != nil {
			return changed, fmt.Errorf("mcpserver: marshal aggregate for %s: %w", dir, err)
		}
		target := filepath.Join(dir, key+".json")
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return changed, fmt.Errorf("mcpserver: write %s: %w", target, err)
		}

		for _, path := range standalonePaths[dir] {
			if path == target {
				continue
			}
			if err := os.Remove(path); err != nil {
				e.logger.Warn("failed to remove merged file", map[string]interface{}{"path": path, "error": err.Error()})
			}
		}
		changed++
	}

	return changed, nil
}
