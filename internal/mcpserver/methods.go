package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/constraint"
	"github.com/force-engine/force/internal/governance"
	"github.com/force-engine/force/internal/learning"
	"github.com/force-engine/force/internal/runtime"
	"github.com/force-engine/force/internal/validator"
)

// forceListTools implements force_list_tools(filter?).
func (e *Engine) forceListTools(params json.RawMessage) (interface{}, error) {
	var req struct {
		Category string `json:"category,omitempty"`
	}
	_ = json.Unmarshal(params, &req)

	snap := e.reg.Snapshot()
	out := make([]component.Tool, 0, len(snap.Tools))
	for _, t := range snap.Tools {
		if req.Category != "" && t.Category != req.Category {
			continue
		}
		out = append(out, t)
	}
	return map[string]interface{}{"outcome": "success", "tools": out}, nil
}

// forceListPatterns implements force_list_patterns(filter?).
func (e *Engine) forceListPatterns(params json.RawMessage) (interface{}, error) {
	var req struct {
		Category string `json:"category,omitempty"`
	}
	_ = json.Unmarshal(params, &req)

	snap := e.reg.Snapshot()
	out := make([]component.Pattern, 0, len(snap.Patterns))
	for _, p := range snap.Patterns {
		if req.Category != "" && p.Category != req.Category {
			continue
		}
		out = append(out, p)
	}
	return map[string]interface{}{"outcome": "success", "patterns": out}, nil
}

// forceExecuteTool implements force_execute_tool({toolId, parameters,
// context?, dryRun?}). In dryRun mode, every action resolves to a no-op
// returning the command's declared description, per the Surface contract.
func (e *Engine) forceExecuteTool(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		ToolID     string                 `json:"toolId"`
		Parameters map[string]interface{} `json:"parameters"`
		Context    map[string]interface{} `json:"context,omitempty"`
		DryRun     bool                   `json:"dryRun,omitempty"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errorResult("InvalidParams", err.Error(), nil), nil
	}

	tool, ok := e.reg.Snapshot().Tools[req.ToolID]
	if !ok {
		return errorResult("NotFound", fmt.Sprintf("tool %q not found", req.ToolID), nil), nil
	}

	decision := e.gate.Evaluate(ctx, governance.Event{
		Phase: governance.PhaseExecution, ComponentID: tool.ID, Kind: component.KindTool,
		Payload: req.Parameters,
	})
	if !decision.Allowed {
		return errorResult("PolicyDenied", "governance gate denied execution", decision.Findings), nil
	}

	execCtx := &runtime.Context{Values: req.Context, DryRun: req.DryRun}

	// The Runtime itself emits one Learning record for this call via the
	// recorder wired in at construction; no second entry is appended here.
	result := e.rt.Execute(ctx, tool, req.Parameters, execCtx)
	return map[string]interface{}{"outcome": string(result.Outcome), "result": result}, nil
}

// forceApplyPattern implements force_apply_pattern({patternId, context?,
// parameterOverrides?}).
func (e *Engine) forceApplyPattern(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		PatternID          string                 `json:"patternId"`
		Context            map[string]interface{} `json:"context,omitempty"`
		ParameterOverrides map[string]interface{} `json:"parameterOverrides,omitempty"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errorResult("InvalidParams", err.Error(), nil), nil
	}

	p, ok := e.reg.Snapshot().Patterns[req.PatternID]
	if !ok {
		return errorResult("NotFound", fmt.Sprintf("pattern %q not found", req.PatternID), nil), nil
	}

	execCtx := &runtime.Context{Values: req.Context}
	result := e.patterns.Apply(ctx, p, req.ParameterOverrides, execCtx)

	started := result.StartedAt.UTC()
	entry := learning.Entry{
		ID:          "exec_" + uuid.NewString(),
		Kind:        "pattern",
		RefID:       p.ID,
		StartedAt:   started,
		CompletedAt: started.Add(time.Duration(result.DurationMs) * time.Millisecond),
		DurationMs:  result.DurationMs,
		Outcome:     string(result.Outcome),
	}
	if result.Error != "" {
		entry.Error = &learning.EntryError{Message: result.Error}
	}
	e.recorder.Append(entry)

	return map[string]interface{}{"outcome": string(result.Outcome), "result": result}, nil
}

// forceCheckConstraints implements force_check_constraints({scope}).
func (e *Engine) forceCheckConstraints(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Scope constraint.Scope `json:"scope"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errorResult("InvalidParams", err.Error(), nil), nil
	}

	violations := e.constraints.Check(ctx, req.Scope)
	return map[string]interface{}{"outcome": "success", "violations": violations}, nil
}

// forceGetInsights implements force_get_insights({filters?}), surfacing the
// Learning Recorder's aggregate and recent-entry views.
func (e *Engine) forceGetInsights(params json.RawMessage) (interface{}, error) {
	var req struct {
		ComponentID string `json:"componentId,omitempty"`
		Limit       int    `json:"limit,omitempty"`
	}
	_ = json.Unmarshal(params, &req)

	entries := e.recorder.Query(req.ComponentID, req.Limit)
	var agg interface{}
	if req.ComponentID != "" {
		if m, ok := e.recorder.Aggregate(req.ComponentID); ok {
			agg = m
		}
	}
	return map[string]interface{}{"outcome": "success", "entries": entries, "aggregate": agg}, nil
}

// forceValidateComponents implements force_validate_components(): a full
// reload whose quarantine list is the report.
func (e *Engine) forceValidateComponents(ctx context.Context) (interface{}, error) {
	snap, err := e.Reload(ctx)
	if err != nil {
		return errorResult("Internal", err.Error(), nil), nil
	}

	report := make([]map[string]interface{}, 0, len(snap.Quarantined))
	for _, q := range snap.Quarantined {
		errsJSON, _ := validator.MarshalErrors(q.Errors)
		var errs interface{}
		_ = json.Unmarshal(errsJSON, &errs)
		report = append(report, map[string]interface{}{
			"id": q.ID, "kind": q.Kind, "critical": q.Critical, "errors": errs,
		})
	}

	return map[string]interface{}{
		"outcome": "success",
		"valid_counts": map[string]int{
			"tools": len(snap.Tools), "patterns": len(snap.Patterns),
			"constraints": len(snap.Constraints), "governance": len(snap.Governance),
			"variants": len(snap.Variants), "learnings": len(snap.Learnings),
		},
		"quarantined": report,
	}, nil
}

// forceFixComponents implements force_fix_components({dryRun?}): runs the
// Auto-Fixer over every file the Loader enumerates, then reloads.
func (e *Engine) forceFixComponents(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		DryRun bool `json:"dryRun,omitempty"`
	}
	_ = json.Unmarshal(params, &req)

	fixed, err := e.fixAllFiles(req.DryRun)
	if err != nil {
		return errorResult("Internal", err.Error(), nil), nil
	}

	var snap interface{}
	if !req.DryRun {
		s, err := e.Reload(ctx)
		if err != nil {
			return errorResult("Internal", err.Error(), nil), nil
		}
		snap = map[string]int{"quarantined_after": len(s.Quarantined)}
	}

	return map[string]interface{}{"outcome": "success", "fixed": fixed, "after_reload": snap}, nil
}

// forceSync implements force_sync({direction?}): split breaks aggregate
// files into single-component files; merge collapses single-component files
// back into per-kind aggregates. Either direction re-reloads the Registry
// atomically afterward.
func (e *Engine) forceSync(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Direction string `json:"direction,omitempty"` // "split" | "merge"
	}
	_ = json.Unmarshal(params, &req)
	if req.Direction == "" {
		req.Direction = "split"
	}

	changed, err := e.syncFiles(req.Direction)
	if err != nil {
		return errorResult("Internal", err.Error(), nil), nil
	}

	if _, err := e.Reload(ctx); err != nil {
		return errorResult("Internal", err.Error(), nil), nil
	}

	return map[string]interface{}{"outcome": "success", "direction": req.Direction, "files_changed": changed}, nil
}

// forceReload implements the (undocumented-by-name but required-by-state-
// machine) "reload" operation the startup gate's "from Ready, a successful
// reload re-enters Validating atomically" sentence describes.
func (e *Engine) forceReload(ctx context.Context) (interface{}, error) {
	snap, err := e.Reload(ctx)
	if err != nil {
		return errorResult("Internal", err.Error(), nil), nil
	}
	return map[string]interface{}{"outcome": "success", "quarantined": len(snap.Quarantined)}, nil
}

