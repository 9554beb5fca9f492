// Package pattern implements the Pattern Engine: applying a Pattern's
// ordered steps, executing the executable ones through the Runtime and
// treating the rest as descriptive guidance the caller is informed of but
// the engine does not enforce.
package pattern

import (
	"context"
	"time"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/ferrors"
	"github.com/force-engine/force/internal/logging"
	"github.com/force-engine/force/internal/runtime"
)

// Outcome is a PatternResult's terminal classification.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// StepResult records one step's handling within a pattern application.
type StepResult struct {
	Name        string          `json:"name"`
	ToolID      string          `json:"tool_id,omitempty"`
	Descriptive bool            `json:"descriptive,omitempty"`
	Optional    bool            `json:"optional,omitempty"`
	Skipped     bool            `json:"skipped,omitempty"`
	Warning     string          `json:"warning,omitempty"`
	ToolResult  *runtime.Result `json:"tool_result,omitempty"`
}

// PatternResult is the Pattern Engine's full report of one apply call.
type PatternResult struct {
	PatternID  string       `json:"pattern_id"`
	Outcome    Outcome      `json:"outcome"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
}

// ToolLookup resolves a pattern step's toolId to its Tool definition.
type ToolLookup func(id string) (component.Tool, bool)

// ToolRunner executes one bound Tool, matching runtime.Runtime's signature.
type ToolRunner func(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *runtime.Context) runtime.Result

// ContinuePolicy decides, for a given pattern and failed step, whether the
// remaining steps should still run. Absent a registration the Engine
// short-circuits on any non-optional step failure, per the default Pattern
// Engine contract.
type ContinuePolicy func(patternID string, step component.ExecutableStep, err error) bool

// Engine applies Patterns.
type Engine struct {
	lookup  ToolLookup
	run     ToolRunner
	policy  ContinuePolicy
	logger  logging.Logger
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithContinuePolicy overrides the default short-circuit-on-failure rule.
func WithContinuePolicy(p ContinuePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the Engine's logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an Engine. lookup resolves a step's toolId; run executes the
// resolved Tool (typically runtime.Runtime.Execute).
func New(lookup ToolLookup, run ToolRunner, opts ...Option) *Engine {
	e := &Engine{lookup: lookup, run: run, logger: logging.NoOpLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply executes pattern's steps in order. Executable steps (those with a
// non-empty ToolID) run through the Engine's ToolRunner; all other steps are
// descriptive and only produce a warning, never a failure. A non-optional
// executable step's failure stops the run unless the Engine's ContinuePolicy
// says otherwise.
func (e *Engine) Apply(ctx context.Context, p component.Pattern, params map[string]interface{}, execCtx *runtime.Context) PatternResult {
	started := time.Now()
	res := PatternResult{PatternID: p.ID, StartedAt: started}

	anyFailure := false
	anySuccess := false

	for _, step := range p.Implementation.ExecutableSteps {
		sr := e.applyStep(ctx, p.ID, step, params, execCtx)
		res.Steps = append(res.Steps, sr)

		failed := sr.ToolResult != nil && sr.ToolResult.Outcome == runtime.OutcomeFailure
		if failed {
			anyFailure = true
			if !step.Optional {
				cont := false
				if e.policy != nil {
					cont = e.policy(p.ID, step, ferrors.Withf("pattern.Apply", "pattern", p.ID, ferrors.ErrActionFailed,
						"step %q failed", step.Name))
				}
				if !cont {
					res.Outcome = outcomeFor(anySuccess, true)
					res.Error = "step " + step.Name + " failed"
					res.DurationMs = time.Since(started).Milliseconds()
					return res
				}
			}
		} else if sr.ToolResult != nil {
			anySuccess = true
		}
	}

	for _, descriptive := range p.Implementation.Steps {
		res.Steps = append(res.Steps, StepResult{
			Name: descriptive, Descriptive: true,
			Warning: "descriptive step, not executed by the engine",
		})
	}

	res.Outcome = outcomeFor(anySuccess, anyFailure)
	res.DurationMs = time.Since(started).Milliseconds()
	return res
}

func (e *Engine) applyStep(ctx context.Context, patternID string, step component.ExecutableStep, params map[string]interface{}, execCtx *runtime.Context) StepResult {
	if step.ToolID == "" {
		return StepResult{Name: step.Name, Descriptive: true, Optional: step.Optional,
			Warning: "step has no toolId, treated as descriptive"}
	}

	tool, ok := e.lookup(step.ToolID)
	if !ok {
		return StepResult{
			Name: step.Name, ToolID: step.ToolID, Optional: step.Optional,
			ToolResult: &runtime.Result{ToolID: step.ToolID, Outcome: runtime.OutcomeFailure,
				Error: "tool not found: " + step.ToolID},
		}
	}

	merged := mergeParams(params, step.Parameters)
	result := e.run(ctx, tool, merged, execCtx)
	return StepResult{Name: step.Name, ToolID: step.ToolID, Optional: step.Optional, ToolResult: &result}
}

func mergeParams(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func outcomeFor(anySuccess, anyFailure bool) Outcome {
	switch {
	case anyFailure && anySuccess:
		return OutcomePartial
	case anyFailure:
		return OutcomeFailure
	default:
		return OutcomeSuccess
	}
}
