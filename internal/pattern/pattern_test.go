package pattern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/runtime"
)

func lookupFor(tools map[string]component.Tool) ToolLookup {
	return func(id string) (component.Tool, bool) {
		t, ok := tools[id]
		return t, ok
	}
}

func runnerReturning(outcome runtime.Outcome) ToolRunner {
	return func(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *runtime.Context) runtime.Result {
		return runtime.Result{ToolID: tool.ID, Outcome: outcome}
	}
}

func TestApplyRunsExecutableStepsInOrder(t *testing.T) {
	var ranIDs []string
	runner := func(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *runtime.Context) runtime.Result {
		ranIDs = append(ranIDs, tool.ID)
		return runtime.Result{ToolID: tool.ID, Outcome: runtime.OutcomeSuccess}
	}
	tools := map[string]component.Tool{"t1": {ID: "t1"}, "t2": {ID: "t2"}}
	p := component.Pattern{
		ID: "p1",
		Implementation: component.PatternImplementation{
			ExecutableSteps: []component.ExecutableStep{{Name: "s1", ToolID: "t1"}, {Name: "s2", ToolID: "t2"}},
		},
	}

	e := New(lookupFor(tools), runner)
	res := e.Apply(context.Background(), p, nil, nil)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []string{"t1", "t2"}, ranIDs)
}

func TestApplyTreatsMissingToolIDAsDescriptive(t *testing.T) {
	p := component.Pattern{
		ID: "p1",
		Implementation: component.PatternImplementation{
			ExecutableSteps: []component.ExecutableStep{{Name: "manual review"}},
		},
	}
	e := New(lookupFor(nil), runnerReturning(runtime.OutcomeSuccess))
	res := e.Apply(context.Background(), p, nil, nil)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].Descriptive)
}

func TestApplyFailsWhenToolNotFound(t *testing.T) {
	p := component.Pattern{
		ID: "p1",
		Implementation: component.PatternImplementation{
			ExecutableSteps: []component.ExecutableStep{{Name: "s1", ToolID: "missing"}},
		},
	}
	e := New(lookupFor(nil), runnerReturning(runtime.OutcomeSuccess))
	res := e.Apply(context.Background(), p, nil, nil)

	assert.Equal(t, OutcomeFailure, res.Outcome)
}

func TestApplyShortCircuitsOnNonOptionalFailure(t *testing.T) {
	var ranIDs []string
	runner := func(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *runtime.Context) runtime.Result {
		ranIDs = append(ranIDs, tool.ID)
		if tool.ID == "t1" {
			return runtime.Result{ToolID: tool.ID, Outcome: runtime.OutcomeFailure}
		}
		return runtime.Result{ToolID: tool.ID, Outcome: runtime.OutcomeSuccess}
	}
	tools := map[string]component.Tool{"t1": {ID: "t1"}, "t2": {ID: "t2"}}
	p := component.Pattern{
		ID: "p1",
		Implementation: component.PatternImplementation{
			ExecutableSteps: []component.ExecutableStep{{Name: "s1", ToolID: "t1"}, {Name: "s2", ToolID: "t2"}},
		},
	}

	e := New(lookupFor(tools), runner)
	res := e.Apply(context.Background(), p, nil, nil)

	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, []string{"t1"}, ranIDs, "a non-optional step's failure should stop the remaining steps")
}

func TestApplyContinuesPastOptionalFailure(t *testing.T) {
	var ranIDs []string
	runner := func(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *runtime.Context) runtime.Result {
		ranIDs = append(ranIDs, tool.ID)
		if tool.ID == "t1" {
			return runtime.Result{ToolID: tool.ID, Outcome: runtime.OutcomeFailure}
		}
		return runtime.Result{ToolID: tool.ID, Outcome: runtime.OutcomeSuccess}
	}
	tools := map[string]component.Tool{"t1": {ID: "t1"}, "t2": {ID: "t2"}}
	p := component.Pattern{
		ID: "p1",
		Implementation: component.PatternImplementation{
			ExecutableSteps: []component.ExecutableStep{
				{Name: "s1", ToolID: "t1", Optional: true},
				{Name: "s2", ToolID: "t2"},
			},
		},
	}

	e := New(lookupFor(tools), runner)
	res := e.Apply(context.Background(), p, nil, nil)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, []string{"t1", "t2"}, ranIDs)
}

func TestApplyContinuePolicyOverridesShortCircuit(t *testing.T) {
	var ranIDs []string
	runner := func(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *runtime.Context) runtime.Result {
		ranIDs = append(ranIDs, tool.ID)
		if tool.ID == "t1" {
			return runtime.Result{ToolID: tool.ID, Outcome: runtime.OutcomeFailure}
		}
		return runtime.Result{ToolID: tool.ID, Outcome: runtime.OutcomeSuccess}
	}
	tools := map[string]component.Tool{"t1": {ID: "t1"}, "t2": {ID: "t2"}}
	p := component.Pattern{
		ID: "p1",
		Implementation: component.PatternImplementation{
			ExecutableSteps: []component.ExecutableStep{{Name: "s1", ToolID: "t1"}, {Name: "s2", ToolID: "t2"}},
		},
	}

	e := New(lookupFor(tools), runner, WithContinuePolicy(func(patternID string, step component.ExecutableStep, err error) bool {
		return true
	}))
	res := e.Apply(context.Background(), p, nil, nil)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, []string{"t1", "t2"}, ranIDs, "a continue policy returning true should let later steps run")
}

func TestApplyAppendsDescriptiveStepsAsWarnings(t *testing.T) {
	p := component.Pattern{
		ID: "p1",
		Implementation: component.PatternImplementation{
			Steps: []string{"review the diff manually"},
		},
	}
	e := New(lookupFor(nil), runnerReturning(runtime.OutcomeSuccess))
	res := e.Apply(context.Background(), p, nil, nil)

	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].Descriptive)
	assert.Equal(t, "review the diff manually", res.Steps[0].Name)
	assert.NotEmpty(t, res.Steps[0].Warning)
}

func TestApplyAllSuccessIsSuccessOutcome(t *testing.T) {
	tools := map[string]component.Tool{"t1": {ID: "t1"}}
	p := component.Pattern{
		ID: "p1",
		Implementation: component.PatternImplementation{
			ExecutableSteps: []component.ExecutableStep{{Name: "s1", ToolID: "t1"}},
		},
	}
	e := New(lookupFor(tools), runnerReturning(runtime.OutcomeSuccess))
	res := e.Apply(context.Background(), p, nil, nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}
