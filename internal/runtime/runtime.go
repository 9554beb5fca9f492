// Package runtime binds caller parameters against a Tool's declared
// parameters and executes its command sequence under the declared strategy,
// honoring pre/post conditions and per-command error handling. It is the
// Force Engine's adaptation of gomind's tool-invocation path (core/tool.go)
// generalized from "call one HTTP endpoint" to "run a declarative command
// sequence through the Action Table."
package runtime

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/force-engine/force/internal/actiontable"
	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/ferrors"
	"github.com/force-engine/force/internal/logging"
	"github.com/force-engine/force/internal/resilience"
)

// Outcome is a Result's terminal classification.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeDegraded Outcome = "degraded"
)

// CommandResult records one command's execution within a Tool run.
type CommandResult struct {
	Action     string      `json:"action"`
	Outcome    Outcome     `json:"outcome"`
	Value      interface{} `json:"value,omitempty"`
	Error      string      `json:"error,omitempty"`
	Skipped    bool        `json:"skipped,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// Result is the Runtime's full report of one Tool execution.
type Result struct {
	ToolID         string          `json:"tool_id"`
	Outcome        Outcome         `json:"outcome"`
	CommandResults []CommandResult `json:"command_results"`
	StartedAt      time.Time       `json:"started_at"`
	DurationMs     int64           `json:"duration_ms"`
	Error          string          `json:"error,omitempty"`
	Degraded       bool            `json:"degraded,omitempty"`
}

// ConditionEvaluator resolves a named pre/post-condition or conditional
// command predicate against the caller's Context. The Force Engine core
// treats predicate bodies as opaque, host-registered checks, matching how
// the Action Table treats action bodies.
type ConditionEvaluator func(ctx context.Context, name string, execCtx *Context) (bool, error)

// Scheduler lets a host take over the dynamic/adaptive strategies. Absent a
// registration, the Runtime logs at Info on every such execution and falls
// back to sequential.
type Scheduler func(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *Context) (Result, error)

// Context is the caller-supplied execution context: free-form data the
// Action Table and ConditionEvaluator can read, plus the continuation flags
// the iterative strategy consults.
type Context struct {
	Values   map[string]interface{}
	DryRun   bool
	Continue func() bool // iterative strategy's continue-predicate, if any
}

const defaultIterationCap = 1000

// Runtime executes Tools end to end.
type Runtime struct {
	actions    *actiontable.Table
	conditions ConditionEvaluator
	breakers   *resilience.Manager
	scheduler  Scheduler
	logger     logging.Logger
	recorder   Recorder
}

// Recorder is the narrow interface the Runtime uses to emit one Learning
// Recorder entry per execution, regardless of outcome.
type Recorder interface {
	RecordExecution(entry component.LearningRecord, toolOrPatternID string, params map[string]interface{}, outcome string, startedAt time.Time, durationMs int64, execErr error)
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithConditions registers the predicate evaluator for pre/post conditions
// and conditional-step gates.
func WithConditions(ce ConditionEvaluator) Option {
	return func(r *Runtime) { r.conditions = ce }
}

// WithScheduler registers the dynamic/adaptive strategy callback.
func WithScheduler(s Scheduler) Option {
	return func(r *Runtime) { r.scheduler = s }
}

// WithLogger sets the Runtime's logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithRecorder wires the Learning Recorder sink.
func WithRecorder(rec Recorder) Option {
	return func(r *Runtime) { r.recorder = rec }
}

// New builds a Runtime against the given Action Table.
func New(actions *actiontable.Table, opts ...Option) *Runtime {
	r := &Runtime{
		actions:  actions,
		breakers: resilience.NewManager(logging.NoOpLogger{}),
		logger:   logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute binds params against tool's declared parameters, runs its command
// sequence under its declared strategy, and always emits exactly one
// Learning Recorder entry before returning.
func (r *Runtime) Execute(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *Context) Result {
	started := time.Now()
	if execCtx == nil {
		execCtx = &Context{Values: map[string]interface{}{}}
	}

	res := Result{ToolID: tool.ID, StartedAt: started}

	bound, err := bindParameters(tool.Parameters, params)
	if err != nil {
		res.Outcome = OutcomeFailure
		res.Error = err.Error()
		r.finish(&res, started, tool.ID, params, err)
		return res
	}

	if ok, err := r.checkPredicates(ctx, tool.Execution.Validation.PreConditions, execCtx); err != nil || !ok {
		if err == nil {
			err = ferrors.Withf("runtime.Execute", "tool", tool.ID, ferrors.ErrPrecondition, "pre-condition not met")
		}
		res.Outcome = OutcomeFailure
		res.Error = err.Error()
		r.finish(&res, started, tool.ID, params, err)
		return res
	}

	results, execErr, degraded := r.runStrategy(ctx, tool, bound, execCtx)
	res.CommandResults = results

	if execErr == nil {
		if ok, perr := r.checkPredicates(ctx, tool.Execution.Validation.PostConditions, execCtx); perr != nil || !ok {
			execErr = perr
			if execErr == nil {
				execErr = ferrors.Withf("runtime.Execute", "tool", tool.ID, ferrors.ErrPostcondition, "post-condition not met")
			}
		}
	}

	switch {
	case execErr != nil:
		res.Outcome = OutcomeFailure
		res.Error = execErr.Error()
	case degraded:
		res.Outcome = OutcomeDegraded
		res.Degraded = true
	default:
		res.Outcome = OutcomeSuccess
	}

	r.finish(&res, started, tool.ID, params, execErr)
	return res
}

func (r *Runtime) finish(res *Result, started time.Time, toolID string, params map[string]interface{}, execErr error) {
	res.DurationMs = time.Since(started).Milliseconds()
	if r.recorder != nil {
		r.recorder.RecordExecution(component.LearningRecord{}, toolID, params, string(res.Outcome), started, res.DurationMs, execErr)
	}
}

func (r *Runtime) checkPredicates(ctx context.Context, names []string, execCtx *Context) (bool, error) {
	if r.conditions == nil {
		return true, nil
	}
	for _, name := range names {
		ok, err := r.conditions(ctx, name, execCtx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// runStrategy dispatches to the declared execution.strategy, returning the
// per-command results, a terminal error (nil on success), and whether the
// run ended in a degraded state via graceful_degradation.
func (r *Runtime) runStrategy(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *Context) ([]CommandResult, error, bool) {
	switch tool.Execution.Strategy {
	case component.StrategySequential, "":
		return r.runSequential(ctx, tool, params, execCtx)
	case component.StrategyParallel:
		return r.runParallel(ctx, tool, params, execCtx)
	case component.StrategyConditional:
		return r.runConditional(ctx, tool, params, execCtx)
	case component.StrategyIterative:
		return r.runIterative(ctx, tool, params, execCtx)
	case component.StrategyDynamic, component.StrategyAdaptive:
		if r.scheduler != nil {
			res, err := r.scheduler(ctx, tool, params, execCtx)
			return res.CommandResults, err, res.Degraded
		}
		r.logger.Info("no scheduler registered, falling back to sequential", map[string]interface{}{
			"tool_id": tool.ID, "strategy": string(tool.Execution.Strategy),
		})
		return r.runSequential(ctx, tool, params, execCtx)
	default:
		return r.runSequential(ctx, tool, params, execCtx)
	}
}

func (r *Runtime) runSequential(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *Context) ([]CommandResult, error, bool) {
	var results []CommandResult
	degraded := false
	for _, cmd := range tool.Execution.Commands {
		cr, err, commandDegraded := r.runCommand(ctx, tool, cmd, params, execCtx)
		results = append(results, cr)
		if commandDegraded {
			degraded = true
		}
		if err != nil {
			action := handleFailure(tool.Execution.Validation.ErrorHandling, cmd, err)
			switch action.strategy {
			case component.ErrorStrategyAbort, component.ErrorStrategyEscalate, component.ErrorStrategyManualIntervention:
				return results, err, degraded
			case component.ErrorStrategySkip, component.ErrorStrategyContinue:
				continue
			case component.ErrorStrategyGracefulDegradation:
				degraded = true
				continue
			default:
				return results, err, degraded
			}
		}
	}
	return results, nil, degraded
}

func (r *Runtime) runParallel(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *Context) ([]CommandResult, error, bool) {
	n := len(tool.Execution.Commands)
	results := make([]CommandResult, n)
	errs := make([]error, n)
	degradedFlags := make([]bool, n)

	done := make(chan int, n)
	for i, cmd := range tool.Execution.Commands {
		go func(i int, cmd component.Command) {
			cr, err, degraded := r.runCommand(ctx, tool, cmd, params, execCtx)
			results[i] = cr
			errs[i] = err
			degradedFlags[i] = degraded
			done <- i
		}(i, cmd)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	var firstErr error
	degraded := false
	for i := 0; i < n; i++ {
		if degradedFlags[i] {
			degraded = true
		}
		if errs[i] != nil {
			action := handleFailure(tool.Execution.Validation.ErrorHandling, tool.Execution.Commands[i], errs[i])
			switch action.strategy {
			case component.ErrorStrategyGracefulDegradation:
				degraded = true
			case component.ErrorStrategySkip, component.ErrorStrategyContinue:
				// recorded, but does not fail the batch
			default:
				if firstErr == nil {
					firstErr = errs[i]
				}
			}
		}
	}
	return results, firstErr, degraded
}

func (r *Runtime) runConditional(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *Context) ([]CommandResult, error, bool) {
	var results []CommandResult
	degraded := false
	for _, cmd := range tool.Execution.Commands {
		if cmd.Condition != "" {
			ok, err := r.checkPredicates(ctx, []string{cmd.Condition}, execCtx)
			if err != nil {
				return results, err, degraded
			}
			if !ok {
				results = append(results, CommandResult{Action: cmd.Action, Outcome: OutcomeSuccess, Skipped: true})
				continue
			}
		}
		cr, err, commandDegraded := r.runCommand(ctx, tool, cmd, params, execCtx)
		results = append(results, cr)
		if commandDegraded {
			degraded = true
		}
		if err != nil {
			action := handleFailure(tool.Execution.Validation.ErrorHandling, cmd, err)
			if action.strategy == component.ErrorStrategyAbort || action.strategy == component.ErrorStrategyEscalate {
				return results, err, degraded
			}
		}
	}
	return results, nil, degraded
}

func (r *Runtime) runIterative(ctx context.Context, tool component.Tool, params map[string]interface{}, execCtx *Context) ([]CommandResult, error, bool) {
	var results []CommandResult
	degraded := false
	cap := defaultIterationCap

	for iteration := 0; iteration < cap; iteration++ {
		if execCtx.Continue != nil && !execCtx.Continue() {
			break
		}
		for _, cmd := range tool.Execution.Commands {
			cr, err, commandDegraded := r.runCommand(ctx, tool, cmd, params, execCtx)
			results = append(results, cr)
			if commandDegraded {
				degraded = true
			}
			if err != nil {
				action := handleFailure(tool.Execution.Validation.ErrorHandling, cmd, err)
				if action.strategy == component.ErrorStrategyAbort || action.strategy == component.ErrorStrategyEscalate {
					return results, err, degraded
				}
			}
		}
		if execCtx.Continue == nil {
			break // no continue-predicate: run the sequence exactly once
		}
	}
	return results, nil, degraded
}

// runCommand resolves cmd.Action in the Action Table and runs it, applying
// timeout and the matching ErrorHandler's retry/circuit_breaker behavior.
func (r *Runtime) runCommand(ctx context.Context, tool component.Tool, cmd component.Command, params map[string]interface{}, execCtx *Context) (CommandResult, error, bool) {
	start := time.Now()

	if execCtx.DryRun {
		return CommandResult{
			Action:     cmd.Action,
			Outcome:    OutcomeSuccess,
			Value:      cmd.Description,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil, false
	}

	mergedParams := mergeParams(params, cmd.Parameters)
	handlers := tool.Execution.Validation.ErrorHandling

	breakerFor := func(h *component.ErrorHandler) *resilience.CircuitBreaker {
		return r.breakers.Get(tool.ID, h.ErrorType, h.MaxRetries)
	}

	// Gate first: a command routed through an already-open circuit breaker
	// must not run at all, regardless of which handler will eventually match
	// whatever error (if any) it produces.
	for i := range handlers {
		h := &handlers[i]
		if h.Strategy != component.ErrorStrategyCircuitBreaker {
			continue
		}
		if !breakerFor(h).Allow() {
			err := ferrors.Withf("runtime.runCommand", "tool", tool.ID, ferrors.ErrCircuitOpen,
				"circuit %q is open", tool.ID+"/"+h.ErrorType)
			return CommandResult{
				Action: cmd.Action, Outcome: OutcomeFailure, Error: err.Error(),
				DurationMs: time.Since(start).Milliseconds(),
			}, err, false
		}
	}

	invokeOnce := func(ctx context.Context) (interface{}, error) {
		if cmd.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(cmd.Timeout*float64(time.Second)))
			defer cancel()
		}
		return r.invoke(ctx, tool.ID, cmd, mergedParams)
	}

	value, err := invokeOnce(ctx)

	// Only now, having observed the actual error (if any), can the matching
	// ErrorHandler be determined. error_type "" classifies a success.
	errType := ""
	if err != nil {
		errType = classifyError(err)
	}
	matched := matchHandler(handlers, errType)

	if err != nil && matched != nil {
		switch matched.Strategy {
		case component.ErrorStrategyRetry, component.ErrorStrategyExponentialBackoff:
			cfg := resilience.DefaultRetryConfig()
			if matched.MaxRetries > 1 {
				cfg.MaxRetries = matched.MaxRetries - 1
			} else if matched.MaxRetries == 1 {
				cfg.MaxRetries = 0
			}
			if cfg.MaxRetries > 0 {
				err = resilience.Retry(ctx, cfg, func(ctx context.Context) error {
					v, e := invokeOnce(ctx)
					value = v
					return e
				})
			}
		case component.ErrorStrategyCircuitBreaker:
			breakerFor(matched).RecordResult(err)
		case component.ErrorStrategyFallback:
			if matched.Action != "" {
				fallbackCmd := cmd
				fallbackCmd.Action = matched.Action
				v, ferr := r.invoke(ctx, tool.ID, fallbackCmd, mergedParams)
				if ferr == nil {
					value = v
					err = nil
				}
			}
		}
	}

	if err == nil {
		// A clean outcome can't be mis-attributed to the wrong error_type, so
		// it folds into every circuit_breaker handler's breaker.
		for i := range handlers {
			h := &handlers[i]
			if h.Strategy == component.ErrorStrategyCircuitBreaker {
				breakerFor(h).RecordResult(nil)
			}
		}
	}

	cr := CommandResult{Action: cmd.Action, DurationMs: time.Since(start).Milliseconds()}
	degraded := false
	if err != nil {
		cr.Outcome = OutcomeFailure
		cr.Error = err.Error()
		if matched != nil && matched.Strategy == component.ErrorStrategyGracefulDegradation {
			degraded = true
		}
	} else {
		cr.Outcome = OutcomeSuccess
		cr.Value = value
	}
	return cr, err, degraded
}

func (r *Runtime) invoke(ctx context.Context, toolID string, cmd component.Command, params map[string]interface{}) (interface{}, error) {
	v, err := r.actions.Invoke(ctx, cmd.Action, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ferrors.Withf("runtime.invoke", "tool", toolID, ferrors.ErrTimeout, "command %q timed out", cmd.Action)
		}
		return nil, ferrors.Withf("runtime.invoke", "tool", toolID, ferrors.ErrActionFailed, "%v", err)
	}
	return v, nil
}

type matchedHandler struct {
	strategy component.ErrorStrategy
	action   component.ErrorHandler
}

// matchHandler returns the first ErrorHandler whose error_type exactly
// matches errType, falling back to the first "*" or unset-error_type
// handler (either is treated as a catch-all), or nil if neither matches.
// Unlike a position-based default, this never returns a handler whose own
// error_type disagrees with errType.
func matchHandler(handlers []component.ErrorHandler, errType string) *component.ErrorHandler {
	var wildcard *component.ErrorHandler
	for i := range handlers {
		h := &handlers[i]
		if h.ErrorType == "*" || h.ErrorType == "" {
			if wildcard == nil {
				wildcard = h
			}
			continue
		}
		if errType != "" && h.ErrorType == errType {
			return h
		}
	}
	return wildcard
}

func handleFailure(handlers []component.ErrorHandler, cmd component.Command, err error) matchedHandler {
	h := matchHandler(handlers, classifyError(err))
	if h == nil {
		return matchedHandler{strategy: component.ErrorStrategyAbort}
	}
	return matchedHandler{strategy: h.Strategy, action: *h}
}

// classifyError reports the error_type an ErrorHandler should match against:
// an action's own declared type takes priority (see ferrors.WithType), since
// that is what a Tool's error_handling entries are written against; absent
// one, errors fall into the generic "transient"/"user" buckets so a wildcard
// or generically-typed handler still applies.
func classifyError(err error) string {
	if t := ferrors.ErrorType(err); t != "" {
		return t
	}
	switch {
	case ferrors.IsRetryable(err):
		return "transient"
	case ferrors.IsUserError(err):
		return "user"
	default:
		return "*"
	}
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

// bindParameters validates params against set's required/optional
// declarations, applying defaults for absent optionals, and returns the
// fully bound parameter map.
func bindParameters(set component.ParameterSet, params map[string]interface{}) (map[string]interface{}, error) {
	bound := make(map[string]interface{}, len(params))

	for _, p := range set.Required {
		v, ok := params[p.Name]
		if !ok {
			return nil, ferrors.Withf("runtime.bind", "parameter", p.Name, ferrors.ErrParameter,
				"missing required parameter %q", p.Name)
		}
		if err := checkConstraints(p, v); err != nil {
			return nil, err
		}
		bound[p.Name] = v
	}

	for _, p := range set.Optional {
		v, ok := params[p.Name]
		if !ok {
			bound[p.Name] = p.Default
			continue
		}
		if err := checkConstraints(p, v); err != nil {
			return nil, err
		}
		bound[p.Name] = v
	}

	return bound, nil
}

func checkConstraints(p component.Parameter, v interface{}) error {
	if p.Constraints == nil {
		return nil
	}
	c := p.Constraints

	if num, ok := toFloat(v); ok {
		if c.Min != nil && num < *c.Min {
			return ferrors.Withf("runtime.bind", "parameter", p.Name, ferrors.ErrParameter,
				"%q below minimum %v", p.Name, *c.Min)
		}
		if c.Max != nil && num > *c.Max {
			return ferrors.Withf("runtime.bind", "parameter", p.Name, ferrors.ErrParameter,
				"%q above maximum %v", p.Name, *c.Max)
		}
	}

	if c.Pattern != "" {
		if s, ok := v.(string); ok {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return fmt.Errorf("runtime: invalid pattern constraint for %q: %w", p.Name, err)
			}
			if !re.MatchString(s) {
				return ferrors.Withf("runtime.bind", "parameter", p.Name, ferrors.ErrParameter,
					"%q does not match pattern %q", p.Name, c.Pattern)
			}
		}
	}

	if len(c.Enum) > 0 {
		found := false
		for _, e := range c.Enum {
			if e == v {
				found = true
				break
			}
		}
		if !found {
			return ferrors.Withf("runtime.bind", "parameter", p.Name, ferrors.ErrParameter,
				"%q not one of the allowed values", p.Name)
		}
	}

	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
