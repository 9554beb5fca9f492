package mcpserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/force-engine/force/internal/actiontable"
	"github.com/force-engine/force/internal/autofix"
	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/config"
	"github.com/force-engine/force/internal/constraint"
	"github.com/force-engine/force/internal/governance"
	"github.com/force-engine/force/internal/learning"
	"github.com/force-engine/force/internal/logging"
	"github.com/force-engine/force/internal/pattern"
	"github.com/force-engine/force/internal/registry"
	"github.com/force-engine/force/internal/runtime"
	"github.com/force-engine/force/internal/schema"
)

// State is the MCP server's admission state machine position.
type State string

const (
	StateLoading    State = "loading"
	StateValidating State = "validating"
	StateFixing     State = "fixing"
	StateReady      State = "ready"
	StateBlocked    State = "blocked"
)

// ExitCode mirrors the process exit codes the startup gate can produce.
type ExitCode int

const (
	ExitOK                  ExitCode = 0
	ExitSchemaMissing       ExitCode = 2
	ExitCriticalInvalid     ExitCode = 3
	ExitTransportFailure    ExitCode = 4
	ExitFatal               ExitCode = 1
)

// StartupError carries the exit code a failed startup gate should produce.
type StartupError struct {
	Code ExitCode
	Msg  string
}

func (e *StartupError) Error() string { return e.Msg }

// Engine wires every core component together and drives the startup state
// machine; the MCP transports (stdio, http) are thin framing layers over it.
type Engine struct {
	cfg        *config.Config
	store      *schema.Store
	reg        *registry.Registry
	fixer      *autofix.Fixer
	recorder   *learning.Recorder
	actions    *actiontable.Table
	rt         *runtime.Runtime
	patterns   *pattern.Engine
	constraints *constraint.Engine
	gate       *governance.Gate
	logger     logging.Logger

	mu    sync.RWMutex
	state State
}

// New builds an Engine from cfg, loading the schema, constructing every
// subsystem, and registering the Governance Gate / Constraint Engine's
// live-component accessors against the Registry's current snapshot.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	logger := cfg.Logger()

	store, err := schema.Load(cfg.Root)
	if err != nil {
		return nil, &StartupError{Code: ExitSchemaMissing, Msg: fmt.Sprintf("schema: %v", err)}
	}

	fixer := autofix.New()
	learnOpts := []learning.Option{learning.WithLogger(logger)}
	if cfg.Registry.RedisURL != "" {
		cache, err := registry.NewRedisAggregateCache(cfg.Registry.RedisURL)
		if err != nil {
			logger.Warn("redis aggregate cache unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			learnOpts = append(learnOpts, learning.WithAggregateCache(cache))
		}
	}
	recorder, err := learning.New(cfg.Root, cfg.LogRotationBytes, cfg.Learning.IndexSize, learnOpts...)
	if err != nil {
		return nil, &StartupError{Code: ExitFatal, Msg: fmt.Sprintf("learning recorder: %v", err)}
	}

	var regOpts []registry.Option
	regOpts = append(regOpts, registry.WithLogger(logger), registry.WithStatsSource(recorder))
	if cfg.AutoFixOnStart {
		regOpts = append(regOpts, registry.WithAutoFixOnLoad(fixer))
	}
	if cfg.Registry.Watch {
		regOpts = append(regOpts, registry.WithWatch(true))
	}
	reg := registry.New(cfg.Root, store, regOpts...)

	actions := actiontable.New()
	rt := runtime.New(actions, runtime.WithLogger(logger), runtime.WithRecorder(recorder))

	toolLookup := func(id string) (component.Tool, bool) {
		t, ok := reg.Snapshot().Tools[id]
		return t, ok
	}
	toolRunner := func(ctx context.Context, t component.Tool, params map[string]interface{}, execCtx *runtime.Context) runtime.Result {
		return rt.Execute(ctx, t, params, execCtx)
	}
	patterns := pattern.New(toolLookup, toolRunner, pattern.WithLogger(logger))

	constraintsEngine := constraint.New(func() []component.Constraint {
		snap := reg.Snapshot().Constraints
		out := make([]component.Constraint, 0, len(snap))
		for _, c := range snap {
			out = append(out, c)
		}
		return out
	}, constraint.WithAutoFixer(fixer), constraint.WithLogger(logger))

	gate := governance.New(func() []component.GovernancePolicy {
		snap := reg.Snapshot().Governance
		out := make([]component.GovernancePolicy, 0, len(snap))
		for _, g := range snap {
			out = append(out, g)
		}
		return out
	}, governance.WithStatsSource(reg), governance.WithLogger(logger))

	e := &Engine{
		cfg: cfg, store: store, reg: reg, fixer: fixer, recorder: recorder,
		actions: actions, rt: rt, patterns: patterns, constraints: constraintsEngine,
		gate: gate, logger: logger, state: StateLoading,
	}

	if err := e.startupGate(ctx); err != nil {
		return e, err
	}

	if cfg.Registry.Watch {
		if _, err := reg.Watch(ctx); err != nil {
			logger.Warn("registry watch failed to start", map[string]interface{}{"error": err.Error()})
		}
	}

	return e, nil
}

// startupGate runs Loading -> Validating -> (Fixing? -> Validating)* ->
// (Ready | Blocked), per the Surface's state machine contract.
func (e *Engine) startupGate(ctx context.Context) error {
	e.setState(StateValidating)

	snap, err := e.reg.Reload(ctx)
	if err != nil {
		return &StartupError{Code: ExitFatal, Msg: fmt.Sprintf("initial reload: %v", err)}
	}

	if e.cfg.AutoFixOnStart && len(snap.Quarantined) > 0 {
		e.setState(StateFixing)
		snap, err = e.reg.Reload(ctx)
		if err != nil {
			return &StartupError{Code: ExitFatal, Msg: fmt.Sprintf("post-fix reload: %v", err)}
		}
		e.setState(StateValidating)
	}

	criticalInvalid := false
	for _, q := range snap.Quarantined {
		if q.Kind == component.KindTool && q.Critical {
			criticalInvalid = true
			break
		}
	}

	if criticalInvalid && e.cfg.Mode == config.ModeProduction {
		e.setState(StateBlocked)
		return &StartupError{Code: ExitCriticalInvalid, Msg: "critical tool(s) quarantined in production mode"}
	}

	if len(snap.Quarantined) > 0 {
		e.logger.Warn("starting with quarantined components", map[string]interface{}{
			"count": len(snap.Quarantined), "mode": string(e.cfg.Mode),
		})
	}

	e.setState(StateReady)
	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// State returns the Engine's current admission state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Actions exposes the Action Table so a host binary can register handlers
// before serving requests.
func (e *Engine) Actions() *actiontable.Table { return e.actions }

// Constraints exposes the Constraint Engine so a host binary can register
// category evaluators before serving requests.
func (e *Engine) Constraints() *constraint.Engine { return e.constraints }

// Governance exposes the Governance Gate so a host binary can register
// policy_type evaluators before serving requests.
func (e *Engine) Governance() *governance.Gate { return e.gate }

// Reload re-enters Validating and atomically swaps in a fresh snapshot,
// per "a successful reload re-enters Validating atomically."
func (e *Engine) Reload(ctx context.Context) (*registry.Snapshot, error) {
	e.setState(StateValidating)
	snap, err := e.reg.Reload(ctx)
	if err != nil {
		e.setState(StateBlocked)
		return nil, err
	}
	e.setState(StateReady)
	return snap, nil
}
