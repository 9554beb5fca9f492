// Package constraint implements the Constraint Engine: evaluating a scope
// against the declarative rules attached to registered Constraints via a
// host-provided evaluator keyed by category, and gating on severity and
// enforcement.blocking.
package constraint

import (
	"context"
	"time"

	"github.com/force-engine/force/internal/autofix"
	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/logging"
)

// Scope is what a check call is run against: file paths, component ids, or
// an arbitrary payload the host evaluator understands.
type Scope struct {
	Paths        []string               `json:"paths,omitempty"`
	ComponentIDs []string               `json:"component_ids,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Violation is one Constraint failing against a Scope.
type Violation struct {
	ConstraintID string            `json:"constraint_id"`
	Severity     component.Severity `json:"severity"`
	Message      string            `json:"message"`
	Path         string            `json:"path,omitempty"`
	Blocking     bool              `json:"blocking"`
	AutoFixed    bool              `json:"auto_fixed,omitempty"`
}

// Evaluator checks one Constraint's rules against a Scope, returning any
// violation messages (empty means the scope satisfies the constraint). The
// engine treats rule bodies as opaque, same discipline as the Action Table.
type Evaluator func(ctx context.Context, c component.Constraint, scope Scope) ([]string, error)

// Engine runs registered Constraints against a Scope.
type Engine struct {
	constraints func() []component.Constraint
	evaluators  map[string]Evaluator
	fixer       *autofix.Fixer
	logger      logging.Logger
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithAutoFixer wires the Auto-Fixer for the auto_fix recheck path.
func WithAutoFixer(f *autofix.Fixer) Option {
	return func(e *Engine) { e.fixer = f }
}

// WithLogger sets the Engine's logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an Engine. constraints returns the live Constraint set
// (typically registry.Snapshot().Constraints values), re-read on every
// Check call so a hot reload is observed immediately.
func New(constraints func() []component.Constraint, opts ...Option) *Engine {
	e := &Engine{
		constraints: constraints,
		evaluators:  map[string]Evaluator{},
		logger:      logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterEvaluator binds an Evaluator to a Constraint category. A category
// without a registered Evaluator is skipped with a debug log, never treated
// as a violation.
func (e *Engine) RegisterEvaluator(category string, ev Evaluator) {
	e.evaluators[category] = ev
}

// Check evaluates every registered Constraint against scope, returning every
// Violation found. A violation from a Constraint with enforcement.auto_fix
// set is passed through the Auto-Fixer and rechecked; if it still fails the
// Violation's severity is left as declared but Message notes the retry.
func (e *Engine) Check(ctx context.Context, scope Scope) []Violation {
	var out []Violation

	for _, c := range e.constraints() {
		ev, ok := e.evaluators[c.Category]
		if !ok {
			e.logger.Debug("no evaluator for constraint category", map[string]interface{}{
				"constraint_id": c.ID, "category": c.Category,
			})
			continue
		}

		messages, err := ev(ctx, c, scope)
		if err != nil {
			out = append(out, Violation{
				ConstraintID: c.ID, Severity: c.Validation.Severity,
				Message: "evaluator error: " + err.Error(),
				Blocking: c.Enforcement.Blocking && isBlockingSeverity(c.Validation.Severity),
			})
			continue
		}
		if len(messages) == 0 {
			continue
		}

		if c.Enforcement.AutoFix && e.fixer != nil {
			messages = e.recheckAfterFix(ctx, c, scope, ev, messages)
		}

		for _, msg := range messages {
			out = append(out, Violation{
				ConstraintID: c.ID,
				Severity:     c.Validation.Severity,
				Message:      msg,
				Blocking:     c.Enforcement.Blocking && isBlockingSeverity(c.Validation.Severity),
			})
		}
	}

	return out
}

// recheckAfterFix gives a failing auto-fixable Constraint one more chance
// after the Auto-Fixer runs against the scope's paths, returning
// "auto_fix_failed: <original>" messages for anything still failing.
func (e *Engine) recheckAfterFix(ctx context.Context, c component.Constraint, scope Scope, ev Evaluator, original []string) []string {
	for _, path := range scope.Paths {
		if _, err := e.fixer.FixFile(path, component.KindUnknown); err != nil {
			e.logger.Warn("auto-fix failed during constraint recheck", map[string]interface{}{
				"constraint_id": c.ID, "path": path, "error": err.Error(),
			})
		}
	}

	recheck, err := ev(ctx, c, scope)
	if err != nil || len(recheck) > 0 {
		tagged := make([]string, 0, len(original))
		for _, msg := range original {
			tagged = append(tagged, "auto_fix_failed: "+msg)
		}
		return tagged
	}
	return nil
}

func isBlockingSeverity(s component.Severity) bool {
	return s == component.SeverityError || s == component.SeverityCritical
}

// CheckedAt is a convenience timestamp helper for callers building a
// governance or learning record around a Check call.
func CheckedAt() time.Time { return time.Now() }
