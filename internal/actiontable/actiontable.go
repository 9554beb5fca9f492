// Package actiontable is the Force Engine's single plug-point between the
// declarative component corpus and host-provided executable code: the
// Runtime never invokes an action directly, only through a Table lookup, so
// every side effect flows through a named, replaceable function.
package actiontable

import (
	"context"
	"fmt"
	"sync"

	"github.com/force-engine/force/internal/ferrors"
)

// Action is a host-provided function bound to one command's `action` string.
// It receives the bound parameters and a context, and returns a result
// value or a typed error; the engine treats both as opaque.
type Action func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Table maps action names to their Action implementation.
type Table struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// New returns an empty Table.
func New() *Table {
	return &Table{actions: map[string]Action{}}
}

// Register binds name to fn, overwriting any prior registration so a host
// can override a stub implementation at startup.
func (t *Table) Register(name string, fn Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions[name] = fn
}

// Lookup returns the Action bound to name, if any.
func (t *Table) Lookup(name string) (Action, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.actions[name]
	return fn, ok
}

// Invoke runs the action bound to name, returning ErrUnknownAction if none
// is registered.
func (t *Table) Invoke(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	fn, ok := t.Lookup(name)
	if !ok {
		return nil, ferrors.Withf("actiontable.Invoke", "action", name, ferrors.ErrUnknownAction,
			"no action registered for %q", name)
	}
	return fn(ctx, params)
}

// Names returns every registered action name, in no particular order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.actions))
	for name := range t.actions {
		out = append(out, name)
	}
	return out
}

// MustRegister panics if name is already registered, used at process
// startup where a duplicate registration is a programming error rather
// than a runtime condition.
func (t *Table) MustRegister(name string, fn Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.actions[name]; exists {
		panic(fmt.Sprintf("actiontable: action %q already registered", name))
	}
	t.actions[name] = fn
}
