// Package ferrors defines the Force Engine's error taxonomy: sentinel errors
// for comparison with errors.Is, and a wrapping type that carries the
// operation, component kind, and id involved in a failure.
package ferrors

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per taxonomy entry in the error handling design.
var (
	// Startup / schema errors.
	ErrSchemaMissing = errors.New("schema missing")
	ErrSchemaInvalid = errors.New("schema error")

	// Loader / validator errors.
	ErrParse        = errors.New("parse error")
	ErrSemantic     = errors.New("semantic error")
	ErrReference    = errors.New("reference error")
	ErrDuplicateID  = errors.New("duplicate id")
	ErrUnfixable    = errors.New("component not auto-fixable")
	ErrNotFound     = errors.New("component not found")
	ErrQuarantined  = errors.New("component is quarantined")

	// Execution errors.
	ErrParameter         = errors.New("parameter error")
	ErrPrecondition      = errors.New("precondition failed")
	ErrPostcondition     = errors.New("postcondition failed")
	ErrUnknownAction     = errors.New("unknown action")
	ErrActionFailed      = errors.New("action failed")
	ErrTimeout           = errors.New("timeout")
	ErrCancelled         = errors.New("cancelled")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrNeedsManualIntervention = errors.New("needs manual intervention")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Governance / transport errors.
	ErrPolicyDenied  = errors.New("policy denied")
	ErrReloadRace    = errors.New("raced with external edit")
	ErrTransport     = errors.New("transport error")
)

// ForceError carries structured context about a failure: the operation that
// failed, the kind of component involved, and (optionally) its id, wrapping
// an underlying sentinel error for errors.Is/As.
type ForceError struct {
	Op      string // e.g. "registry.Admit", "runtime.Execute"
	Kind    string // e.g. "tool", "pattern", "constraint"
	ID      string // component id, when known
	Type    string // the declared error_type an action reports, e.g. "NetworkError"
	Message string
	Err     error
}

func (e *ForceError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s/%s]: %v", e.Op, e.Kind, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *ForceError) Unwrap() error { return e.Err }

// New builds a ForceError wrapping a sentinel error.
func New(op, kind, id string, err error) *ForceError {
	return &ForceError{Op: op, Kind: kind, ID: id, Err: err}
}

// Withf builds a ForceError with a formatted message wrapping err.
func Withf(op, kind, id string, err error, format string, args ...interface{}) *ForceError {
	return &ForceError{Op: op, Kind: kind, ID: id, Err: err, Message: fmt.Sprintf(format, args...)}
}

// WithType builds a ForceError like Withf but tagged with the action's own
// declared error_type, letting a Tool's error_handling entries match on that
// type rather than only on the Runtime's generic transient/user buckets.
func WithType(op, kind, id, errType string, err error, format string, args ...interface{}) *ForceError {
	return &ForceError{Op: op, Kind: kind, ID: id, Type: errType, Err: err, Message: fmt.Sprintf(format, args...)}
}

// ErrorType returns the error_type an action attached to err via WithType,
// or "" if err (or any error it wraps) carries none.
func ErrorType(err error) string {
	var fe *ForceError
	if errors.As(err, &fe) && fe.Type != "" {
		return fe.Type
	}
	return ""
}

// IsNotFound reports whether err represents a missing component or value.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsQuarantine reports whether err represents a component failing validation.
func IsQuarantine(err error) bool {
	return errors.Is(err, ErrSemantic) ||
		errors.Is(err, ErrReference) ||
		errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, ErrSchemaInvalid) ||
		errors.Is(err, ErrParse)
}

// IsRetryable reports whether err represents a transient condition that a
// retry or exponential_backoff error handler should act on.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrActionFailed)
}

// IsUserError reports whether err originates from caller input rather than
// infrastructure, matching gomind's circuit breaker error classifier: user
// errors never count toward a circuit breaker's failure threshold.
func IsUserError(err error) bool {
	return errors.Is(err, ErrParameter) ||
		errors.Is(err, ErrPrecondition) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPolicyDenied)
}
