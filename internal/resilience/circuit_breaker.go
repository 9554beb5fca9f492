// Package resilience adapts the circuit breaker and retry primitives the
// Runtime's error_handling strategies dispatch to. The circuit breaker keeps
// gomind's sliding-window error-rate state machine; it is now keyed per
// (tool id, error type) pair, one breaker per declared ErrorHandler, rather
// than one breaker per outbound service call.
package resilience

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/force-engine/force/internal/ferrors"
	"github.com/force-engine/force/internal/logging"
)

// State is the circuit breaker's current position in its state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes one CircuitBreaker instance.
type Config struct {
	Name             string
	ErrorThreshold   float64       // error rate (0..1) that trips the breaker
	VolumeThreshold  int           // minimum requests before ErrorThreshold is evaluated
	SleepWindow      time.Duration // time in open before trying half-open
	HalfOpenRequests int           // trial requests allowed in half-open
	SuccessThreshold float64       // success rate in half-open needed to close
	WindowSize       time.Duration // sliding window duration
	BucketCount      int           // sliding window bucket count

	Logger logging.Logger
}

// DefaultConfig mirrors the production defaults gomind ships.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 5,
		SuccessThreshold: 0.6,
		WindowSize:       60 * time.Second,
		BucketCount:      10,
		Logger:           logging.NoOpLogger{},
	}
}

type token struct {
	id         uint64
	isHalfOpen bool
}

// CircuitBreaker trips open when the configured error handler's command keeps
// failing, so the Runtime's circuit_breaker error-handling strategy can
// short-circuit without retrying a command that is reliably broken.
type CircuitBreaker struct {
	cfg Config

	state          atomic.Int32
	stateChangedAt atomic.Value // time.Time

	window *SlidingWindow

	halfOpenTotal     atomic.Int32
	halfOpenSuccesses atomic.Int32
	halfOpenFailures  atomic.Int32
	tokenCounter      atomic.Uint64

	forceOpen   atomic.Bool
	forceClosed atomic.Bool

	mu sync.Mutex
}

// New builds a CircuitBreaker in the closed state.
func New(cfg Config) *CircuitBreaker {
	if cfg.BucketCount <= 0 {
		cfg.BucketCount = 10
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	cb := &CircuitBreaker{
		cfg:    cfg,
		window: newSlidingWindow(cfg.WindowSize, cfg.BucketCount),
	}
	cb.state.Store(int32(StateClosed))
	cb.stateChangedAt.Store(time.Now())
	return cb
}

// State reports the breaker's current position, applying the same
// Open-to-HalfOpen lazy transition startExecution performs so a caller that
// only wants to peek (without attempting a request) still observes an
// elapsed cooldown.
func (cb *CircuitBreaker) State() State {
	if State(cb.state.Load()) == StateOpen {
		changedAt := cb.stateChangedAt.Load().(time.Time)
		if time.Since(changedAt) > cb.cfg.SleepWindow {
			cb.mu.Lock()
			if State(cb.state.Load()) == StateOpen {
				cb.transitionLocked(StateHalfOpen)
			}
			cb.mu.Unlock()
		}
	}
	return State(cb.state.Load())
}

// Execute runs fn under the breaker's admission control, recovering a panic
// inside fn into an error so one misbehaving action handler cannot take the
// whole Runtime down.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	tok, allowed := cb.startExecution()
	if !allowed {
		return ferrors.Withf("resilience.Execute", "circuit_breaker", cb.cfg.Name, ferrors.ErrCircuitOpen,
			"circuit %q is open", cb.cfg.Name)
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				cb.cfg.Logger.Error("circuit breaker caught panic", map[string]interface{}{
					"name":  cb.cfg.Name,
					"panic": fmt.Sprintf("%v", r),
				})
				done <- fmt.Errorf("panic: %v\n%s", r, stack)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		cb.completeExecution(tok, err)
		return err
	case <-ctx.Done():
		go func() {
			err := <-done
			cb.completeExecution(tok, err)
		}()
		return ctx.Err()
	}
}

func (cb *CircuitBreaker) startExecution() (token, bool) {
	if cb.forceClosed.Load() {
		return token{}, true
	}
	if cb.forceOpen.Load() {
		return token{}, false
	}

	switch cb.State() {
	case StateClosed:
		return token{id: cb.tokenCounter.Add(1)}, true

	case StateOpen:
		// State() already applied the lazy Open->HalfOpen transition if the
		// cooldown elapsed; if it's still Open here, refuse the attempt.
		return token{}, false

	case StateHalfOpen:
		for {
			current := cb.halfOpenTotal.Load()
			if cb.cfg.HalfOpenRequests > 0 && int(current) >= cb.cfg.HalfOpenRequests {
				return token{}, false
			}
			if cb.halfOpenTotal.CompareAndSwap(current, current+1) {
				break
			}
		}
		return token{id: cb.tokenCounter.Add(1), isHalfOpen: true}, true

	default:
		return token{}, false
	}
}

func (cb *CircuitBreaker) completeExecution(tok token, err error) {
	if cb.forceClosed.Load() || cb.forceOpen.Load() {
		return
	}

	if err == nil {
		cb.window.RecordSuccess()
		if tok.isHalfOpen {
			cb.halfOpenSuccesses.Add(1)
		}
	} else if !ferrors.IsUserError(err) {
		cb.window.RecordFailure()
		if tok.isHalfOpen {
			cb.halfOpenFailures.Add(1)
		}
	}

	cb.evaluateState()
}

// RecordResult folds the outcome of an attempt that ran outside Execute's
// own admission control into this breaker's sliding window and re-evaluates
// its state. The Runtime uses this when it must observe a command's error
// before it can tell which declared ErrorHandler (and therefore which
// breaker) applies: the attempt itself is gated by a prior Allow check, and
// only its outcome is folded in here.
func (cb *CircuitBreaker) RecordResult(err error) {
	if cb.forceClosed.Load() || cb.forceOpen.Load() {
		return
	}
	halfOpen := cb.State() == StateHalfOpen
	if err == nil {
		cb.window.RecordSuccess()
		if halfOpen {
			cb.halfOpenSuccesses.Add(1)
			cb.halfOpenTotal.Add(1)
		}
	} else if !ferrors.IsUserError(err) {
		cb.window.RecordFailure()
		if halfOpen {
			cb.halfOpenFailures.Add(1)
			cb.halfOpenTotal.Add(1)
		}
	}
	cb.evaluateState()
}

// Allow reports whether the breaker currently admits an attempt, without
// running anything — used to gate a command before the Runtime knows which
// ErrorHandler's error_type the eventual failure (if any) will match.
func (cb *CircuitBreaker) Allow() bool {
	if cb.forceClosed.Load() {
		return true
	}
	if cb.forceOpen.Load() {
		return false
	}
	return cb.State() != StateOpen
}

func (cb *CircuitBreaker) evaluateState() {
	switch cb.State() {
	case StateClosed:
		errorRate := cb.window.ErrorRate()
		total := cb.window.Total()
		if cb.cfg.VolumeThreshold > 0 && total >= uint64(cb.cfg.VolumeThreshold) && errorRate >= cb.cfg.ErrorThreshold {
			cb.mu.Lock()
			cb.transitionLocked(StateOpen)
			cb.mu.Unlock()
		}

	case StateHalfOpen:
		successes := cb.halfOpenSuccesses.Load()
		failures := cb.halfOpenFailures.Load()
		total := successes + failures
		if cb.cfg.HalfOpenRequests > 0 && int(total) >= cb.cfg.HalfOpenRequests {
			successRate := float64(successes) / float64(total)
			cb.mu.Lock()
			if successRate >= cb.cfg.SuccessThreshold {
				cb.transitionLocked(StateClosed)
			} else {
				cb.transitionLocked(StateOpen)
			}
			cb.mu.Unlock()
		}
	}
}

func (cb *CircuitBreaker) transitionLocked(newState State) {
	old := cb.State()
	if old == newState {
		return
	}
	cb.state.Store(int32(newState))
	cb.stateChangedAt.Store(time.Now())
	if newState == StateHalfOpen {
		cb.halfOpenTotal.Store(0)
		cb.halfOpenSuccesses.Store(0)
		cb.halfOpenFailures.Store(0)
	}
	cb.cfg.Logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.cfg.Name, "from": old.String(), "to": newState.String(),
	})
}

// Manager hands out one CircuitBreaker per (tool_id, error_type) key,
// creating it lazily on first use with DefaultConfig.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	logger   logging.Logger
}

// NewManager builds an empty Manager.
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Manager{breakers: map[string]*CircuitBreaker{}, logger: logger}
}

// Get returns the breaker for (toolID, errorType), creating it if absent.
// maxRetries, when positive, is the declared ErrorHandler's own threshold:
// it overrides DefaultConfig's VolumeThreshold so a breaker trips within the
// number of invocations the component itself declared rather than needing
// DefaultConfig's generic volume of 10.
func (m *Manager) Get(toolID, errorType string, maxRetries int) *CircuitBreaker {
	key := toolID + "/" + errorType
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[key]; ok {
		return cb
	}
	cfg := DefaultConfig(key)
	cfg.Logger = m.logger
	if maxRetries > 0 {
		cfg.VolumeThreshold = maxRetries
	}
	cb := New(cfg)
	m.breakers[key] = cb
	return cb
}

type bucket struct {
	timestamp time.Time
	success   atomic.Uint64
	failure   atomic.Uint64
}

// SlidingWindow tracks success/failure counts over a rolling time window,
// bucketed so old activity ages out without a background sweep.
type SlidingWindow struct {
	mu         sync.Mutex
	buckets    []*bucket
	windowSize time.Duration
	bucketSize time.Duration
	currentIdx int
}

func newSlidingWindow(windowSize time.Duration, bucketCount int) *SlidingWindow {
	buckets := make([]*bucket, bucketCount)
	now := time.Now()
	for i := range buckets {
		buckets[i] = &bucket{timestamp: now}
	}
	return &SlidingWindow{
		buckets:    buckets,
		windowSize: windowSize,
		bucketSize: windowSize / time.Duration(bucketCount),
	}
}

func (sw *SlidingWindow) rotate() {
	now := time.Now()
	cur := sw.buckets[sw.currentIdx]
	elapsed := now.Sub(cur.timestamp)
	if elapsed < sw.bucketSize {
		return
	}
	steps := int(elapsed / sw.bucketSize)
	if steps > len(sw.buckets) {
		steps = len(sw.buckets)
	}
	for i := 0; i < steps; i++ {
		sw.currentIdx = (sw.currentIdx + 1) % len(sw.buckets)
		sw.buckets[sw.currentIdx] = &bucket{timestamp: now}
	}
}

// RecordSuccess records one successful outcome.
func (sw *SlidingWindow) RecordSuccess() {
	sw.mu.Lock()
	sw.rotate()
	sw.buckets[sw.currentIdx].success.Add(1)
	sw.mu.Unlock()
}

// RecordFailure records one failed outcome.
func (sw *SlidingWindow) RecordFailure() {
	sw.mu.Lock()
	sw.rotate()
	sw.buckets[sw.currentIdx].failure.Add(1)
	sw.mu.Unlock()
}

// Counts returns the success/failure totals still inside the window.
func (sw *SlidingWindow) Counts() (success, failure uint64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	cutoff := time.Now().Add(-sw.windowSize)
	for _, b := range sw.buckets {
		if b.timestamp.After(cutoff) {
			success += b.success.Load()
			failure += b.failure.Load()
		}
	}
	return success, failure
}

// ErrorRate returns failure/(success+failure) over the window, 0 if empty.
func (sw *SlidingWindow) ErrorRate() float64 {
	success, failure := sw.Counts()
	total := success + failure
	if total == 0 {
		return 0
	}
	return float64(failure) / float64(total)
}

// Total returns success+failure over the window.
func (sw *SlidingWindow) Total() uint64 {
	success, failure := sw.Counts()
	return success + failure
}
