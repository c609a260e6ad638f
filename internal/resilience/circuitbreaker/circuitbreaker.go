// Package circuitbreaker provides a per-dependency circuit breaker for
// external service calls. It fails fast when a dependency is known to be
// unhealthy instead of letting every request wait out a timeout.
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through (normal operation).
	StateClosed State = iota
	// StateOpen rejects all requests until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of trial requests to probe recovery.
	StateHalfOpen
)

// String returns the lowercase state name used in logs and API responses.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is the dependency name for logging and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens
	// the circuit while closed. Must be >= 1.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before admitting
	// trial requests.
	RecoveryTimeout time.Duration

	// HalfOpenMaxTrials is the maximum number of concurrent trial requests
	// admitted while half-open. Must be >= 1.
	HalfOpenMaxTrials int
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxTrials: 1,
	}
}

// LLMProxyConfig returns configuration optimized for the upstream LLM proxy.
func LLMProxyConfig() Config {
	return Config{
		Name:              "llm-proxy",
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxTrials: 1,
	}
}

// VectorStoreConfig returns configuration optimized for the cache backend.
// More sensitive than the LLM proxy: cache failures are cheap to detect and
// the fallback (treat as miss) is always available.
func VectorStoreConfig() Config {
	return Config{
		Name:              "vector-store",
		FailureThreshold:  3,
		RecoveryTimeout:   15 * time.Second,
		HalfOpenMaxTrials: 1,
	}
}

// CircuitBreaker is a consecutive-failure circuit breaker.
//
// State transitions:
//
//	CLOSED    -> OPEN       after FailureThreshold consecutive failures
//	OPEN      -> HALF_OPEN  once RecoveryTimeout has elapsed since the last failure
//	HALF_OPEN -> CLOSED     on a trial success
//	HALF_OPEN -> OPEN       on a trial failure
//
// All state is guarded by a single mutex owned by this instance. The lock is
// held only for state inspection and mutation, never across the guarded call.
type CircuitBreaker struct {
	name              string
	failureThreshold  int
	recoveryTimeout   time.Duration
	halfOpenMaxTrials int

	mu             sync.Mutex
	state          State
	failureCount   int
	lastFailureAt  time.Time
	halfOpenTrials int

	onStateChange func(name string, from, to State)

	// now is overridable in tests to avoid timing-sensitive sleeps.
	now func() time.Time
}

// New creates a new circuit breaker with the given configuration.
// Zero or negative thresholds fall back to safe defaults.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxTrials < 1 {
		cfg.HalfOpenMaxTrials = 1
	}

	return &CircuitBreaker{
		name:              cfg.Name,
		failureThreshold:  cfg.FailureThreshold,
		recoveryTimeout:   cfg.RecoveryTimeout,
		halfOpenMaxTrials: cfg.HalfOpenMaxTrials,
		state:             StateClosed,
		now:               time.Now,
	}
}

// CanExecute reports whether a call may proceed.
//
// In the open state the elapsed time is re-checked on every call, so the
// first caller at or after lastFailureAt+RecoveryTimeout flips the circuit
// to half-open and is admitted as a trial. While half-open, at most
// HalfOpenMaxTrials concurrent callers are admitted; the rest are rejected
// until a trial outcome is recorded.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()

	if cb.state == StateOpen && !cb.lastFailureAt.IsZero() {
		if cb.now().Sub(cb.lastFailureAt) >= cb.recoveryTimeout {
			cb.transitionLocked(StateHalfOpen)
		}
	}

	var allowed bool
	switch cb.state {
	case StateClosed:
		allowed = true
	case StateHalfOpen:
		if cb.halfOpenTrials < cb.halfOpenMaxTrials {
			cb.halfOpenTrials++
			allowed = true
		}
	}

	cb.mu.Unlock()
	return allowed
}

// RecordSuccess records a successful call. A single success while half-open
// closes the circuit; while closed it clears accumulated failures.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionLocked(StateClosed)
	case StateClosed:
		cb.failureCount = 0
	}

	cb.mu.Unlock()
}

// RecordFailure records a failed call. A single failure while half-open
// re-opens the circuit; while closed the circuit opens once the consecutive
// failure count reaches the threshold.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()

	cb.failureCount++
	cb.lastFailureAt = cb.now()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	case StateClosed:
		if cb.failureCount >= cb.failureThreshold {
			slog.Warn("circuit breaker opening",
				slog.String("circuit", cb.name),
				slog.Int("failure_count", cb.failureCount),
				slog.Any("error", err))
			cb.transitionLocked(StateOpen)
		}
	}

	cb.mu.Unlock()
}

// ReleaseTrial returns a half-open trial slot without recording an outcome.
// Callers use it when an admitted request finished without ever reaching the
// dependency, such as a cache hit or a caller cancellation. Without the
// release the slot would stay consumed and the breaker could reject traffic
// long after the dependency recovered.
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.mu.Lock()

	if cb.state == StateHalfOpen && cb.halfOpenTrials > 0 {
		cb.halfOpenTrials--
	}

	cb.mu.Unlock()
}

// transitionLocked changes state and resets the counters that belong to the
// new state. Must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}

	switch to {
	case StateClosed:
		cb.failureCount = 0
		cb.halfOpenTrials = 0
	case StateHalfOpen:
		cb.halfOpenTrials = 0
	}

	cb.state = to

	slog.Info("circuit breaker state changed",
		slog.String("circuit", cb.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// SetOnStateChange registers a callback invoked on every state transition.
// The callback runs while the breaker lock is held and must not call back
// into the breaker; it should be limited to metrics or logging.
func (cb *CircuitBreaker) SetOnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Status is an immutable snapshot of breaker state for observability.
type Status struct {
	Name              string        `json:"name"`
	State             string        `json:"state"`
	FailureCount      int           `json:"failure_count"`
	FailureThreshold  int           `json:"failure_threshold"`
	RecoveryTimeout   time.Duration `json:"-"`
	RecoveryTimeoutS  float64       `json:"recovery_timeout_seconds"`
	HalfOpenMaxTrials int           `json:"half_open_max_trials"`
	LastFailureAt     time.Time     `json:"last_failure_at,omitzero"`
}

// GetStatus returns a snapshot of the breaker without mutating its state.
func (cb *CircuitBreaker) GetStatus() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Status{
		Name:              cb.name,
		State:             cb.state.String(),
		FailureCount:      cb.failureCount,
		FailureThreshold:  cb.failureThreshold,
		RecoveryTimeout:   cb.recoveryTimeout,
		RecoveryTimeoutS:  cb.recoveryTimeout.Seconds(),
		HalfOpenMaxTrials: cb.halfOpenMaxTrials,
		LastFailureAt:     cb.lastFailureAt,
	}
}

// RecoveryTimeout returns the configured open-state duration, used by HTTP
// handlers to derive a Retry-After hint.
func (cb *CircuitBreaker) RecoveryTimeout() time.Duration {
	return cb.recoveryTimeout
}

// Reset forces the breaker back to the closed state and clears all counters.
// Intended for tests; production breakers live for the process lifetime.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenTrials = 0
	cb.lastFailureAt = time.Time{}
}
