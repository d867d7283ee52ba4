// Package breaker implements the three-state circuit breaker that guards
// every external model call (embedding, summary, keywords, tags,
// propositions). It protects the enrichment pipeline against cascading
// failures by failing fast when a model service is known-bad.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests fail fast.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
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

// Defaults for breaker thresholds.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
	DefaultHalfOpenMaxCalls = 3
)

// Breaker implements the circuit breaker pattern with a half-open success
// budget: after resetTimeout elapses the breaker admits probe calls, and
// only halfOpenMaxCalls consecutive successes close it again.
type Breaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMaxCalls int

	mu          sync.RWMutex
	state       State
	failures    int
	successes   int // consecutive successes while half-open
	lastFailure time.Time

	now func() time.Time // injectable clock for tests
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the number of failures before opening the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithResetTimeout sets the time to wait before attempting recovery.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithHalfOpenMaxCalls sets the consecutive successes required to close
// the circuit from half-open.
func WithHalfOpenMaxCalls(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.halfOpenMaxCalls = n
		}
	}
}

// WithClock overrides the time source. Tests use this to step through the
// open -> half-open transition without sleeping.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a new circuit breaker with the given service name.
// Defaults: 5 failures, 60 second reset timeout, 3 half-open calls.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: DefaultFailureThreshold,
		resetTimeout:     DefaultResetTimeout,
		halfOpenMaxCalls: DefaultHalfOpenMaxCalls,
		state:            StateClosed,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Name returns the service name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, accounting for reset-timeout expiry.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentState()
}

// currentState returns the state, checking for transition to half-open.
// Must be called with at least a read lock held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether a call should be admitted. Fast-fail reads tolerate
// a stale-by-one-step view; Execute re-checks under the write lock.
func (b *Breaker) Allow() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentState() != StateOpen
}

// Execute runs fn through the circuit breaker.
// Returns ErrOpen without invoking fn if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	state := b.currentState()

	switch state {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen

	case StateHalfOpen:
		// Commit the transition so Stats observes half-open.
		if b.state != StateHalfOpen {
			b.state = StateHalfOpen
			b.successes = 0
		}
		b.mu.Unlock()

		err := fn()

		b.mu.Lock()
		defer b.mu.Unlock()
		if err != nil {
			// Any half-open failure reopens the circuit.
			b.state = StateOpen
			b.successes = 0
			b.lastFailure = b.now()
			return err
		}
		b.successes++
		if b.successes >= b.halfOpenMaxCalls {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
		return nil

	default: // StateClosed
		b.mu.Unlock()

		err := fn()

		b.mu.Lock()
		defer b.mu.Unlock()
		if err != nil {
			b.failures++
			b.lastFailure = b.now()
			if b.failures >= b.failureThreshold {
				b.state = StateOpen
			}
			return err
		}
		b.failures = 0
		return nil
	}
}

// Reset forces the breaker back to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
}

// Stats is a point-in-time snapshot of breaker state and thresholds.
type Stats struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	LastFailure      time.Time `json:"last_failure,omitzero"`
	FailureThreshold int       `json:"failure_threshold"`
	ResetTimeout     string    `json:"reset_timeout"`
	HalfOpenMaxCalls int       `json:"half_open_max_calls"`
}

// Stats returns a snapshot without blocking ongoing calls beyond the
// read-lock critical section.
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Name:             b.name,
		State:            b.currentState().String(),
		Failures:         b.failures,
		Successes:        b.successes,
		LastFailure:      b.lastFailure,
		FailureThreshold: b.failureThreshold,
		ResetTimeout:     b.resetTimeout.String(),
		HalfOpenMaxCalls: b.halfOpenMaxCalls,
	}
}
