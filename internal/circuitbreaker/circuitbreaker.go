// Package circuitbreaker keeps repeated readiness probes from hammering a
// dependency that is already known to be down.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrOpen is returned while the breaker rejects calls.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open trial budget is used up.
	ErrTooManyRequests = errors.New("too many requests")
)

// Settings holds the configuration for a circuit breaker
type Settings struct {
	Name string
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval is the window after which a closed breaker forgets old failures.
	Interval time.Duration
	// Timeout is how long the breaker stays open before allowing a trial.
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	// OnStateChange runs with the breaker locked and must not call back into it.
	OnStateChange func(name string, from State, to State)
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Counts is a snapshot of the breaker counters. They are reset when the
// breaker closes or goes half-open, and when the closed-state failure window
// expires.
type Counts struct {
	Failures  uint32
	Successes uint32
	Requests  uint32
}

// CircuitBreaker is a three-state breaker. It is safe for concurrent use.
type CircuitBreaker struct {
	settings Settings

	mu          sync.Mutex
	state       State
	counts      Counts
	lastFailure time.Time
	openUntil   time.Time
}

// New creates a circuit breaker, filling zero settings with defaults.
func New(settings Settings) *CircuitBreaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval == 0 {
		settings.Interval = time.Minute
	}
	if settings.Timeout == 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = 1
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &CircuitBreaker{settings: settings, state: StateClosed}
}

// Execute runs fn unless the breaker is open. The lock is not held while fn runs.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.after(false)
			panic(r)
		}
	}()

	err := fn()
	cb.after(err == nil)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.settings.Now()
	switch cb.state {
	case StateClosed:
		if !cb.lastFailure.IsZero() && now.Sub(cb.lastFailure) > cb.settings.Interval {
			cb.counts = Counts{}
		}
		cb.counts.Requests++
		return nil
	case StateOpen:
		if now.Before(cb.openUntil) {
			return ErrOpen
		}
		cb.setState(StateHalfOpen)
		cb.counts = Counts{}
	}

	// half-open
	if cb.counts.Requests >= cb.settings.MaxRequests {
		return ErrTooManyRequests
	}
	cb.counts.Requests++
	return nil
}

func (cb *CircuitBreaker) after(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.settings.Now()
	if success {
		cb.counts.Successes++
		if cb.state == StateHalfOpen {
			if cb.counts.Successes >= cb.settings.SuccessThreshold {
				cb.setState(StateClosed)
				cb.counts = Counts{}
			}
		}
		return
	}

	cb.lastFailure = now
	cb.counts.Failures++
	switch cb.state {
	case StateClosed:
		if cb.counts.Failures >= cb.settings.FailureThreshold {
			cb.trip(now)
		}
	case StateHalfOpen:
		cb.trip(now)
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.setState(StateOpen)
	cb.openUntil = now.Add(cb.settings.Timeout)
}

func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, prev, state)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// Counts returns the current counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}
