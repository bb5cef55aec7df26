// Package recovery implements a circuit breaker used to stop the event loop
// from hammering a wedged bus broker: after enough consecutive failures it
// fails fast until a cooldown elapses, then lets probe calls through while
// half-open; the first successful probe closes it again and a failed one
// reopens it.
package recovery

import (
	"fmt"
	"sync"
	"time"
)

type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig configures a CircuitBreaker; zero values fall back
// to the defaults noted per field.
type CircuitBreakerConfig struct {
	MaxFailures      int           // default 5
	Timeout          time.Duration // default 30s
	HalfOpenMaxTries int           // default 3
}

// CircuitBreaker implements the standard closed/open/half-open pattern.
type CircuitBreaker struct {
	maxFailures      int
	timeout          time.Duration
	halfOpenMaxTries int

	mu               sync.Mutex
	state            CircuitState
	failures         int
	lastFailureTime  time.Time
	halfOpenAttempts int
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxTries == 0 {
		cfg.HalfOpenMaxTries = 3
	}
	return &CircuitBreaker{
		maxFailures:      cfg.MaxFailures,
		timeout:          cfg.Timeout,
		halfOpenMaxTries: cfg.HalfOpenMaxTries,
		state:            StateClosed,
	}
}

// Call runs fn if the circuit allows it, and records the outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.state = StateHalfOpen
			cb.halfOpenAttempts = 0
			return nil
		}
		return fmt.Errorf("circuit breaker is OPEN (failed %d times, retry in %s)",
			cb.failures, time.Until(cb.lastFailureTime.Add(cb.timeout)).Round(time.Second))
	case StateHalfOpen:
		if cb.halfOpenAttempts >= cb.halfOpenMaxTries {
			return fmt.Errorf("circuit breaker is HALF-OPEN (max probe attempts reached)")
		}
		cb.halfOpenAttempts++
		return nil
	default:
		return fmt.Errorf("circuit breaker in unknown state")
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailureTime = time.Now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}

	cb.failures = 0
	cb.state = StateClosed
	cb.halfOpenAttempts = 0
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenAttempts = 0
}
