package client

import (
	"errors"
	"sync"
	"time"

	ews "github.com/smnsjas/go-ews"
	"github.com/smnsjas/go-ews/soap"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// StateClosed lets calls through.
	StateClosed CircuitState = iota
	// StateOpen fails calls fast.
	StateOpen
	// StateHalfOpen lets a probe through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

// ErrCircuitOpen is returned by Run while the breaker is open. It has kind
// ews.KindNetwork.
var ErrCircuitOpen = ews.Errorf(ews.KindNetwork, "client", "circuit breaker is open")

// CircuitBreakerPolicy configures the circuit breaker.
type CircuitBreakerPolicy struct {
	// FailureThreshold is the number of consecutive server failures that
	// opens the circuit.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe.
	ResetTimeout time.Duration

	// OnStateChange is called asynchronously on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerPolicy opens after 5 failures for 30s.
func DefaultCircuitBreakerPolicy() *CircuitBreakerPolicy {
	return &CircuitBreakerPolicy{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// CircuitBreaker stops calls to a server that keeps failing at the network
// or HTTP level. Authentication failures, SOAP faults and configuration
// errors say nothing about server health and are not counted.
type CircuitBreaker struct {
	mu sync.Mutex

	state       CircuitState
	failures    int
	lastFailure time.Time

	threshold     int
	timeout       time.Duration
	now           func() time.Time
	onStateChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a breaker. A nil policy disables it.
func NewCircuitBreaker(policy *CircuitBreakerPolicy) *CircuitBreaker {
	if policy == nil {
		return nil
	}
	threshold := policy.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold:     threshold,
		timeout:       policy.ResetTimeout,
		now:           time.Now,
		onStateChange: policy.OnStateChange,
	}
}

// Execute runs fn unless the circuit is open. A nil breaker always runs fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb == nil {
		return fn()
	}
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	if cb == nil {
		return StateClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) < cb.timeout {
			return ErrCircuitOpen
		}
		cb.transitionLocked(StateHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !countsAsFailure(err) {
		if cb.state == StateHalfOpen {
			cb.transitionLocked(StateClosed)
		}
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		cb.transitionLocked(StateOpen)
	}
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(from, to)
	}
}

// countsAsFailure reports whether err says the server is unhealthy.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	switch ews.KindOf(err) {
	case ews.KindNetwork:
		return true
	case ews.KindRemote:
		// 5xx without a SOAP fault
		return !soap.IsFault(err)
	}
	return false
}
