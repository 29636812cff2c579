package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State of a breaker: closed passes calls through, open fails them fast,
// half-open lets a few probes decide which way to go.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker guards calls to a remote endpoint. After maxFailures
// consecutive failures it opens and rejects calls until cooldown has
// passed, then admits a handful of probes before closing again.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeQuota  int
	logger      *logrus.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
}

func New(name string, maxFailures int, cooldown time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		probeQuota:  3,
		logger:      logger,
	}
}

// Execute runs fn if the breaker admits the call, recording the outcome.
// A rejected call returns *OpenError without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return &OpenError{Name: cb.name, State: cb.State()}
	}

	if err := fn(ctx); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.maybeHalfOpenLocked() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probes < cb.probeQuota {
			cb.probes++
			return true
		}
		return false
	default:
		return false
	}
}

// maybeHalfOpenLocked moves an open breaker to half-open once the
// cooldown has elapsed. Callers must hold mu.
func (cb *CircuitBreaker) maybeHalfOpenLocked() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cooldown {
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.successes = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           cb.state.String(),
		}).Info("Circuit breaker transitioned to half-open")
	}
	return cb.state
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.probeQuota {
		cb.state = StateClosed
		cb.failures = 0
		cb.probes = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           cb.state.String(),
		}).Info("Circuit breaker closed after successful recovery")
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.maxFailures) {
		cb.state = StateOpen
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"failures":        cb.failures,
			"state":           cb.state.String(),
		}).Warn("Circuit breaker opened due to failures")
	}
}

// State returns the current state, promoting open to half-open when the
// cooldown has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.maybeHalfOpenLocked()
}

// OpenError is returned when the breaker rejects a call without
// attempting it.
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s", e.Name, e.State)
}

// IsOpenError reports whether err is a breaker rejection rather than a
// failure of the guarded call itself.
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}
