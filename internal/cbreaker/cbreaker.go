// Package cbreaker stops calling a member that keeps failing and tries it
// again after a reset timeout.
package cbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shrtyk/logstream-core/api"
)

var (
	ErrOpenState = errors.New("circuit breaker is in open state")
)

type State int

const (
	_ State = iota
	Closed
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type CircuitBreaker struct {
	mu    sync.RWMutex
	state State
	now   func() time.Time

	consecutiveFailures  int
	consecutiveSuccesses int

	failureThreshold int
	successThreshold int

	resetTimeout time.Duration
	nextTrialAt  time.Time

	// isFailure decides which errors count against the member.
	isFailure func(error) bool
}

func NewCircuitBreaker(cfg api.CircuitBreakerCfg) *CircuitBreaker {
	return &CircuitBreaker{
		state:            Closed,
		now:              time.Now,
		failureThreshold: max(cfg.FailureThreshold, 1),
		successThreshold: max(cfg.SuccessThreshold, 1),
		resetTimeout:     cfg.ResetTimeout,
		isFailure:        func(err error) bool { return !errors.Is(err, context.Canceled) },
	}
}

type rpcCall[Response any] func(context.Context) (Response, error)

// Do runs the given rpcCall protected by the circuit breaker.
// Calls cancelled by the caller do not count as failures.
func Do[Response any](ctx context.Context, cb *CircuitBreaker, req rpcCall[Response]) (resp Response, err error) {
	cb.mu.Lock()
	if cb.state == Open {
		if cb.now().Before(cb.nextTrialAt) {
			cb.mu.Unlock()
			return resp, ErrOpenState
		}
		cb.state = HalfOpen
		cb.consecutiveSuccesses = 0
	}
	cb.mu.Unlock()

	resp, err = req(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.isFailure(err) {
		cb.consecutiveSuccesses = 0
		if cb.state == HalfOpen {
			cb.open()
		} else {
			cb.consecutiveFailures++
			if cb.consecutiveFailures >= cb.failureThreshold {
				cb.open()
			}
		}
		return
	}
	if err != nil {
		return
	}

	if cb.state == HalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.successThreshold {
			cb.reset()
		}
	} else {
		cb.consecutiveFailures = 0
	}

	return
}

// IsClosed reports whether calls are let through, trial calls included.
func (cb *CircuitBreaker) IsClosed() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == Closed || cb.state == HalfOpen ||
		(cb.state == Open && !cb.now().Before(cb.nextTrialAt))
}

func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) open() {
	cb.state = Open
	cb.nextTrialAt = cb.now().Add(cb.resetTimeout)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}

func (cb *CircuitBreaker) reset() {
	cb.state = Closed
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}
