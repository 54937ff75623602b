// Package circuitbreaker stops calling a failing dependency for a cool-down
// period. The engine uses it around Redis event publishing so a Redis outage
// degrades to local-only delivery instead of stalling every unlock.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
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
	}
	return "unknown"
}

// ErrCircuitOpen is returned while the breaker rejects calls, including
// while a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// IsRejected reports whether err came from the breaker rather than the call.
func IsRejected(err error) bool { return errors.Is(err, ErrCircuitOpen) }

type settings struct {
	failures  int
	cooldown  time.Duration
	onChange  func(name string, from, to State)
	isFailure func(error) bool
}

// Option configures a breaker.
type Option func(*settings)

// WithFailureThreshold opens the circuit after n consecutive failures.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failures = n
		}
	}
}

// WithTimeout sets how long the circuit stays open before one probe.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onChange = fn }
}

// WithIsFailure decides which errors count against the circuit.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// countsAgainst is the default filter: a cancelled caller says nothing about
// the dependency.
func countsAgainst(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker is safe for concurrent use. In half-open state exactly one
// probe is let through; its outcome closes or reopens the circuit.
type CircuitBreaker struct {
	name string
	cfg  settings
	now  func() time.Time

	mu       sync.Mutex
	state    State
	streak   int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker: 5 failures, 30s cool-down.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{failures: 5, cooldown: 30 * time.Second, isFailure: countsAgainst}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
}

// Execute calls fn unless the circuit rejects it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	cb.settle(probe, callErr != nil && cb.cfg.isFailure(callErr))
	return callErr
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.cooldown {
			return false, ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) settle(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
		if failed {
			cb.moveTo(StateOpen)
		} else {
			cb.moveTo(StateClosed)
		}
		return
	}
	if !failed {
		cb.streak = 0
		return
	}
	cb.streak++
	if cb.state == StateClosed && cb.streak >= cb.cfg.failures {
		cb.moveTo(StateOpen)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.streak = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if cb.cfg.onChange != nil {
		cb.cfg.onChange(cb.name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// EventBusBreaker guards publishing to the shared event channel: three
// failures open it for 15 seconds.
func EventBusBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("redis-eventbus",
		WithFailureThreshold(3),
		WithTimeout(15*time.Second),
		WithOnStateChange(onStateChange),
	)
}
