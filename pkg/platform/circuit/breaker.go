// Package circuit provides a small circuit breaker for calls to remote collaborators.
package circuit

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single trial call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker opens after FailureThreshold consecutive failures. Once the cooldown
// has elapsed it admits one trial call; a successful trial closes the circuit and a
// failed one re-opens it.
type Breaker struct {
	mu               sync.Mutex
	state            State
	name             string
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	now              func() time.Time
	onChange         func(name string, from, to State)
}

// Option configures a Breaker instance.
type Option func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures to open the circuit.
// Default is 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before probing. Default is 10s.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithStateChange registers a callback invoked on every transition, outside the lock.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// New creates a circuit breaker with the given name and options.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		cooldown:         10 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name returns the circuit breaker's name for logging/metrics.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false
		}
		b.transition(StateHalfOpen)
		return true
	default:
		// a trial call is already in flight
		b.mu.Unlock()
		return false
	}
}

// Record reports the outcome of an allowed call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	if err == nil {
		b.failureCount = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
			return
		}
		b.mu.Unlock()
		return
	}

	b.failureCount++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failureCount >= b.failureThreshold) {
		b.openedAt = b.now()
		b.transition(StateOpen)
		return
	}
	b.mu.Unlock()
}

// Reset closes the circuit and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failureCount = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
		return
	}
	b.mu.Unlock()
}

// transition must be called with mu held and releases it.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	cb := b.onChange
	b.mu.Unlock()
	if cb != nil && from != to {
		cb(b.name, from, to)
	}
}
