// Package circuitbreaker implements a consecutive-failure circuit breaker
// used to fence off the external scoring service.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
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

// ErrCircuitOpen is returned when the circuit is open and calls are rejected.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings for circuit breaker behavior
type Settings struct {
	// FailureThreshold: consecutive failures that open the circuit
	FailureThreshold int
	// SuccessThreshold: consecutive successes that close it from half-open
	SuccessThreshold int
	// OpenTimeout: duration to stay open before probing with half-open
	OpenTimeout time.Duration
	// OnStateChange: optional callback on transitions
	OnStateChange func(from, to State)
}

// DefaultSettings returns settings tuned for an advisory downstream: fail fast
// after a short burst of errors, probe again after 30s.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	settings Settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New creates a breaker in the closed state.
func New(settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = DefaultSettings().SuccessThreshold
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultSettings().OpenTimeout
	}
	return &Breaker{settings: settings, state: StateClosed}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

// State returns the current state, transitioning open→half-open when the
// open timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	if b.state == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.settings.OpenTimeout {
		b.transition(StateHalfOpen)
		b.successes = 0
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.settings.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.successes = 0
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.settings.FailureThreshold {
		b.transition(StateOpen)
		b.openedAt = time.Now()
		b.failures = 0
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(from, to)
	}
}
