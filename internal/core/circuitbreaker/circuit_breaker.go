// Package circuitbreaker guards calls to remote dependencies.
//
// Breaker is the three-state breaker in front of the agent registry: it opens
// after a run of failures and backs off exponentially between probes.
// HostBreakers keeps one gobreaker instance per remote host for outbound
// webhook traffic.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/metrics"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func (s State) gauge() int {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}

const (
	DefaultThreshold       = 3
	DefaultRecoveryTimeout = 60 * time.Second
	DefaultMaxRecovery     = 600 * time.Second
)

type Options struct {
	Threshold       int
	RecoveryTimeout time.Duration
	MaxRecovery     time.Duration
	Now             func() time.Time
}

// Breaker trips after Threshold consecutive failures. Each time it opens the
// recovery timeout doubles, up to MaxRecovery; a successful probe resets it.
type Breaker struct {
	name      string
	threshold int
	base      time.Duration
	max       time.Duration
	now       func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	lastFailure     time.Time
	recoveryTimeout time.Duration
	// trialInFlight is set while the single half-open trial call is pending.
	trialInFlight bool
}

// New creates a breaker with default settings
func New(name string) *Breaker {
	return NewWithOptions(name, Options{})
}

func NewWithOptions(name string, opts Options) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if opts.MaxRecovery <= 0 {
		opts.MaxRecovery = DefaultMaxRecovery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Breaker{
		name:            name,
		threshold:       opts.Threshold,
		base:            opts.RecoveryTimeout,
		max:             opts.MaxRecovery,
		now:             opts.Now,
		state:           StateClosed,
		recoveryTimeout: opts.RecoveryTimeout,
	}
	metrics.SetBreakerState(name, StateClosed.gauge())
	return b
}

// CanExecute reports whether a call may proceed. An open breaker whose
// recovery timeout has elapsed moves to half-open and admits exactly one
// trial call; later calls are refused until that trial records an outcome.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.setState(StateHalfOpen)
			b.trialInFlight = true
			return true
		}
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false
	b.failures = 0
	b.recoveryTimeout = b.base
	b.setState(StateClosed)
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false
	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.open()
	}
}

// open must be called with mu held.
func (b *Breaker) open() {
	b.setState(StateOpen)
	b.recoveryTimeout = min(b.recoveryTimeout*2, b.max)
	logger.Warn("Circuit breaker opened",
		"name", b.name, "failures", b.failures, "retry_in", b.recoveryTimeout)
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	logger.Info("Circuit breaker state changed", "name", b.name, "from", b.state, "to", s)
	b.state = s
	metrics.SetBreakerState(b.name, s.gauge())
}

// Execute runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if !b.CanExecute() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// RecoveryTimeout is the wait applied the next time the breaker is open.
func (b *Breaker) RecoveryTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recoveryTimeout
}
