// Package resilience guards the speech providers used during a rehearsal.
//
// Every backend sits behind a [CircuitBreaker]. A [FallbackGroup] orders the
// backends of one kind, and [STTFallback] and [TTSFallback] present a group
// as an ordinary provider, so a flaky transcription service degrades to the
// next configured one instead of failing each attempt of the speaker.
//
// Breaker transitions are reported through
// [CircuitBreakerConfig.OnStateChange]; the application turns them into
// metrics and readiness.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successful probes close the breaker; one failure opens it again.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values select the
// defaults noted on each field.
type CircuitBreakerConfig struct {
	// Name identifies the guarded backend in logs and callbacks.
	Name string `yaml:"-"`

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the number of probes allowed while half-open, and the
	// number of successes needed to close. Default: 3.
	HalfOpenMax int `yaml:"half_open_max"`

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// Now replaces time.Now, for tests.
	Now func() time.Time `yaml:"-"`
}

// CircuitBreaker is a three-state circuit breaker.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	openedAt  time.Time
	probes    int // admitted while half-open
	probeWins int
}

// NewCircuitBreaker returns a closed [CircuitBreaker].
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured backend name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the breaker rejects the call with
// [ErrCircuitOpen]. A context error from fn counts neither way: a speaker
// hanging up says nothing about the backend.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may run and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var change func()
	defer func() {
		cb.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		change = cb.moveLocked(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle books the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	var change func()
	defer func() {
		cb.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	if probe && cb.state != StateHalfOpen {
		// Another probe already decided the outcome.
		return
	}

	switch {
	case isContextErr(err):
		if probe {
			cb.probes--
		}
	case err != nil && probe:
		change = cb.moveLocked(StateOpen)
	case err != nil:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			change = cb.moveLocked(StateOpen)
		}
	case probe:
		cb.probeWins++
		if cb.probeWins >= cb.cfg.HalfOpenMax {
			change = cb.moveLocked(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

// moveLocked switches to state to and resets the counters that belong to
// it. It returns the deferred notification, or nil when nothing changed.
func (cb *CircuitBreaker) moveLocked(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
	case StateHalfOpen:
		cb.probes, cb.probeWins = 0, 0
	case StateClosed:
		cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	}

	log := slog.With("name", cb.cfg.Name, "from", from.String(), "to", to.String())
	if to == StateOpen {
		log.Warn("circuit breaker opened", "consecutive_failures", cb.failures)
	} else {
		log.Info("circuit breaker state changed")
	}

	notify := cb.cfg.OnStateChange
	if notify == nil {
		return nil
	}
	name := cb.cfg.Name
	return func() { notify(name, from, to) }
}

// State returns the breaker's state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.moveLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	if change != nil {
		change()
	}
}
