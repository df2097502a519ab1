package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the template for the breaker of each backend in a
// [FallbackGroup]. Its Name is replaced by the backend name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// BackendStatus describes one backend of a [FallbackGroup].
type BackendStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type backend[T any] struct {
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries backends of one type in registration order, skipping
// those whose breaker is open.
//
// Backends are registered during setup; AddFallback must not race with
// calls.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

// NewFallbackGroup returns a group whose preferred backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend tried after every one registered before it.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.backends = append(fg.backends, backend[T]{value: value, breaker: NewCircuitBreaker(cbCfg)})
}

// Execute runs fn against the backends in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against the backends of fg in order and returns
// the first successful result. When all fail, the error wraps
// [ErrAllFailed] and the last backend error. A context error stops the walk
// and is returned as is.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, b := range fg.backends {
		var result R
		err := b.breaker.Execute(func() error {
			var err error
			result, err = fn(b.value)
			return err
		})
		switch {
		case err == nil:
			return result, nil
		case isContextErr(err):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("provider skipped, circuit open", "provider", b.breaker.Name())
		default:
			slog.Warn("provider failed, trying next", "provider", b.breaker.Name(), "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Status reports every backend's breaker state in registration order.
func (fg *FallbackGroup[T]) Status() []BackendStatus {
	out := make([]BackendStatus, len(fg.backends))
	for i, b := range fg.backends {
		out[i] = BackendStatus{Name: b.breaker.Name(), State: b.breaker.State().String()}
	}
	return out
}

// Available reports whether at least one backend would accept a call.
func (fg *FallbackGroup[T]) Available() bool {
	for _, b := range fg.backends {
		if b.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// isContextErr reports whether err stems from the caller giving up rather than
// from the provider.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
