package httpsession

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 4
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultSuccessThreshold = 1
)

// CircuitState is the state of a session's circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "closed"
}

func circuitStateFrom(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	}
	return StateClosed
}

// errUpstreamServer marks a 5xx response as a failure for the breaker.
// It never leaves the breaker.
var errUpstreamServer = errors.New("upstream server error")

// circuitBreaker adapts gobreaker to responses: transport errors and 5xx
// statuses count as failures, caller cancellation does not count at all.
type circuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// withDefaults fills zero fields of config.
func (config CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = DefaultSuccessThreshold
	}
	return config
}

func newCircuitBreaker(config CircuitBreakerConfig, onChange func(name string, from, to CircuitState)) *circuitBreaker {
	config = config.withDefaults()
	threshold := uint32(config.FailureThreshold)

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: uint32(config.SuccessThreshold),
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	if onChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			onChange(name, circuitStateFrom(from), circuitStateFrom(to))
		}
	}

	return &circuitBreaker{name: config.Name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// execute runs fn unless the circuit is open. A 5xx response is recorded as
// a failure but still returned to the caller with a nil error.
func (b *circuitBreaker) execute(fn func() (*http.Response, error)) (*http.Response, error) {
	var resp *http.Response
	_, err := b.cb.Execute(func() (interface{}, error) {
		r, err := fn()
		if err != nil {
			return nil, err
		}
		resp = r
		if r.StatusCode >= http.StatusInternalServerError {
			return r, errUpstreamServer
		}
		return r, nil
	})
	if errors.Is(err, errUpstreamServer) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// State returns the current state.
func (b *circuitBreaker) State() CircuitState {
	return circuitStateFrom(b.cb.State())
}
