package embedding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker is in open state
// and rejects requests to prevent cascading failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds the configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxFailures is the number of consecutive failures required to trip the circuit.
	// Default: 3
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before transitioning to half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes required in half-open
	// state to close the circuit again.
	// Default: 2
	HalfOpenMaxSuccesses uint32

	// Logger receives state transitions. Defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker wraps gobreaker to protect remote embedding calls.
//
// After MaxFailures consecutive failures the circuit opens and rejects calls
// until Timeout elapses; it then lets HalfOpenMaxSuccesses trial calls through
// before closing again. Calls abandoned because the caller's own context
// ended are not failures of the provider and do not count towards tripping.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	config  CircuitBreakerConfig
}

// NewCircuitBreaker creates a circuit breaker with default settings.
func NewCircuitBreaker(name string, logger *slog.Logger) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		Name:                 name,
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
		Logger:               logger,
	})
}

// NewCircuitBreakerWithConfig creates a new circuit breaker with custom configuration.
func NewCircuitBreakerWithConfig(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxSuccesses == 0 {
		config.HalfOpenMaxSuccesses = 2
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Name == "" {
		config.Name = "embedding"
	}

	cb := &CircuitBreaker{config: config}

	logger := config.Logger
	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.HalfOpenMaxSuccesses,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			var abandoned callerDoneError
			return err == nil || errors.As(err, &abandoned)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return cb
}

// callerDoneError wraps the error of a call whose caller gave up first.
type callerDoneError struct{ err error }

func (e callerDoneError) Error() string { return e.err.Error() }
func (e callerDoneError) Unwrap() error { return e.err }

// Execute runs fn through the circuit breaker. An open circuit yields
// ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() ([]float32, error)) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := cb.breaker.Execute(func() (interface{}, error) {
		vec, err := fn()
		if err != nil && ctx.Err() != nil {
			return nil, callerDoneError{err: err}
		}
		return vec, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		var abandoned callerDoneError
		if errors.As(err, &abandoned) {
			return nil, abandoned.err
		}
		return nil, err
	}
	return result.([]float32), nil
}

// State returns "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	switch cb.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
