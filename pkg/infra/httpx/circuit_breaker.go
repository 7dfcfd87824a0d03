package httpx

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreaker fails calls fast while open. It never retries.
type CircuitBreaker interface {
	Execute(fn func() error) error
}

type circuitBreakerWrapper struct {
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreaker opens after maxFailures consecutive failures and probes
// again once timeout has elapsed. Errors accepted by isSuccessful (e.g.
// business errors) do not count as failures.
func NewCircuitBreaker(name string, timeout time.Duration, maxFailures uint32, isSuccessful ...func(error) bool) CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	if len(isSuccessful) > 0 && isSuccessful[0] != nil {
		settings.IsSuccessful = isSuccessful[0]
	}
	return &circuitBreakerWrapper{
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *circuitBreakerWrapper) Execute(fn func() error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		return fmt.Errorf("breaker (%s): %w", g.breaker.Name(), err)
	}
	return nil
}

// IsOpen reports whether err was produced by an open (or saturated half-open)
// breaker rather than by the wrapped call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
