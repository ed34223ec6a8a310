package moodle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerSettings are the circuit breaker thresholds.
type BreakerSettings struct {
	// MinRequests is the number of requests in a window before the failure
	// ratio is considered.
	MinRequests uint32

	// FailureRatio opens the circuit when reached.
	FailureRatio float64

	// ConsecutiveFailures opens the circuit regardless of the ratio.
	ConsecutiveFailures uint32

	// Interval resets the counts while closed.
	Interval time.Duration

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
}

// DefaultBreakerSettings returns the thresholds used by New.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:         10,
		FailureRatio:        0.6,
		ConsecutiveFailures: 5,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
	}
}

type breaker struct {
	cb *gobreaker.CircuitBreaker[[]byte]
}

func newBreaker(s BreakerSettings, logger *slog.Logger) *breaker {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "moodle-webservice",
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if s.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= s.ConsecutiveFailures {
				return true
			}
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		// Exceptions reported by Moodle and cancellations say nothing about
		// the health of the server.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"name", name,
				"from", stateToString(from),
				"to", stateToString(to))
		},
	})
	return &breaker{cb: cb}
}

func (b *breaker) execute(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return body, err
}

func (b *breaker) state() string {
	return stateToString(b.cb.State())
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
