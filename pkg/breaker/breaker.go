// Package breaker builds the circuit breakers guarding remote services.
package breaker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Settings trips after more than five consecutive failures, or when at
// least 60% of ten or more requests in the interval failed.
func Settings(name string, log zerolog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
}

func New(name string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(Settings(name, log))
}
