package clients

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"nkrypt-xyz/bootstrapper/internal/orchestrator"
)

// NewCircuitBreaker returns a gobreaker configured to trip after 3 consecutive
// failures and reset after 30 seconds in the open state.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// guardedProbe runs check inside cb and converts the outcome into a
// ProbeResult. An open breaker is reported as "circuit open".
func guardedProbe(cb *gobreaker.CircuitBreaker, name string, check func() error) orchestrator.ProbeResult {
	start := time.Now()

	_, err := cb.Execute(func() (any, error) {
		return nil, check()
	})

	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return orchestrator.ProbeResult{
			Name:      name,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}

	return orchestrator.ProbeResult{
		Name:      name,
		OK:        true,
		LatencyMs: latency,
	}
}
