package ble

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"tinygo.org/x/bluetooth"

	"github.com/cjeanneret/RotaGo/internal/debug"
)

// newConnectBreaker fails connects fast once maxFailures consecutive attempts
// failed, until timeout has passed.
func newConnectBreaker(maxFailures uint32, timeout time.Duration) *gobreaker.CircuitBreaker[bluetooth.Device] {
	return gobreaker.NewCircuitBreaker[bluetooth.Device](gobreaker.Settings{
		Name:        "ble:connect",
		MaxRequests: 1, // one probe in half-open state
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			debug.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func breakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
