package ble

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"tinygo.org/x/bluetooth"
)

func TestConnectBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := newConnectBreaker(2, time.Minute)
	dial := errors.New("le-connection-abort-by-local")
	fail := func() (bluetooth.Device, error) { return bluetooth.Device{}, dial }

	_, err := cb.Execute(fail)
	assert.ErrorIs(t, err, dial)
	assert.False(t, breakerOpen(err))
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	_, err = cb.Execute(fail)
	assert.ErrorIs(t, err, dial)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	_, err = cb.Execute(func() (bluetooth.Device, error) {
		called = true
		return bluetooth.Device{}, nil
	})
	assert.True(t, breakerOpen(err))
	assert.False(t, called, "open breaker must not dial")
}

func TestConnectBreaker_SuccessResetsCount(t *testing.T) {
	cb := newConnectBreaker(2, time.Minute)
	fail := func() (bluetooth.Device, error) { return bluetooth.Device{}, errors.New("timeout") }
	ok := func() (bluetooth.Device, error) { return bluetooth.Device{}, nil }

	_, _ = cb.Execute(fail)
	_, err := cb.Execute(ok)
	assert.NoError(t, err)
	_, _ = cb.Execute(fail)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
