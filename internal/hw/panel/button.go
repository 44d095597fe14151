// Package panel is the optional hardware front end: one push-button that
// starts or stops discovery and one LED that shows the link state.
package panel

import (
	"context"
	"time"

	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/hw/gpio"
)

// LongPress is how long the button must be held to disconnect instead of
// toggling discovery.
const LongPress = 2 * time.Second

// Actions is what the button drives.
type Actions interface {
	BeginDiscovery()
	Disconnect()
}

// Button samples an active-low push-button wired to ground with the internal
// pull-up enabled.
type Button struct {
	gpio     gpio.Driver
	pin      int
	poll     time.Duration
	debounce time.Duration
	actions  Actions

	// debouncer state, owned by Run
	stable    gpio.Level
	candidate gpio.Level
	since     time.Time
	pressedAt time.Time
}

func NewButton(g gpio.Driver, pin int, poll, debounce time.Duration, actions Actions) (*Button, error) {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, err
	}
	return &Button{
		gpio:      g,
		pin:       pin,
		poll:      poll,
		debounce:  debounce,
		actions:   actions,
		stable:    gpio.High,
		candidate: gpio.High,
	}, nil
}

// Run polls the pin until ctx is done.
func (b *Button) Run(ctx context.Context) {
	debug.Info("Panel button active", "pin", b.pin, "poll", b.poll, "debounce", b.debounce)
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			lvl, err := b.gpio.ReadPin(b.pin)
			if err != nil {
				debug.Error("read button", err, "pin", b.pin)
				continue
			}
			b.sample(now, lvl)
		}
	}
}

// sample feeds one reading to the debouncer and fires the action on release.
func (b *Button) sample(now time.Time, lvl gpio.Level) {
	if lvl != b.candidate {
		b.candidate = lvl
		b.since = now
		return
	}
	if lvl == b.stable || now.Sub(b.since) < b.debounce {
		return
	}
	b.stable = lvl
	if lvl == gpio.Low {
		b.pressedAt = b.since
		debug.Verbose("button pressed", "pin", b.pin)
		return
	}
	held := b.since.Sub(b.pressedAt)
	if held >= LongPress {
		debug.Live("button long press, disconnecting", "held", held)
		b.actions.Disconnect()
		return
	}
	debug.Live("button press, toggling discovery")
	b.actions.BeginDiscovery()
}
