package panel

import (
	"sync"
	"time"

	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/hw/gpio"
	"github.com/cjeanneret/RotaGo/internal/rotator"
)

// LED mirrors the coordinator status: blinking while scanning or connecting,
// steady while connected, dark otherwise.
type LED struct {
	rotator.NopObserver

	gpio  gpio.Driver
	pin   int
	blink time.Duration

	mu   sync.Mutex
	stop chan struct{} // non-nil while blinking
	wg   sync.WaitGroup
}

func NewLED(g gpio.Driver, pin int, blink time.Duration) (*LED, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, err
	}
	return &LED{gpio: g, pin: pin, blink: blink}, nil
}

func (l *LED) UpdateStatus(st rotator.Status) {
	switch st.Kind {
	case rotator.StatusScanning, rotator.StatusConnecting:
		l.startBlink()
	case rotator.StatusConnected:
		l.set(gpio.High)
	default:
		l.set(gpio.Low)
	}
}

func (l *LED) set(level gpio.Level) {
	l.stopBlink()
	if err := l.gpio.WritePin(l.pin, level); err != nil {
		debug.Error("write led", err, "pin", l.pin)
	}
}

func (l *LED) startBlink() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	stop := make(chan struct{})
	l.stop = stop
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.blink)
		defer ticker.Stop()
		level := gpio.High
		for {
			_ = l.gpio.WritePin(l.pin, level)
			level = !level
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (l *LED) stopBlink() {
	l.mu.Lock()
	stop := l.stop
	l.stop = nil
	l.mu.Unlock()
	if stop != nil {
		close(stop)
		l.wg.Wait()
	}
}

// Close stops blinking and turns the LED off.
func (l *LED) Close() {
	l.set(gpio.Low)
}
