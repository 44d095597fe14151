// Package simulator is an in-process rotator SDK for development without
// hardware. Devices, delays and failures come from the configuration.
package simulator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/RotaGo/internal/config"
	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/sdk"
)

// PermissionDenied as scan_error makes BeginScan succeed and then report a
// refused Bluetooth permission through the delegates.
const PermissionDenied = "permission_denied"

var scanErrors = map[string]error{
	"license_not_provided":             sdk.ErrLicenseNotProvided,
	"invalid_license_key":              sdk.ErrInvalidLicenseKey,
	"expired_license_key":              sdk.ErrExpiredLicenseKey,
	"cannot_read_license_key_file":     sdk.ErrCannotReadLicenseKeyFile,
	"bluetooth_off":                    sdk.ErrBluetoothOff,
	"bluetooth_permission_not_allowed": sdk.ErrBluetoothPermissionNotAllowed,
	"tracking_mode_not_supported":      sdk.ErrTrackingModeNotSupported,
	"feedback_not_supported":           sdk.ErrFeedbackNotSupported,
	"rotator_not_connected":            sdk.ErrRotatorNotConnected,
}

// defaultSpeed is the seconds-per-round a fresh rotator turns at; maxSpeed is
// what SetMaxSpeed selects.
const (
	defaultSpeed = 10
	maxSpeed     = 1
)

// Simulator implements sdk.SDK.
type Simulator struct {
	reg          *sdk.Registry
	rotators     []config.SimulatedRotator
	discovery    time.Duration
	connectDelay time.Duration
	failConnect  bool
	scanErr      error
	denyScan     bool
	firmware     string

	mu         sync.Mutex
	scanGen    int
	scanning   bool
	connecting string
	connected  string
	battery    int
	speed      int
	heading    int
	spinning   bool
	timers     map[*time.Timer]struct{}
	closed     bool
}

// New builds a simulator. Rotators without an id get a random UUID.
func New(cfg config.SimulatorConfig) (*Simulator, error) {
	s := &Simulator{
		reg:          sdk.NewRegistry(),
		discovery:    time.Duration(cfg.DiscoveryMs) * time.Millisecond,
		connectDelay: time.Duration(cfg.ConnectDelayMs) * time.Millisecond,
		failConnect:  cfg.FailConnect,
		firmware:     cfg.Firmware,
		battery:      cfg.Battery,
		speed:        defaultSpeed,
		timers:       make(map[*time.Timer]struct{}),
	}
	switch cfg.ScanError {
	case "":
	case PermissionDenied:
		s.denyScan = true
	default:
		err, ok := scanErrors[cfg.ScanError]
		if !ok {
			return nil, fmt.Errorf("unknown simulated scan_error %q", cfg.ScanError)
		}
		s.scanErr = err
	}
	for _, r := range cfg.Rotators {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.Name == "" {
			short := r.ID
			if len(short) > 4 {
				short = short[:4]
			}
			r.Name = "Pivo-" + short
		}
		s.rotators = append(s.rotators, r)
	}
	debug.Info("simulated SDK ready", "rotators", len(s.rotators), "scan_error", cfg.ScanError)
	return s, nil
}

func (s *Simulator) Delegates() *sdk.Registry { return s.reg }

// after runs fn on its own goroutine after d, unless Close runs first.
// Callers hold s.mu.
func (s *Simulator) after(d time.Duration, fn func()) {
	if s.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[t]
		delete(s.timers, t)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	s.timers[t] = struct{}{}
}

func (s *Simulator) BeginScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanErr != nil {
		return s.scanErr
	}
	s.scanGen++
	s.scanning = true
	if s.denyScan {
		s.after(s.discovery, s.reg.BluetoothPermissionDenied)
		return nil
	}
	gen := s.scanGen
	for i, r := range s.rotators {
		r := r
		s.after(s.discovery*time.Duration(i+1), func() {
			s.mu.Lock()
			live := s.scanning && s.scanGen == gen
			s.mu.Unlock()
			if live {
				s.reg.DeviceDiscovered(r.ID, r.Name)
			}
		})
	}
	return nil
}

func (s *Simulator) StopScan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanning = false
}

func (s *Simulator) Connect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = id
	s.after(s.connectDelay, func() {
		s.mu.Lock()
		if s.connecting != id {
			s.mu.Unlock()
			return
		}
		s.connecting = ""
		ok := !s.failConnect && s.known(id)
		if ok {
			s.connected = id
			s.speed = defaultSpeed
		}
		s.mu.Unlock()

		if !ok {
			s.reg.ConnectFailed(id)
			return
		}
		s.reg.Connected(id)
		s.reg.ConnectionEstablished(id)
	})
}

func (s *Simulator) known(id string) bool {
	for _, r := range s.rotators {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (s *Simulator) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = ""
	id := s.connected
	if id == "" {
		return
	}
	s.connected = ""
	s.spinning = false
	s.after(0, func() { s.reg.Disconnected(id) })
}

func (s *Simulator) RequestBatteryLevel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == "" {
		return
	}
	level := s.battery
	s.after(0, func() { s.reg.BatteryLevel(level) })
}

func (s *Simulator) FirmwareVersion() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == "" {
		return "", sdk.ErrRotatorNotConnected
	}
	return s.firmware, nil
}

// turn moves the simulated heading and reports the rotation. Each bounded
// turn costs one percent of battery.
func (s *Simulator) turn(direction string, angle, speed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == "" {
		return
	}
	if speed != sdk.CurrentSpeed {
		s.speed = speed
	}
	if direction == "left" {
		s.heading = ((s.heading-angle)%360 + 360) % 360
	} else {
		s.heading = (s.heading + angle) % 360
	}
	if s.battery > 0 {
		s.battery--
	}
	ev := sdk.Event{Kind: sdk.EventRotated, Direction: direction, Angle: angle}
	level := s.battery
	s.after(0, func() {
		s.reg.RemoteEvent(ev)
		s.reg.RemoteEvent(sdk.Event{Kind: sdk.EventBatteryChanged, Value: level})
	})
}

func (s *Simulator) TurnLeft(angle, speed int)  { s.turn("left", angle, speed) }
func (s *Simulator) TurnRight(angle, speed int) { s.turn("right", angle, speed) }

func (s *Simulator) continuous(speed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == "" {
		return
	}
	s.spinning = true
	if speed != sdk.CurrentSpeed {
		s.speed = speed
	}
	sp := s.speed
	s.after(0, func() { s.reg.RemoteEvent(sdk.Event{Kind: sdk.EventSpeed, Value: sp}) })
}

func (s *Simulator) TurnLeftContinuous(speed int)  { s.continuous(speed) }
func (s *Simulator) TurnRightContinuous(speed int) { s.continuous(speed) }

func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == "" {
		return
	}
	s.spinning = false
	s.after(0, func() { s.reg.RemoteEvent(sdk.Event{Kind: sdk.EventStop}) })
}

func (s *Simulator) SetMaxSpeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = maxSpeed
}

// Heading returns the simulated orientation in degrees, 0-359.
func (s *Simulator) Heading() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heading
}

// Speed returns the current simulated speed setting.
func (s *Simulator) Speed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Spinning reports whether a continuous turn is in progress.
func (s *Simulator) Spinning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spinning
}

// Press simulates a button on the rotator's remote.
func (s *Simulator) Press(kind sdk.EventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == "" {
		return
	}
	s.after(0, func() { s.reg.RemoteEvent(sdk.Event{Kind: kind}) })
}

// Close cancels every pending simulated notification.
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	clear(s.timers)
}

var _ sdk.SDK = (*Simulator)(nil)
