// Package ble drives a rotator over Bluetooth LE with tinygo's bluetooth
// stack. Discovery filters advertisements by name prefix; motion commands are
// frames written to a configured characteristic.
package ble

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sony/gobreaker/v2"
	"tinygo.org/x/bluetooth"

	"github.com/cjeanneret/RotaGo/internal/config"
	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/sdk"
)

// Backend implements sdk.SDK on a local Bluetooth adapter.
type Backend struct {
	reg        *sdk.Registry
	adapter    *bluetooth.Adapter
	prefix     string
	cmdService bluetooth.UUID
	cmdChar    bluetooth.UUID
	breaker    *gobreaker.CircuitBreaker[bluetooth.Device]

	mu       sync.Mutex
	seen     map[string]bluetooth.Address
	scanning bool
	pending  string // id being connected
	deviceID string
	device   bluetooth.Device
	cmd      bluetooth.DeviceCharacteristic
	battery  *bluetooth.DeviceCharacteristic
	firmware string
}

// New enables the default adapter.
func New(cfg *config.Config) (*Backend, error) {
	svc, err := bluetooth.ParseUUID(cfg.SDK.BLE.CommandService)
	if err != nil {
		return nil, fmt.Errorf("sdk.ble.command_service: %w", err)
	}
	char, err := bluetooth.ParseUUID(cfg.SDK.BLE.CommandChar)
	if err != nil {
		return nil, fmt.Errorf("sdk.ble.command_char: %w", err)
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	b := &Backend{
		reg:        sdk.NewRegistry(),
		adapter:    adapter,
		prefix:     cfg.SDK.BLE.NamePrefix,
		cmdService: svc,
		cmdChar:    char,
		breaker:    newConnectBreaker(cfg.SDK.BLE.BreakerMaxFailures, cfg.BreakerTimeout()),
		seen:       make(map[string]bluetooth.Address),
	}
	adapter.SetConnectHandler(b.connectionChanged)
	debug.Info("BLE backend ready", "prefix", b.prefix)
	return b, nil
}

func (b *Backend) Delegates() *sdk.Registry { return b.reg }

func matchesPrefix(name, prefix string) bool {
	return name != "" && strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix))
}

// BeginScan starts a background scan. tinygo's Scan blocks until StopScan.
func (b *Backend) BeginScan() error {
	if err := probeAdapter(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return nil
	}
	b.scanning = true
	b.mu.Unlock()

	go func() {
		err := b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if !matchesPrefix(name, b.prefix) {
				return
			}
			id := result.Address.String()
			b.mu.Lock()
			b.seen[id] = result.Address
			b.mu.Unlock()
			debug.Trace("advertisement", "id", id, "name", name, "rssi", result.RSSI)
			b.reg.DeviceDiscovered(id, name)
		})
		if err != nil {
			debug.Error("scan ended", err)
		}
		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
	}()
	return nil
}

func (b *Backend) StopScan() {
	b.mu.Lock()
	scanning := b.scanning
	b.mu.Unlock()
	if !scanning {
		return
	}
	if err := b.adapter.StopScan(); err != nil {
		debug.Error("stop scan", err)
	}
}

// Connect dials the device in the background; the outcome arrives through the
// delegates.
func (b *Backend) Connect(id string) {
	b.mu.Lock()
	addr, ok := b.seen[id]
	b.pending = id
	b.mu.Unlock()
	if !ok {
		debug.Warn("connect to unseen device", "id", id)
		go b.reg.ConnectFailed(id)
		return
	}
	go b.connect(id, addr)
}

func (b *Backend) connect(id string, addr bluetooth.Address) {
	dev, err := b.breaker.Execute(func() (bluetooth.Device, error) {
		return b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	})
	if err != nil {
		if breakerOpen(err) {
			debug.Warn("connect refused, breaker open", "id", id)
		} else {
			debug.Error("connect", err, "id", id)
		}
		b.reg.ConnectFailed(id)
		return
	}

	b.mu.Lock()
	wanted := b.pending == id
	b.mu.Unlock()
	if !wanted {
		// Disconnect was called while dialing.
		_ = dev.Disconnect()
		return
	}
	b.reg.Connected(id)

	cmd, battery, firmware, err := b.discover(dev)
	if err != nil {
		debug.Error("service discovery", err, "id", id)
		_ = dev.Disconnect()
		b.reg.ConnectFailed(id)
		return
	}
	if !b.adopt(id, dev, cmd, battery, firmware) {
		debug.Link(id, "disconnect requested during service discovery")
		_ = dev.Disconnect()
		return
	}

	if err := cmd.EnableNotifications(b.notification); err != nil {
		debug.Warn("remote events unavailable", "err", err)
	}
	if battery != nil {
		if err := battery.EnableNotifications(func(buf []byte) {
			if len(buf) > 0 {
				b.reg.BatteryLevel(int(buf[0]))
			}
		}); err != nil {
			debug.Warn("battery notifications unavailable", "err", err)
		}
	}
	b.reg.ConnectionEstablished(id)
}

// discover finds the motion characteristic (required) and the standard
// battery level and firmware revision characteristics (optional).
func (b *Backend) discover(dev bluetooth.Device) (bluetooth.DeviceCharacteristic, *bluetooth.DeviceCharacteristic, string, error) {
	var cmd bluetooth.DeviceCharacteristic
	services, err := dev.DiscoverServices([]bluetooth.UUID{b.cmdService})
	if err != nil || len(services) == 0 {
		return cmd, nil, "", fmt.Errorf("motion service %s not found: %v", b.cmdService, err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{b.cmdChar})
	if err != nil || len(chars) == 0 {
		return cmd, nil, "", fmt.Errorf("motion characteristic %s not found: %v", b.cmdChar, err)
	}
	cmd = chars[0]

	var battery *bluetooth.DeviceCharacteristic
	if svcs, err := dev.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDBattery}); err == nil && len(svcs) > 0 {
		if cs, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDBatteryLevel}); err == nil && len(cs) > 0 {
			battery = &cs[0]
		}
	}

	var firmware string
	if svcs, err := dev.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDDeviceInformation}); err == nil && len(svcs) > 0 {
		if cs, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDFirmwareRevisionString}); err == nil && len(cs) > 0 {
			buf := make([]byte, 64)
			if n, err := cs[0].Read(buf); err == nil {
				firmware = strings.TrimSpace(string(buf[:n]))
			}
		}
	}
	return cmd, battery, firmware, nil
}

// adopt stores the session for id unless Disconnect ran since Connect.
func (b *Backend) adopt(id string, dev bluetooth.Device, cmd bluetooth.DeviceCharacteristic, battery *bluetooth.DeviceCharacteristic, firmware string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != id {
		return false
	}
	b.pending = ""
	b.deviceID = id
	b.device = dev
	b.cmd = cmd
	b.battery = battery
	b.firmware = firmware
	return true
}

func (b *Backend) notification(buf []byte) {
	ev, err := decodeEvent(buf)
	if err != nil {
		debug.Trace("ignored notification", "err", err)
		return
	}
	if ev.Kind == sdk.EventBatteryChanged {
		b.reg.BatteryLevel(ev.Value)
	}
	b.reg.RemoteEvent(ev)
}

func (b *Backend) connectionChanged(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	b.mu.Lock()
	id := b.deviceID
	if id == "" || dev.Address.String() != id {
		b.mu.Unlock()
		return
	}
	b.clearLocked()
	b.mu.Unlock()
	b.reg.Disconnected(id)
}

func (b *Backend) clearLocked() {
	b.deviceID = ""
	b.device = bluetooth.Device{}
	b.cmd = bluetooth.DeviceCharacteristic{}
	b.battery = nil
	b.firmware = ""
}

func (b *Backend) Disconnect() {
	b.mu.Lock()
	b.pending = ""
	id, dev := b.deviceID, b.device
	if id == "" {
		b.mu.Unlock()
		return
	}
	b.clearLocked()
	b.mu.Unlock()

	if err := dev.Disconnect(); err != nil {
		debug.Error("disconnect", err, "id", id)
	}
	go b.reg.Disconnected(id)
}

func (b *Backend) RequestBatteryLevel() {
	b.mu.Lock()
	battery := b.battery
	connected := b.deviceID != ""
	b.mu.Unlock()
	if !connected {
		return
	}
	if battery == nil {
		// no standard battery service: ask the rotator to report it as an event
		b.write(batteryFrame())
		return
	}
	go func() {
		buf := make([]byte, 1)
		if n, err := battery.Read(buf); err == nil && n == 1 {
			b.reg.BatteryLevel(int(buf[0]))
		}
	}()
}

func (b *Backend) FirmwareVersion() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deviceID == "" {
		return "", sdk.ErrRotatorNotConnected
	}
	if b.firmware == "" {
		return "", fmt.Errorf("firmware revision not exposed by %s", b.deviceID)
	}
	return b.firmware, nil
}

func (b *Backend) write(frame []byte) {
	b.mu.Lock()
	cmd := b.cmd
	connected := b.deviceID != ""
	b.mu.Unlock()
	if !connected {
		debug.Trace("frame dropped, not connected", "frame", fmt.Sprintf("% x", frame))
		return
	}
	if _, err := cmd.WriteWithoutResponse(frame); err != nil {
		debug.Error("write frame", err)
	}
}

func (b *Backend) TurnLeft(angle, speed int)     { b.write(turnFrame(dirLeft, angle, speed)) }
func (b *Backend) TurnRight(angle, speed int)    { b.write(turnFrame(dirRight, angle, speed)) }
func (b *Backend) TurnLeftContinuous(speed int)  { b.write(continuousFrame(dirLeft, speed)) }
func (b *Backend) TurnRightContinuous(speed int) { b.write(continuousFrame(dirRight, speed)) }
func (b *Backend) Stop()                         { b.write(stopFrame()) }
func (b *Backend) SetMaxSpeed()                  { b.write(maxSpeedFrame()) }

var _ sdk.SDK = (*Backend)(nil)
