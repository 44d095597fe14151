package simulator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/RotaGo/internal/config"
	"github.com/cjeanneret/RotaGo/internal/sdk"
)

// recorder collects delegate notifications from simulator goroutines.
type recorder struct {
	sdk.NopDelegate
	mu     sync.Mutex
	events []string
	remote []sdk.Event
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) DeviceDiscovered(id, name string) { r.add("discovered:" + id + ":" + name) }
func (r *recorder) Connected(id string)              { r.add("connected:" + id) }
func (r *recorder) Disconnected(id string)           { r.add("disconnected:" + id) }
func (r *recorder) ConnectFailed(id string)          { r.add("failed:" + id) }
func (r *recorder) ConnectionEstablished(id string)  { r.add("established:" + id) }
func (r *recorder) BluetoothPermissionDenied()       { r.add("permission_denied") }
func (r *recorder) BatteryLevel(level int)           { r.add("battery") }

func (r *recorder) RemoteEvent(ev sdk.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = append(r.remote, ev)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Remote() []sdk.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sdk.Event(nil), r.remote...)
}

func (r *recorder) has(ev string) bool {
	for _, e := range r.Events() {
		if e == ev {
			return true
		}
	}
	return false
}

func newSim(t *testing.T, cfg config.SimulatorConfig) (*Simulator, *recorder) {
	t.Helper()
	if cfg.DiscoveryMs == 0 {
		cfg.DiscoveryMs = 1
	}
	if cfg.ConnectDelayMs == 0 {
		cfg.ConnectDelayMs = 1
	}
	if cfg.Battery == 0 {
		cfg.Battery = 90
	}
	if cfg.Firmware == "" {
		cfg.Firmware = "sim-1.0"
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	rec := &recorder{}
	t.Cleanup(s.Delegates().Subscribe("test", rec))
	return s, rec
}

const wait, tick = time.Second, time.Millisecond

func connect(t *testing.T, s *Simulator, rec *recorder, id string) {
	t.Helper()
	s.Connect(id)
	require.Eventually(t, func() bool { return rec.has("established:" + id) }, wait, tick)
}

// ---------- scanning ----------

func TestSimulator_ScanReportsRotators(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{Rotators: []config.SimulatedRotator{
		{ID: "A", Name: "Pivo-A"},
		{ID: "B", Name: "Pivo-B"},
	}})

	require.NoError(t, s.BeginScan())
	require.Eventually(t, func() bool { return len(rec.Events()) == 2 }, wait, tick)
	assert.Equal(t, []string{"discovered:A:Pivo-A", "discovered:B:Pivo-B"}, rec.Events())
}

func TestSimulator_GeneratesIDs(t *testing.T) {
	s, _ := newSim(t, config.SimulatorConfig{Rotators: []config.SimulatedRotator{{}, {}}})
	require.Len(t, s.rotators, 2)
	assert.NotEqual(t, s.rotators[0].ID, s.rotators[1].ID)
	assert.Len(t, s.rotators[0].ID, 36, "uuid string form")
	assert.Contains(t, s.rotators[0].Name, "Pivo-")
}

func TestSimulator_StopScanSuppressesPending(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{
		DiscoveryMs: 50,
		Rotators:    []config.SimulatedRotator{{ID: "A", Name: "Pivo-A"}},
	})
	require.NoError(t, s.BeginScan())
	s.StopScan()
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.Events())
}

func TestSimulator_ScanErrors(t *testing.T) {
	for name, want := range scanErrors {
		t.Run(name, func(t *testing.T) {
			s, _ := newSim(t, config.SimulatorConfig{ScanError: name})
			assert.ErrorIs(t, s.BeginScan(), want)
		})
	}
}

func TestSimulator_PermissionDenied(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{ScanError: PermissionDenied})
	require.NoError(t, s.BeginScan())
	require.Eventually(t, func() bool { return rec.has("permission_denied") }, wait, tick)
}

func TestSimulator_UnknownScanError(t *testing.T) {
	_, err := New(config.SimulatorConfig{ScanError: "gremlins"})
	assert.Error(t, err)
}

// ---------- connection ----------

func TestSimulator_ConnectAndTelemetry(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{Rotators: []config.SimulatedRotator{{ID: "A", Name: "Pivo-A"}}})

	_, err := s.FirmwareVersion()
	assert.ErrorIs(t, err, sdk.ErrRotatorNotConnected)

	connect(t, s, rec, "A")
	assert.Equal(t, []string{"connected:A", "established:A"}, rec.Events())

	fw, err := s.FirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, "sim-1.0", fw)

	s.RequestBatteryLevel()
	require.Eventually(t, func() bool { return rec.has("battery") }, wait, tick)

	s.Disconnect()
	require.Eventually(t, func() bool { return rec.has("disconnected:A") }, wait, tick)
}

func TestSimulator_ConnectUnknownFails(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{})
	s.Connect("nope")
	require.Eventually(t, func() bool { return rec.has("failed:nope") }, wait, tick)
}

func TestSimulator_FailConnect(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{
		FailConnect: true,
		Rotators:    []config.SimulatedRotator{{ID: "A", Name: "Pivo-A"}},
	})
	s.Connect("A")
	require.Eventually(t, func() bool { return rec.has("failed:A") }, wait, tick)
}

func TestSimulator_DisconnectCancelsPendingConnect(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{
		ConnectDelayMs: 50,
		Rotators:       []config.SimulatedRotator{{ID: "A", Name: "Pivo-A"}},
	})
	s.Connect("A")
	s.Disconnect()
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.Events())
}

// ---------- motion ----------

func TestSimulator_TurnsMoveHeading(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{Rotators: []config.SimulatedRotator{{ID: "A", Name: "Pivo-A"}}})

	s.TurnRight(90, 5) // not connected: ignored
	assert.Equal(t, 0, s.Heading())

	connect(t, s, rec, "A")
	s.TurnRight(90, 5)
	s.TurnLeft(135, sdk.CurrentSpeed)
	assert.Equal(t, 315, s.Heading())
	assert.Equal(t, 5, s.Speed(), "CurrentSpeed keeps the speed")

	s.SetMaxSpeed()
	s.TurnLeft(45, sdk.CurrentSpeed)
	assert.Equal(t, maxSpeed, s.Speed())
	assert.Equal(t, 270, s.Heading())

	require.Eventually(t, func() bool {
		n := 0
		for _, ev := range rec.Remote() {
			if ev.Kind == sdk.EventRotated {
				n++
			}
		}
		return n == 3
	}, wait, tick)
}

func TestSimulator_ContinuousAndStop(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{Rotators: []config.SimulatedRotator{{ID: "A", Name: "Pivo-A"}}})
	connect(t, s, rec, "A")

	s.TurnLeftContinuous(20)
	assert.True(t, s.Spinning())
	assert.Equal(t, 20, s.Speed())

	s.Stop()
	assert.False(t, s.Spinning())
	require.Eventually(t, func() bool {
		for _, ev := range rec.Remote() {
			if ev.Kind == sdk.EventStop {
				return true
			}
		}
		return false
	}, wait, tick)
}

func TestSimulator_Press(t *testing.T) {
	s, rec := newSim(t, config.SimulatorConfig{Rotators: []config.SimulatedRotator{{ID: "A", Name: "Pivo-A"}}})
	connect(t, s, rec, "A")

	s.Press(sdk.EventCamera)
	require.Eventually(t, func() bool { return len(rec.Remote()) == 1 }, wait, tick)
	assert.Equal(t, sdk.EventCamera, rec.Remote()[0].Kind)
}
