package rotator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/RotaGo/internal/logic/motion"
	"github.com/cjeanneret/RotaGo/internal/sdk"
)

// linkResult collects outcome and hook calls. Written on the loop, read after Sync.
type linkResult struct {
	calls   int
	err     error
	dropped int
	changes []Snapshot
	events  []sdk.Event
}

func (r *linkResult) hooks() LinkHooks {
	return LinkHooks{
		Changed: func(s Snapshot) { r.changes = append(r.changes, s) },
		Dropped: func() { r.dropped++ },
		Event:   func(ev sdk.Event) { r.events = append(r.events, ev) },
	}
}

func openLink(t *testing.T, f *fixture, id string) (*DeviceLink, *linkResult) {
	t.Helper()
	res := &linkResult{}
	l := NewDeviceLink(f.sdk, f.loop, RotatorRecord{ID: id, Name: "Pivo-" + id},
		func(err error) { res.calls++; res.err = err }, res.hooks())
	return l, res
}

func establish(f *fixture, id string) {
	f.sdk.Delegates().Connected(id)
	f.sdk.Delegates().ConnectionEstablished(id)
	f.loop.Sync()
}

// ---------- connection lifecycle ----------

func TestDeviceLink_ConnectsOnConstruction(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")

	assert.Equal(t, []string{"Connect:A"}, f.sdk.Calls())
	assert.Equal(t, StateConnecting, l.State())
	assert.True(t, f.sdk.Delegates().Len() == 1)
	assert.Equal(t, 0, res.calls)
}

func TestDeviceLink_Established(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")
	establish(f, "A")

	require.Equal(t, 1, res.calls)
	assert.NoError(t, res.err)
	assert.Equal(t, StateEstablished, l.State())
	assert.Equal(t, 1, f.sdk.Count("RequestBatteryLevel"))
	assert.Equal(t, 1, f.sdk.Count("FirmwareVersion"))

	snap := l.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, "A", snap.ID)
	assert.Equal(t, "2.3.1", snap.Firmware)
	assert.Equal(t, "established", snap.State)
}

func TestDeviceLink_FirmwareIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.sdk.firmwareErr = errors.New("characteristic not found")
	f.sdk.firmware = ""
	l, res := openLink(t, f, "A")
	establish(f, "A")

	require.Equal(t, 1, res.calls)
	assert.NoError(t, res.err)
	assert.Empty(t, l.Snapshot().Firmware)
	assert.Equal(t, 1, f.sdk.Count("FirmwareVersion"), "not retried")
}

func TestDeviceLink_IgnoresOtherDevices(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")

	reg := f.sdk.Delegates()
	reg.ConnectionEstablished("B")
	reg.ConnectFailed("B")
	reg.Disconnected("B")
	f.loop.Sync()

	assert.Equal(t, 0, res.calls)
	assert.Equal(t, StateConnecting, l.State())
}

func TestDeviceLink_ConnectFailed(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")

	f.sdk.Delegates().ConnectFailed("A")
	f.sdk.Delegates().Disconnected("A")
	f.sdk.Delegates().ConnectionEstablished("A")
	f.loop.Sync()

	require.Equal(t, 1, res.calls)
	assert.ErrorIs(t, res.err, ErrConnectFailed)
	assert.Equal(t, StateFailed, l.State(), "failed link is inert")
	assert.Equal(t, 0, f.sdk.Count("RequestBatteryLevel"))
}

func TestDeviceLink_DisconnectedBeforeEstablished(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")

	f.sdk.Delegates().Connected("A")
	f.sdk.Delegates().Disconnected("A")
	f.loop.Sync()

	require.Equal(t, 1, res.calls)
	assert.ErrorIs(t, res.err, ErrConnectDisconnected)
	assert.Equal(t, StateDisconnected, l.State())
	assert.Equal(t, 0, res.dropped, "never established, nothing dropped")
}

func TestDeviceLink_IgnoresDisconnectBeforeOwnConnect(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")

	// left over from the previous connection to A
	f.sdk.Delegates().Disconnected("A")
	f.loop.Sync()
	assert.Equal(t, 0, res.calls)
	assert.Equal(t, StateConnecting, l.State())

	establish(f, "A")
	require.Equal(t, 1, res.calls)
	assert.NoError(t, res.err)
	assert.Equal(t, StateEstablished, l.State())
}

func TestDeviceLink_DisconnectedAfterEstablished(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")
	establish(f, "A")

	f.sdk.Delegates().Disconnected("A")
	f.sdk.Delegates().Disconnected("A")
	f.loop.Sync()

	assert.Equal(t, 1, res.calls, "outcome already delivered on establish")
	assert.NoError(t, res.err)
	assert.Equal(t, 1, res.dropped)
	assert.Equal(t, StateDisconnected, l.State())
	assert.False(t, l.Snapshot().Connected)
}

// ---------- telemetry ----------

func TestDeviceLink_BatteryUpdates(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")
	establish(f, "A")

	f.sdk.Delegates().BatteryLevel(80)
	f.sdk.Delegates().BatteryLevel(79)
	f.loop.Sync()

	assert.Equal(t, 79, l.Snapshot().Battery)
	require.NotEmpty(t, res.changes)
	assert.Equal(t, 79, res.changes[len(res.changes)-1].Battery)
}

func TestDeviceLink_RemoteEvents(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")

	f.sdk.Delegates().RemoteEvent(sdk.Event{Kind: sdk.EventCamera})
	f.loop.Sync()
	assert.Empty(t, res.events, "events before establish are ignored")

	establish(f, "A")
	f.sdk.Delegates().RemoteEvent(sdk.Event{Kind: sdk.EventCamera})
	f.sdk.Delegates().RemoteEvent(sdk.Event{Kind: sdk.EventBatteryChanged, Value: 42})
	f.loop.Sync()

	require.Len(t, res.events, 2)
	assert.Equal(t, sdk.EventCamera, res.events[0].Kind)
	assert.Equal(t, 42, l.Snapshot().Battery)
}

// ---------- teardown ----------

func TestDeviceLink_CloseEstablished(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")
	establish(f, "A")
	f.sdk.Delegates().BatteryLevel(50)
	f.loop.Sync()

	l.Close()
	l.Close()
	f.loop.Sync()

	assert.Equal(t, 1, f.sdk.Count("Disconnect"), "exactly one disconnect")
	assert.Equal(t, 0, f.sdk.Delegates().Len())
	assert.Equal(t, 1, res.calls)

	f.sdk.Delegates().BatteryLevel(10)
	f.loop.Sync()
	assert.Equal(t, 50, l.Snapshot().Battery, "no telemetry after teardown")
}

func TestDeviceLink_ClosePendingDeliversCancelled(t *testing.T) {
	f := newFixture(t)
	l, res := openLink(t, f, "A")

	l.Close()
	f.sdk.Delegates().ConnectionEstablished("A")
	f.loop.Sync()

	require.Equal(t, 1, res.calls)
	assert.ErrorIs(t, res.err, ErrConnectCancelled)
	assert.Equal(t, 1, f.sdk.Count("Disconnect"))
	assert.Equal(t, StateDisconnected, l.State())
}

func TestDeviceLink_CloseFailedStillDisconnects(t *testing.T) {
	f := newFixture(t)
	l, _ := openLink(t, f, "A")
	f.sdk.Delegates().ConnectFailed("A")
	l.Close()
	f.loop.Sync()

	assert.Equal(t, 1, f.sdk.Count("Disconnect"))
	assert.Equal(t, StateFailed, l.State())
}

// ---------- commands ----------

func TestDeviceLink_Commands(t *testing.T) {
	f := newFixture(t)
	l, _ := openLink(t, f, "A")
	establish(f, "A")

	l.Turn(motion.Left, 45, 20)
	l.Turn(motion.Right, 10, 5)
	l.Snap(motion.Right, 90)
	l.TurnContinuous(motion.Left, 30)
	l.TurnContinuous(motion.Right, 15)
	l.Stop()
	f.loop.Sync()

	calls := f.sdk.Calls()
	assert.Equal(t, []string{
		"TurnLeft:45:20",
		"TurnRight:10:5",
		"SetMaxSpeed",
		"TurnRight:90:0",
		"TurnLeftContinuous:30",
		"TurnRightContinuous:15",
		"Stop",
	}, calls[len(calls)-7:])
}

func TestDeviceLink_CommandsForwardedBeforeEstablish(t *testing.T) {
	f := newFixture(t)
	l, _ := openLink(t, f, "A")

	l.Snap(motion.Left, 30)
	f.loop.Sync()
	assert.Equal(t, []string{"Connect:A", "SetMaxSpeed", "TurnLeft:30:0"}, f.sdk.Calls())
}

func TestDeviceLink_CommandsAfterCloseDropped(t *testing.T) {
	f := newFixture(t)
	l, _ := openLink(t, f, "A")
	establish(f, "A")
	l.Close()
	l.Turn(motion.Left, 45, 20)
	l.Stop()
	f.loop.Sync()

	assert.Equal(t, 0, f.sdk.Count("TurnLeft:45:20"))
	assert.Equal(t, 0, f.sdk.Count("Stop"))
}
