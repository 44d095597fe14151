package rotator

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/logic/motion"
	"github.com/cjeanneret/RotaGo/internal/sdk"
	"github.com/cjeanneret/RotaGo/internal/tracer"
)

// ConnectionState is the lifecycle of one DeviceLink.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateEstablished
	StateDisconnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of a link's state.
type Snapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Battery   int    `json:"battery"`
	Firmware  string `json:"firmware"`
}

// LinkHooks are optional callbacks, run on the loop, for what happens after
// the connection outcome.
type LinkHooks struct {
	Changed func(Snapshot)  // battery, firmware or state changed
	Dropped func()          // an established connection went away
	Event   func(sdk.Event) // remote event while established
}

// DeviceLink owns the connection to one rotator. It connects on construction
// and resolves its outcome callback exactly once: nil when established, a
// *ConnectError otherwise. Closing before the outcome resolves it with
// ErrConnectCancelled.
type DeviceLink struct {
	sdk   sdk.SDK
	loop  *Loop
	rec   RotatorRecord
	key   string
	hooks LinkHooks

	mu       sync.Mutex
	state    ConnectionState
	battery  int
	firmware string

	// loop-confined
	result  *promise[struct{}]
	closed  bool
	radio   bool // Connected seen for this attempt
	release func()
	span    trace.Span
}

// NewDeviceLink subscribes to the SDK and issues the connect request. done
// runs on the loop.
func NewDeviceLink(s sdk.SDK, loop *Loop, rec RotatorRecord, done func(error), hooks LinkHooks) *DeviceLink {
	l := &DeviceLink{
		sdk:   s,
		loop:  loop,
		rec:   rec,
		key:   "link-" + ulid.Make().String(),
		hooks: hooks,
		state: StateConnecting,
	}
	l.result = newPromise(func(_ struct{}, err error) {
		tracer.End(l.span, err)
		if done != nil {
			done(err)
		}
	})
	_, l.span = tracer.StartSpan(context.Background(), "rotator.connect",
		trace.WithAttributes(tracer.StringAttr("rotator.id", rec.ID), tracer.StringAttr("rotator.name", rec.Name)))
	l.release = s.Delegates().Subscribe(l.key, linkSink{l: l})

	debug.Link(rec.ID, "connecting", "name", rec.Name)
	debug.SDK("Connect", "id", rec.ID)
	s.Connect(rec.ID)
	return l
}

// ID returns the device identifier.
func (l *DeviceLink) ID() string { return l.rec.ID }

// Record returns the record the link was created for.
func (l *DeviceLink) Record() RotatorRecord { return l.rec }

// State returns the current connection state.
func (l *DeviceLink) State() ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Snapshot returns a copy of the link state.
func (l *DeviceLink) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		ID:        l.rec.ID,
		Name:      l.rec.Name,
		State:     l.state.String(),
		Connected: l.state == StateEstablished,
		Battery:   l.battery,
		Firmware:  l.firmware,
	}
}

// Close disconnects and unsubscribes, whatever the state.
func (l *DeviceLink) Close() { l.loop.Post(l.close) }

func (l *DeviceLink) setState(s ConnectionState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *DeviceLink) changed() {
	if l.hooks.Changed != nil {
		l.hooks.Changed(l.Snapshot())
	}
}

func (l *DeviceLink) connected(id string) {
	if id != l.rec.ID || l.closed {
		return
	}
	l.radio = true
	debug.Link(id, "radio connected, waiting for session")
}

func (l *DeviceLink) established(id string) {
	if id != l.rec.ID || l.closed || l.State() != StateConnecting {
		return
	}
	l.radio = true
	l.setState(StateEstablished)

	debug.SDK("RequestBatteryLevel")
	l.sdk.RequestBatteryLevel()
	debug.SDK("FirmwareVersion")
	if fw, err := l.sdk.FirmwareVersion(); err != nil {
		debug.Link(id, "firmware version unavailable", "err", err)
	} else {
		l.mu.Lock()
		l.firmware = fw
		l.mu.Unlock()
	}

	debug.Link(id, "established")
	l.result.resolve(struct{}{}, nil)
	l.changed()
}

func (l *DeviceLink) failed(id string) {
	if id != l.rec.ID || l.closed || l.State() != StateConnecting {
		return
	}
	l.setState(StateFailed)
	debug.Link(id, "connect failed")
	l.result.resolve(struct{}{}, &ConnectError{Kind: ConnectFailed, ID: id})
}

func (l *DeviceLink) disconnected(id string) {
	if id != l.rec.ID || l.closed {
		return
	}
	prev := l.State()
	if prev == StateFailed || prev == StateDisconnected {
		return
	}
	// A Disconnected before our own Connected belongs to the previous
	// connection to the same device.
	if prev == StateConnecting && !l.radio {
		debug.Link(id, "stale disconnect ignored")
		return
	}
	l.setState(StateDisconnected)
	debug.Link(id, "disconnected", "was", prev.String())

	if l.result.pending() {
		l.result.resolve(struct{}{}, &ConnectError{Kind: ConnectDisconnected, ID: id})
	}
	if prev == StateEstablished && l.hooks.Dropped != nil {
		l.hooks.Dropped()
	}
}

func (l *DeviceLink) batteryLevel(level int) {
	if l.closed {
		return
	}
	l.mu.Lock()
	l.battery = level
	l.mu.Unlock()
	debug.Link(l.rec.ID, "battery", "level", level)
	l.changed()
}

func (l *DeviceLink) remoteEvent(ev sdk.Event) {
	if l.closed || l.State() != StateEstablished {
		return
	}
	debug.Link(l.rec.ID, "remote event", "event", ev.String())
	if ev.Kind == sdk.EventBatteryChanged {
		l.batteryLevel(ev.Value)
	}
	if l.hooks.Event != nil {
		l.hooks.Event(ev)
	}
}

func (l *DeviceLink) close() {
	if l.closed {
		return
	}
	l.closed = true

	debug.SDK("Disconnect")
	l.sdk.Disconnect()
	l.release()

	if s := l.State(); s == StateConnecting || s == StateEstablished {
		l.setState(StateDisconnected)
	}
	if l.result.pending() {
		l.result.resolve(struct{}{}, &ConnectError{Kind: ConnectCancelled, ID: l.rec.ID})
	}
	debug.Link(l.rec.ID, "closed")
}

// Turn forwards a relative turn. Motion commands are forwarded whatever the
// state; commands posted after Close are dropped.
func (l *DeviceLink) Turn(dir motion.Direction, angle, speed int) {
	l.command(func() {
		if dir == motion.Left {
			debug.SDK("TurnLeft", "angle", angle, "speed", speed)
			l.sdk.TurnLeft(angle, speed)
		} else {
			debug.SDK("TurnRight", "angle", angle, "speed", speed)
			l.sdk.TurnRight(angle, speed)
		}
	})
}

// Snap turns by angle at the fastest speed the rotator supports.
func (l *DeviceLink) Snap(dir motion.Direction, angle int) {
	l.command(func() {
		debug.SDK("SetMaxSpeed")
		l.sdk.SetMaxSpeed()
		if dir == motion.Left {
			debug.SDK("TurnLeft", "angle", angle, "speed", sdk.CurrentSpeed)
			l.sdk.TurnLeft(angle, sdk.CurrentSpeed)
		} else {
			debug.SDK("TurnRight", "angle", angle, "speed", sdk.CurrentSpeed)
			l.sdk.TurnRight(angle, sdk.CurrentSpeed)
		}
	})
}

// TurnContinuous rotates until Stop.
func (l *DeviceLink) TurnContinuous(dir motion.Direction, speed int) {
	l.command(func() {
		if dir == motion.Left {
			debug.SDK("TurnLeftContinuous", "speed", speed)
			l.sdk.TurnLeftContinuous(speed)
		} else {
			debug.SDK("TurnRightContinuous", "speed", speed)
			l.sdk.TurnRightContinuous(speed)
		}
	})
}

// Stop halts any motion in progress.
func (l *DeviceLink) Stop() {
	l.command(func() {
		debug.SDK("Stop")
		l.sdk.Stop()
	})
}

func (l *DeviceLink) command(fn func()) {
	l.loop.Post(func() {
		if l.closed {
			debug.Link(l.rec.ID, "command dropped after close")
			return
		}
		fn()
	})
}

var _ motion.Rotator = (*DeviceLink)(nil)

// linkSink moves SDK notifications onto the loop.
type linkSink struct {
	sdk.NopDelegate
	l *DeviceLink
}

func (k linkSink) Connected(id string) {
	k.l.loop.Post(func() { k.l.connected(id) })
}

func (k linkSink) Disconnected(id string) {
	k.l.loop.Post(func() { k.l.disconnected(id) })
}

func (k linkSink) ConnectFailed(id string) {
	k.l.loop.Post(func() { k.l.failed(id) })
}

func (k linkSink) ConnectionEstablished(id string) {
	k.l.loop.Post(func() { k.l.established(id) })
}

func (k linkSink) BatteryLevel(level int) {
	k.l.loop.Post(func() { k.l.batteryLevel(level) })
}

func (k linkSink) RemoteEvent(ev sdk.Event) {
	k.l.loop.Post(func() { k.l.remoteEvent(ev) })
}
