package rotator

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/RotaGo/internal/sdk"
)

// ---------- manual clock ----------

type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	c       *manualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{c: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs the callbacks that became due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Pending counts timers that have neither fired nor been stopped.
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ---------- recording SDK ----------

// fakeSDK records every outbound call. Tests fire delegate events through
// Delegates().
type fakeSDK struct {
	reg *sdk.Registry

	mu          sync.Mutex
	calls       []string
	scanErr     error
	firmware    string
	firmwareErr error
}

func newFakeSDK() *fakeSDK {
	return &fakeSDK{reg: sdk.NewRegistry(), firmware: "2.3.1"}
}

func (f *fakeSDK) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSDK) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSDK) Count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeSDK) setScanErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanErr = err
}

func (f *fakeSDK) Delegates() *sdk.Registry { return f.reg }

func (f *fakeSDK) BeginScan() error {
	f.record("BeginScan")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanErr
}

func (f *fakeSDK) StopScan()            { f.record("StopScan") }
func (f *fakeSDK) Connect(id string)    { f.record("Connect:%s", id) }
func (f *fakeSDK) Disconnect()          { f.record("Disconnect") }
func (f *fakeSDK) RequestBatteryLevel() { f.record("RequestBatteryLevel") }

func (f *fakeSDK) FirmwareVersion() (string, error) {
	f.record("FirmwareVersion")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firmware, f.firmwareErr
}

func (f *fakeSDK) TurnLeft(angle, speed int)     { f.record("TurnLeft:%d:%d", angle, speed) }
func (f *fakeSDK) TurnRight(angle, speed int)    { f.record("TurnRight:%d:%d", angle, speed) }
func (f *fakeSDK) TurnLeftContinuous(speed int)  { f.record("TurnLeftContinuous:%d", speed) }
func (f *fakeSDK) TurnRightContinuous(speed int) { f.record("TurnRightContinuous:%d", speed) }
func (f *fakeSDK) Stop()                         { f.record("Stop") }
func (f *fakeSDK) SetMaxSpeed()                  { f.record("SetMaxSpeed") }

var _ sdk.SDK = (*fakeSDK)(nil)

// ---------- recording observer ----------

type deviceUpdate struct {
	snap Snapshot
	ok   bool
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []Status
	alerts   []string
	devices  []deviceUpdate
	events   []sdk.Event
}

func (o *recordingObserver) UpdateStatus(st Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, st)
}

func (o *recordingObserver) Alert(title, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, title+": "+message)
}

func (o *recordingObserver) DeviceChanged(snap Snapshot, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.devices = append(o.devices, deviceUpdate{snap, ok})
}

func (o *recordingObserver) RemoteEvent(ev sdk.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) Kinds() []StatusKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	kinds := make([]StatusKind, len(o.statuses))
	for i, s := range o.statuses {
		kinds[i] = s.Kind
	}
	return kinds
}

func (o *recordingObserver) Alerts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.alerts...)
}

func (o *recordingObserver) Events() []sdk.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sdk.Event(nil), o.events...)
}

// ---------- fixture ----------

type fixture struct {
	clock *manualClock
	loop  *Loop
	sdk   *fakeSDK
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &manualClock{}
	loop := NewLoop(clock)
	t.Cleanup(loop.Close)
	return &fixture{clock: clock, loop: loop, sdk: newFakeSDK()}
}

// advance moves the clock and lets the loop run what became due.
func (f *fixture) advance(d time.Duration) {
	f.loop.Sync()
	f.clock.Advance(d)
	f.loop.Sync()
}
