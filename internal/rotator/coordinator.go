// Package rotator discovers rotators, connects to one and forwards motion
// commands to it. Scanner, DeviceLink and Coordinator share a Loop: every
// state mutation and every SDK callback runs on the loop goroutine, so none
// of their loop-confined fields need locking.
package rotator

import (
	"errors"
	"sync"

	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/logic/motion"
	"github.com/cjeanneret/RotaGo/internal/sdk"
)

// Policy decides what happens when a scan finds exactly one rotator.
type Policy int

const (
	AutoConnect Policy = iota // connect right away
	ReportOnly                // report it and wait for Connect
)

// Options configures a Coordinator.
type Options struct {
	Scan         ScanOptions
	SingleResult Policy
	DefaultSpeed int // speed for commands that leave it at 0
}

// Coordinator owns the current scan and the current device link, applies the
// zero/one/many policy to scan results and reports progress to an Observer.
// Exported methods are safe for concurrent use and do not block on the SDK.
type Coordinator struct {
	sdk  sdk.SDK
	loop *Loop
	obs  Observer
	opts Options
	ctrl *motion.Controller

	// loop-confined
	scanner *Scanner
	pending *DeviceLink
	active  *DeviceLink
	closed  bool

	mu         sync.RWMutex
	status     Status
	scanning   bool
	discovered []RotatorRecord
	device     Snapshot
	hasDevice  bool
}

// New creates an idle coordinator. A nil observer is allowed.
func New(s sdk.SDK, loop *Loop, obs Observer, opts Options) *Coordinator {
	if obs == nil {
		obs = NopObserver{}
	}
	if opts.DefaultSpeed <= 0 {
		opts.DefaultSpeed = 10
	}
	return &Coordinator{
		sdk:    s,
		loop:   loop,
		obs:    obs,
		opts:   opts,
		ctrl:   motion.NewController(opts.DefaultSpeed),
		status: Status{Kind: StatusIdle, Text: "Idle"},
	}
}

// BeginDiscovery starts a scan, or stops the running one. A stopped scan still
// delivers what it found so far.
func (c *Coordinator) BeginDiscovery() { c.loop.Post(c.beginDiscovery) }

// DiscoverIfIdle starts a scan only when no scan, connection attempt or
// active device exists.
func (c *Coordinator) DiscoverIfIdle() {
	c.loop.Post(func() {
		if c.scanner != nil || c.pending != nil || c.active != nil {
			debug.Verbose("discovery skipped, coordinator busy")
			return
		}
		c.beginDiscovery()
	})
}

// Connect connects to a rotator of the last discovery, replacing any current
// link.
func (c *Coordinator) Connect(id string) error {
	rec, ok := c.lookup(id)
	if !ok {
		return ErrUnknownRotator
	}
	if !c.loop.Post(func() { c.connect(rec) }) {
		return ErrClosed
	}
	return nil
}

// Disconnect tears down the active link and any pending connection.
func (c *Coordinator) Disconnect() { c.loop.Post(c.disconnect) }

// Execute validates cmd and forwards it to the active device.
func (c *Coordinator) Execute(cmd motion.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if _, ok := c.Active(); !ok {
		return ErrNoActiveDevice
	}
	c.loop.Post(func() {
		if c.active == nil {
			debug.Verbose("command dropped, no active rotator", "kind", string(cmd.Kind))
			return
		}
		if err := c.ctrl.Apply(c.active, cmd); err != nil {
			debug.Verbose("command rejected", "kind", string(cmd.Kind), "err", err)
		}
	})
	return nil
}

// Active returns the snapshot of the active device.
func (c *Coordinator) Active() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device, c.hasDevice
}

// Discovered returns the result of the last completed scan, sorted by id.
func (c *Coordinator) Discovered() []RotatorRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]RotatorRecord(nil), c.discovered...)
}

// Scanning reports whether a scan session is running.
func (c *Coordinator) Scanning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanning
}

// Status returns the last status emitted.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Close cancels the scan, tears down every link and waits for the loop to
// apply it. It must not be called from an observer callback.
func (c *Coordinator) Close() {
	c.loop.Post(c.close)
	c.loop.Sync()
}

func (c *Coordinator) lookup(id string) (RotatorRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.discovered {
		if r.ID == id {
			return r, true
		}
	}
	return RotatorRecord{}, false
}

// ---------- loop side ----------

func (c *Coordinator) beginDiscovery() {
	if c.closed {
		return
	}
	if c.scanner != nil {
		debug.Scan(c.scanner.ID(), "discovery toggled off")
		c.scanner.stop()
		return
	}

	c.setDiscovered(nil)
	sc := NewScanner(c.sdk, c.loop, c.opts.Scan)
	c.scanner = sc
	c.setScanning(true)
	c.emit(statusScanning())

	sc.markStarted()
	sc.start(func(recs []RotatorRecord, err error) { c.scanDone(sc, recs, err) })
}

func (c *Coordinator) scanDone(sc *Scanner, recs []RotatorRecord, err error) {
	if c.scanner != sc {
		return
	}
	c.scanner = nil
	c.setScanning(false)
	if c.closed {
		return
	}

	if err != nil {
		var se *ScanError
		if !errors.As(err, &se) {
			se = classifyScanError(err)
		}
		st, alert := ScanFailureStatus(se)
		c.emit(st)
		if alert != "" {
			c.obs.Alert(AlertTitle, alert)
		}
		return
	}

	c.setDiscovered(recs)
	switch len(recs) {
	case 0:
		c.emit(statusNoRotators())
	case 1:
		if c.opts.SingleResult == ReportOnly {
			c.emit(statusFound(recs[0]))
			return
		}
		c.connect(recs[0])
	default:
		c.emit(statusMultiple(len(recs)))
	}
}

// connect tears down the current links before creating the new one: the SDK
// holds a single connection. Connecting to the active device keeps its link.
func (c *Coordinator) connect(rec RotatorRecord) {
	if c.closed {
		return
	}
	if c.pending != nil && c.pending.ID() == rec.ID {
		return
	}
	if c.active != nil && c.active.ID() == rec.ID {
		debug.Link(rec.ID, "already connected")
		c.emit(statusConnected(c.active.Record()))
		return
	}
	c.dropPending()
	c.dropActive()

	var link *DeviceLink
	link = NewDeviceLink(c.sdk, c.loop, rec,
		func(err error) { c.linkDone(link, err) },
		LinkHooks{
			Changed: func(snap Snapshot) {
				if link == c.active {
					c.publishDevice(snap, true)
				}
			},
			Dropped: func() { c.linkDropped(link) },
			Event: func(ev sdk.Event) {
				if link == c.active {
					c.obs.RemoteEvent(ev)
				}
			},
		})
	c.pending = link
	c.emit(statusConnecting(rec))
}

func (c *Coordinator) linkDone(link *DeviceLink, err error) {
	if c.pending != link {
		return
	}
	c.pending = nil

	if err != nil {
		link.close()
		var ce *ConnectError
		if !errors.As(err, &ce) {
			ce = &ConnectError{Kind: ConnectFailed, ID: link.ID()}
		}
		c.emit(ConnectFailureStatus(ce, link.Record().Name))
		return
	}

	c.active = link
	c.emit(statusConnected(link.Record()))
	c.publishDevice(link.Snapshot(), true)
}

func (c *Coordinator) linkDropped(link *DeviceLink) {
	if link != c.active {
		return
	}
	c.active = nil
	link.close()
	c.emit(statusDisconnected(link.Record()))
	c.publishDevice(Snapshot{}, false)
}

func (c *Coordinator) disconnect() {
	hadPending := c.dropPending()
	rec, hadActive := c.dropActive()
	if hadActive {
		c.emit(statusDisconnected(rec))
	} else if hadPending {
		c.emit(Status{Kind: StatusDisconnected, Text: "Connection cancelled"})
	}
}

// dropPending forgets the pending link before closing it so its cancelled
// outcome is ignored.
func (c *Coordinator) dropPending() bool {
	link := c.pending
	if link == nil {
		return false
	}
	c.pending = nil
	link.close()
	return true
}

func (c *Coordinator) dropActive() (RotatorRecord, bool) {
	link := c.active
	if link == nil {
		return RotatorRecord{}, false
	}
	c.active = nil
	link.close()
	c.publishDevice(Snapshot{}, false)
	return link.Record(), true
}

func (c *Coordinator) close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.scanner != nil {
		c.scanner.close()
	}
	c.dropPending()
	c.dropActive()
	debug.Info("coordinator closed")
}

func (c *Coordinator) emit(st Status) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	debug.Live(st.Text, "status", string(st.Kind))
	c.obs.UpdateStatus(st)
}

func (c *Coordinator) publishDevice(snap Snapshot, ok bool) {
	c.mu.Lock()
	c.device, c.hasDevice = snap, ok
	c.mu.Unlock()
	c.obs.DeviceChanged(snap, ok)
}

func (c *Coordinator) setScanning(v bool) {
	c.mu.Lock()
	c.scanning = v
	c.mu.Unlock()
}

func (c *Coordinator) setDiscovered(recs []RotatorRecord) {
	c.mu.Lock()
	c.discovered = recs
	c.mu.Unlock()
}
