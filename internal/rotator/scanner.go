package rotator

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/sdk"
	"github.com/cjeanneret/RotaGo/internal/tracer"
)

// RotatorRecord is one device seen during a scan.
type RotatorRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultScanTimeout is the scan window when ScanOptions.Timeout is zero.
const DefaultScanTimeout = 5 * time.Second

// ScanOptions configures one scan session.
type ScanOptions struct {
	Timeout     time.Duration // window after the scan started; 0 = DefaultScanTimeout
	WarmUp      time.Duration // delay before the SDK scan is issued; not part of Timeout
	StopOnFirst bool          // end the session on the first discovery
}

type scanState int

const (
	scanIdle scanState = iota
	scanWarming
	scanScanning
	scanDone
)

// Scanner runs one bounded discovery session. The completion callback passed
// to Start runs exactly once on the loop, with a result set or a *ScanError.
type Scanner struct {
	sdk     sdk.SDK
	loop    *Loop
	opts    ScanOptions
	id      string
	started atomic.Bool

	// loop-confined
	state      scanState
	discovered map[string]RotatorRecord
	result     *promise[[]RotatorRecord]
	warmTimer  *Timer
	deadline   *Timer
	release    func()
	span       trace.Span
}

// NewScanner prepares a session. Nothing is sent to the SDK before Start.
func NewScanner(s sdk.SDK, loop *Loop, opts ScanOptions) *Scanner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultScanTimeout
	}
	return &Scanner{
		sdk:  s,
		loop: loop,
		opts: opts,
		id:   "scan-" + ulid.Make().String(),
	}
}

// ID identifies the session in logs and in the delegate registry.
func (s *Scanner) ID() string { return s.id }

// Start begins the session. done runs on the loop. Starting twice panics.
func (s *Scanner) Start(done func([]RotatorRecord, error)) {
	s.markStarted()
	s.loop.Post(func() { s.start(done) })
}

// Stop ends the session early and delivers whatever was found so far.
func (s *Scanner) Stop() { s.loop.Post(s.stop) }

// Close releases the session. A pending completion receives ErrScanCancelled.
func (s *Scanner) Close() { s.loop.Post(s.close) }

func (s *Scanner) markStarted() {
	if !s.started.CompareAndSwap(false, true) {
		panic("rotator: scanner started twice")
	}
}

func (s *Scanner) start(done func([]RotatorRecord, error)) {
	s.result = newPromise(done)
	s.discovered = make(map[string]RotatorRecord)
	s.release = s.sdk.Delegates().Subscribe(s.id, scanSink{s: s})
	_, s.span = tracer.StartSpan(context.Background(), "rotator.scan",
		trace.WithAttributes(tracer.StringAttr("scan.id", s.id)))
	s.state = scanWarming

	debug.Scan(s.id, "session started", "timeout", s.opts.Timeout, "warmup", s.opts.WarmUp)
	if s.opts.WarmUp > 0 {
		s.warmTimer = s.loop.AfterFunc(s.opts.WarmUp, s.begin)
		return
	}
	s.begin()
}

func (s *Scanner) begin() {
	if s.state != scanWarming {
		return
	}
	debug.SDK("BeginScan")
	if err := s.sdk.BeginScan(); err != nil {
		se := classifyScanError(err)
		debug.Scan(s.id, "scan refused", "kind", se.Kind.String(), "err", err)
		s.deliver(nil, se)
		return
	}
	s.state = scanScanning
	s.deadline = s.loop.AfterFunc(s.opts.Timeout, func() {
		debug.Scan(s.id, "deadline reached")
		s.finish()
	})
}

func (s *Scanner) discover(id, name string) {
	if s.state != scanScanning {
		return
	}
	if prev, ok := s.discovered[id]; ok && prev.Name != name {
		debug.Scan(s.id, "rotator renamed", "id", id, "from", prev.Name, "to", name)
	}
	s.discovered[id] = RotatorRecord{ID: id, Name: name}
	debug.Scan(s.id, "rotator discovered", "id", id, "name", name)
	if s.opts.StopOnFirst {
		s.finish()
	}
}

func (s *Scanner) permissionDenied() {
	if s.state != scanWarming && s.state != scanScanning {
		return
	}
	s.deliver(nil, ErrScanPermissionDenied)
}

func (s *Scanner) stop() {
	if s.state != scanWarming && s.state != scanScanning {
		return
	}
	debug.Scan(s.id, "stopped early")
	s.finish()
}

func (s *Scanner) close() {
	if s.state != scanWarming && s.state != scanScanning {
		return
	}
	debug.Scan(s.id, "released before completion")
	s.deliver(nil, ErrScanCancelled)
}

func (s *Scanner) finish() {
	recs := make([]RotatorRecord, 0, len(s.discovered))
	for _, r := range s.discovered {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	s.deliver(recs, nil)
}

// deliver tears the session down and resolves it. The SDK scan is stopped on
// every path, including a refused BeginScan.
func (s *Scanner) deliver(recs []RotatorRecord, err error) {
	s.state = scanDone
	s.warmTimer.Stop()
	s.deadline.Stop()

	debug.SDK("StopScan")
	s.sdk.StopScan()
	s.release()

	if err == nil {
		s.span.SetAttributes(tracer.IntAttr("scan.found", len(recs)))
	}
	tracer.End(s.span, err)
	debug.Scan(s.id, "session ended", "found", len(recs), "err", err)
	s.result.resolve(recs, err)
}

// scanSink moves SDK notifications onto the loop.
type scanSink struct {
	sdk.NopDelegate
	s *Scanner
}

func (k scanSink) DeviceDiscovered(id, name string) {
	k.s.loop.Post(func() { k.s.discover(id, name) })
}

func (k scanSink) BluetoothPermissionDenied() {
	k.s.loop.Post(k.s.permissionDenied)
}
