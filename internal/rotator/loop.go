package rotator

import (
	"sync"
	"time"
)

// Stopper cancels a pending timer. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

// Loop is the serialization domain shared by a coordinator, its scanners and
// its device links. Every state mutation runs as a task on the loop goroutine,
// in the order the tasks were posted. The queue is unbounded so SDK callbacks
// never block on a busy loop.
type Loop struct {
	clock Clock

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewLoop starts a loop. A nil clock uses the wall clock.
func NewLoop(clock Clock) *Loop {
	if clock == nil {
		clock = realClock{}
	}
	l := &Loop{
		clock: clock,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. It reports false when the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) == 0 {
			if closed {
				return
			}
			<-l.wake
		}
	}
}

// Sync blocks until every task posted before the call has run.
// It must not be called from a loop task.
func (l *Loop) Sync() {
	ch := make(chan struct{})
	if !l.Post(func() { close(ch) }) {
		<-l.done
		return
	}
	<-ch
}

// Close rejects new tasks, runs the queued ones and stops the goroutine.
// It must not be called from a loop task.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

// Timer is a cancellable deadline whose callback runs on the loop.
// Stop must be called from the loop.
type Timer struct {
	stopper Stopper
	stopped bool
}

// AfterFunc runs fn on the loop after d unless the timer is stopped first.
// A timer stopped from a loop task never fires, even when the clock already
// queued its callback.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.stopper = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

// Stop cancels the timer. Stopping a nil, fired or stopped timer is a no-op.
func (t *Timer) Stop() {
	if t == nil || t.stopped {
		return
	}
	t.stopped = true
	t.stopper.Stop()
}
