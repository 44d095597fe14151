package web

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/RotaGo/internal/rotator"
	"github.com/cjeanneret/RotaGo/internal/sdk"
)

// Event types pushed to SSE and websocket clients.
const (
	TypeStatus = "status"
	TypeAlert  = "alert"
	TypeDevice = "device"
	TypeRemote = "remote"
	TypeLog    = "log"
	TypeError  = "error"
)

// StatusEvent is a single message for SSE and websocket clients.
type StatusEvent struct {
	Time  string `json:"t"`
	Type  string `json:"type"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
	Data  any    `json:"data,omitempty"`
}

// DevicePayload is the data of a device event; Device is nil when the link is gone.
type DevicePayload struct {
	Device *rotator.Snapshot `json:"device"`
}

// StatusBroadcaster distributes events to multiple clients. It is a
// rotator.Observer.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish sends an event to all subscribed clients.
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	payload, ok := b.encode(evt)
	if !ok {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// encode stamps and serializes one event.
func (b *StatusBroadcaster) encode(evt StatusEvent) (string, bool) {
	if evt.Time == "" {
		evt.Time = b.now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// replay writes the current status as one SSE frame to a single client.
func (b *StatusBroadcaster) replay(w io.Writer, st rotator.Status) {
	if payload, ok := b.encode(statusEvent(st)); ok {
		io.WriteString(w, "data: "+payload+"\n\n")
	}
}

// Broadcast sends a log line at the given level.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Type: TypeLog, Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

func statusEvent(st rotator.Status) StatusEvent {
	return StatusEvent{Type: TypeStatus, Level: statusLevel(st.Kind), Msg: st.Text, Data: st}
}

func (b *StatusBroadcaster) UpdateStatus(st rotator.Status) {
	b.Publish(statusEvent(st))
}

func (b *StatusBroadcaster) Alert(title, message string) {
	b.Publish(StatusEvent{Type: TypeAlert, Level: "error", Msg: title + ": " + message})
}

func (b *StatusBroadcaster) DeviceChanged(snap rotator.Snapshot, ok bool) {
	payload := DevicePayload{}
	msg := "No active rotator"
	if ok {
		payload.Device = &snap
		msg = snap.Name + " " + snap.State
	}
	b.Publish(StatusEvent{Type: TypeDevice, Level: "info", Msg: msg, Data: payload})
}

func (b *StatusBroadcaster) RemoteEvent(ev sdk.Event) {
	b.Publish(StatusEvent{Type: TypeRemote, Level: "info", Msg: ev.String()})
}

func statusLevel(k rotator.StatusKind) string {
	switch k {
	case rotator.StatusConnectError, rotator.StatusScanFailed, rotator.StatusPermissionDenied:
		return "error"
	case rotator.StatusDisconnected, rotator.StatusNoRotators:
		return "warn"
	default:
		return "info"
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.BroadcastMsg(msg)
		}
	}
	return len(p), nil
}

var _ rotator.Observer = (*StatusBroadcaster)(nil)
