package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/logic/motion"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// HandleWebSocket handles GET /ws. The socket carries every broadcast event
// to the client; the client sends motion.Command JSON frames back, and
// rejected commands are answered with an "error" event.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("websocket upgrade failed", "err", err)
		return
	}
	conn := &wsConn{Conn: raw}
	defer conn.Close()
	debug.Verbose("websocket client connected", "remote", r.RemoteAddr)

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	if payload, ok := h.Broadcaster.encode(statusEvent(h.Ctrl.Status())); ok {
		if err := conn.send([]byte(payload)); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readCommands(conn)
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.send([]byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-done:
			debug.Verbose("websocket client gone", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handlers) readCommands(conn *wsConn) {
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debug.Error("websocket read", err)
			}
			return
		}
		var cmd motion.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(conn, "invalid JSON")
			continue
		}
		if _, err := h.execute(cmd); err != nil {
			h.reply(conn, err.Error())
		}
	}
}

func (h *Handlers) reply(conn *wsConn, msg string) {
	if payload, ok := h.Broadcaster.encode(StatusEvent{Type: TypeError, Level: "error", Msg: msg}); ok {
		_ = conn.send([]byte(payload))
	}
}
