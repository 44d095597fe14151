package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/RotaGo/internal/logic/motion"
	"github.com/cjeanneret/RotaGo/internal/rotator"
)

func newTestServer(t *testing.T, ctrl *fakeController) (*httptest.Server, *StatusBroadcaster) {
	t.Helper()
	h := newTestHandlers(ctrl, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	mux.HandleFunc("GET /ws", h.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h.Broadcaster
}

func TestStatusStream_ReplaysAndForwards(t *testing.T) {
	ctrl := &fakeController{status: rotator.Status{Kind: rotator.StatusConnected, Text: "Connected to Pivo-A"}}
	srv, b := newTestServer(t, ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/status/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan StatusEvent, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var evt StatusEvent
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt) == nil {
				events <- evt
			}
		}
	}()

	first := <-events
	assert.Equal(t, TypeStatus, first.Type)
	assert.Equal(t, "Connected to Pivo-A", first.Msg)

	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 5*time.Millisecond)
	b.Alert(rotator.AlertTitle, "Scan failed: boom")
	select {
	case evt := <-events:
		assert.Equal(t, TypeAlert, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for alert")
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestWebSocket_ForwardsCommands(t *testing.T) {
	ctrl := &fakeController{status: rotator.Status{Kind: rotator.StatusIdle, Text: "Idle"}}
	srv, _ := newTestServer(t, ctrl)
	conn := dialWS(t, srv)

	var hello StatusEvent
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, TypeStatus, hello.Type)

	require.NoError(t, conn.WriteJSON(motion.Command{Kind: motion.KindContinuous, Direction: "right", Speed: 15}))
	assert.Eventually(t, func() bool { return len(ctrl.Commands()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, motion.KindContinuous, ctrl.Commands()[0].Kind)
}

func TestWebSocket_RejectedCommandReplies(t *testing.T) {
	ctrl := &fakeController{execErr: rotator.ErrNoActiveDevice}
	srv, _ := newTestServer(t, ctrl)
	conn := dialWS(t, srv)

	var hello StatusEvent
	require.NoError(t, conn.ReadJSON(&hello))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{bad")))
	var evt StatusEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, TypeError, evt.Type)
	assert.Equal(t, "invalid JSON", evt.Msg)

	require.NoError(t, conn.WriteJSON(motion.Command{Kind: motion.KindStop}))
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, TypeError, evt.Type)
	assert.Contains(t, evt.Msg, "no active")
}

func TestWebSocket_ReceivesBroadcasts(t *testing.T) {
	srv, b := newTestServer(t, &fakeController{})
	conn := dialWS(t, srv)

	var hello StatusEvent
	require.NoError(t, conn.ReadJSON(&hello))
	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 5*time.Millisecond)

	b.DeviceChanged(rotator.Snapshot{ID: "A", Name: "Pivo-A", State: "established"}, true)
	var evt StatusEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, TypeDevice, evt.Type)
	assert.Equal(t, "Pivo-A established", evt.Msg)
}
