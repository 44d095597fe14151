package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/logic/motion"
	"github.com/cjeanneret/RotaGo/internal/rotator"
)

// Controller is the part of the coordinator the HTTP surface drives.
type Controller interface {
	BeginDiscovery()
	Connect(id string) error
	Disconnect()
	Execute(cmd motion.Command) error
	Active() (rotator.Snapshot, bool)
	Discovered() []rotator.RotatorRecord
	Scanning() bool
	Status() rotator.Status
}

// FormConfig holds the settings shown by the page (from config).
type FormConfig struct {
	Backend       string `json:"backend"`
	ScanTimeoutMs int    `json:"scan_timeout_ms"`
	SingleResult  string `json:"single_result"`
	DefaultSpeed  int    `json:"default_speed"`
	MaxAngle      int    `json:"max_angle"`
	MaxSpeed      int    `json:"max_speed"`
}

// DevicesResponse is the body of GET /devices.
type DevicesResponse struct {
	Scanning bool                    `json:"scanning"`
	Status   rotator.Status          `json:"status"`
	Rotators []rotator.RotatorRecord `json:"rotators"`
}

// ConnectRequest is the body of POST /connect.
type ConnectRequest struct {
	ID string `json:"id"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Ctrl         Controller
	FormDefaults FormConfig
	limiter      *rate.Limiter
	staticFS     fs.FS
}

// NewHandlers creates handlers with the given dependencies. limiter bounds
// motion commands across HTTP and websocket clients; nil means unlimited.
func NewHandlers(broadcaster *StatusBroadcaster, ctrl Controller, formDefaults FormConfig, limiter *rate.Limiter, staticFS fs.FS) *Handlers {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Handlers{
		Broadcaster:  broadcaster,
		Ctrl:         ctrl,
		FormDefaults: formDefaults,
		limiter:      limiter,
		staticFS:     staticFS,
	}
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the page settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleDiscover handles POST /discover: starts a scan, or stops the running one.
func (h *Handlers) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	action := "start"
	if h.Ctrl.Scanning() {
		action = "stop"
	}
	h.Ctrl.BeginDiscovery()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": action})
}

// HandleConnect handles POST /connect with {"id": "..."}.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	switch err := h.Ctrl.Connect(req.ID); {
	case errors.Is(err, rotator.ErrUnknownRotator):
		http.Error(w, "rotator not in the last discovery", http.StatusNotFound)
	case errors.Is(err, rotator.ErrClosed):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting", "id": req.ID})
	}
}

// HandleDisconnect handles POST /disconnect.
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.Ctrl.Disconnect()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "disconnecting"})
}

// HandleDevice handles GET /device: the active rotator, 404 when none.
func (h *Handlers) HandleDevice(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.Ctrl.Active()
	if !ok {
		http.Error(w, "no active rotator", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleDevices handles GET /devices: the last discovery and current status.
func (h *Handlers) HandleDevices(w http.ResponseWriter, r *http.Request) {
	recs := h.Ctrl.Discovered()
	if recs == nil {
		recs = []rotator.RotatorRecord{}
	}
	writeJSON(w, http.StatusOK, DevicesResponse{
		Scanning: h.Ctrl.Scanning(),
		Status:   h.Ctrl.Status(),
		Rotators: recs,
	})
}

// execute runs cmd through the rate limiter and maps the outcome to an HTTP code.
func (h *Handlers) execute(cmd motion.Command) (int, error) {
	if !h.limiter.Allow() {
		return http.StatusTooManyRequests, errors.New("too many commands")
	}
	err := h.Ctrl.Execute(cmd)
	switch {
	case err == nil:
		return http.StatusAccepted, nil
	case errors.Is(err, rotator.ErrNoActiveDevice):
		return http.StatusConflict, err
	case errors.Is(err, rotator.ErrClosed):
		return http.StatusServiceUnavailable, err
	default:
		return http.StatusBadRequest, err
	}
}

// HandleCommand handles POST /command with a motion.Command body.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd motion.Command
	if !decodeBody(w, r, &cmd) {
		return
	}
	code, err := h.execute(cmd)
	if err != nil {
		debug.Verbose("command rejected", "kind", string(cmd.Kind), "code", code, "err", err)
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, code, map[string]string{"status": "sent"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Replay the current status so a fresh page is not blank
	h.Broadcaster.replay(w, h.Ctrl.Status())
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
