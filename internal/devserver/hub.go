// Package devserver serves the build root during watch mode and pushes reload
// signals to connected browsers over Server-Sent Events or WebSocket.
package devserver

import (
	"bufio"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/metrics"
)

const (
	heartbeatInterval = 30 * time.Second
	writeWait         = 5 * time.Second
	pongWait          = 60 * time.Second
)

// reloadMessage is the WebSocket frame and SSE payload sent on reload.
const reloadMessage = `{"type":"reload"}`

// Hub tracks live dev-session connections and signals them to reload.
// Connections may register and unregister concurrently with a broadcast.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	clients map[int]*client
	closed  bool

	broadcasts atomic.Int64
	recorder   metrics.Recorder
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

type client struct {
	id   int
	kind string
	// reload holds at most one undelivered signal; a second broadcast
	// before delivery folds into the first.
	reload chan struct{}
	done   chan struct{}
}

// NewHub returns an empty hub. A nil recorder or logger uses the defaults.
func NewHub(rec metrics.Recorder, logger *slog.Logger) *Hub {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:  map[int]*client{},
		recorder: rec,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dev server is a local tool; pages may be opened from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// BroadcastReload signals every registered connection and returns without
// waiting for delivery. It reports how many connections were signalled.
func (h *Hub) BroadcastReload() int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	snapshot := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	for _, c := range snapshot {
		select {
		case c.reload <- struct{}{}:
		default:
		}
	}
	h.broadcasts.Add(1)
	h.recorder.IncReloadBroadcast()
	h.logger.Debug("Reload broadcast", logfields.Clients(len(snapshot)))
	return len(snapshot)
}

// Broadcasts returns how many reloads were broadcast since the hub started.
func (h *Hub) Broadcasts() int64 { return h.broadcasts.Load() }

// Clients returns the number of live connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown disconnects every client and rejects new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = map[int]*client{}
	h.mu.Unlock()
	for _, c := range clients {
		close(c.done)
	}
	h.recorder.SetLiveClients(0)
}

func (h *Hub) register(kind string) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{id: h.nextID, kind: kind, reload: make(chan struct{}, 1), done: make(chan struct{})}
	h.nextID++
	h.clients[c.id] = c
	h.recorder.SetLiveClients(len(h.clients))
	h.logger.Debug("Dev client connected", "kind", kind, logfields.Clients(len(h.clients)))
	return c, true
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(c.done)
	h.recorder.SetLiveClients(len(h.clients))
	h.logger.Debug("Dev client disconnected", "kind", c.kind, logfields.Clients(len(h.clients)))
}

// ServeSSE streams reload events at /livereload.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	c, ok := h.register("sse")
	if !ok {
		http.Error(w, "livereload shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.remove(c.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	write := func(s string) bool {
		if _, err := bw.WriteString(s); err != nil {
			h.logger.Debug("livereload write", logfields.Error(err))
			return false
		}
		if err := bw.Flush(); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !write(": connected\n\n") {
		return
	}

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-hb.C:
			if !write(": ping\n\n") {
				return
			}
		case <-c.reload:
			if !write("event: reload\ndata: " + reloadMessage + "\n\n") {
				return
			}
		}
	}
}

// ServeWS upgrades /livereload/ws and sends a text frame per reload.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Debug("websocket upgrade failed", logfields.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	c, ok := h.register("ws")
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		return
	}
	defer h.remove(c.id)

	// The client never sends data; reading detects disconnects and handles pongs.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(heartbeatInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.reload:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reloadMessage)); err != nil {
				h.logger.Debug("websocket write", logfields.Error(err))
				return
			}
		}
	}
}
