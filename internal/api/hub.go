package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/tube.report/internal/monitoring"
	"github.com/banshee-data/tube.report/internal/sample"
)

const (
	writeWait = 5 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = 50 * time.Second
)

// rowMessage is the frame sent to live clients for each aligned row.
type rowMessage struct {
	Type string `json:"type"`
	sample.AlignedRow
}

// Hub fans aligned rows out to websocket clients. It is a pipeline row
// sink: WriteRow never blocks, and rows are dropped when the queue is full.
type Hub struct {
	upgrader websocket.Upgrader
	messages chan []byte

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	dropped atomic.Int64
}

// NewHub creates a hub queueing up to buffer rows.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		messages: make(chan []byte, buffer),
		clients:  make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (h *Hub) WriteRow(row sample.AlignedRow) error {
	payload, err := json.Marshal(rowMessage{Type: "row", AlignedRow: row})
	if err != nil {
		return err
	}
	select {
	case h.messages <- payload:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Dropped returns how many rows were discarded on a full queue.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run broadcasts queued rows until ctx is done, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-h.messages:
			var stale []*websocket.Conn
			h.mu.Lock()
			for conn, writeMu := range h.clients {
				if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			h.mu.Unlock()
			for _, conn := range stale {
				h.removeClient(conn)
			}
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[ws] upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	h.mu.Unlock()

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer h.removeClient(conn)
		// Clients only listen; reading keeps control frames flowing.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn, writeMu := range h.clients {
		_ = writeMessage(conn, writeMu, websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "recording stopped"))
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		h.removeClient(conn)
	}
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
