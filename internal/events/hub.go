package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/fusion"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tooling only
	},
}

const (
	// clientBufferSize frames queue per client before drops start.
	clientBufferSize = 16
	// writeTimeout bounds a single websocket write.
	writeTimeout = 5 * time.Second
)

// hubMessage is the envelope broadcast to websocket clients.
type hubMessage struct {
	Type string `json:"type"` // state, device-found, calibration-step, calibration-result
	Data any    `json:"data"`
}

// Hub is a websocket fan-out of the event stream plus a JSON endpoint with
// the latest controller state, for local dashboards and debugging. Each
// client gets a buffered send queue; a client that stops reading loses
// frames instead of stalling the publisher.
type Hub struct {
	mu        sync.RWMutex
	conns     map[*websocket.Conn]chan hubMessage
	lastState fusion.ControllerState
	haveState bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]chan hubMessage)}
}

// RegisterRoutes attaches the hub's endpoints to mux.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/api/state", h.handleState)
}

// Run serves the hub on addr; it blocks like http.ListenAndServe.
func (h *Hub) Run(addr string) error {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	log.Infof("events: websocket hub listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("events: websocket upgrade: %v", err)
		return
	}

	send := make(chan hubMessage, clientBufferSize)
	h.mu.Lock()
	h.conns[conn] = send
	h.mu.Unlock()

	// Writer loop: the only goroutine writing to this connection.
	go func() {
		for msg := range send {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debugf("events: websocket write: %v", err)
				break
			}
		}
		h.drop(conn)
	}()

	// Reader loop exists only to notice the client going away.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// drop unregisters and closes a client; safe to call more than once.
func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	send, ok := h.conns[conn]
	if ok {
		delete(h.conns, conn)
		close(send)
	}
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (h *Hub) handleState(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.haveState {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.lastState); err != nil {
		log.Errorf("events: state encode: %v", err)
	}
}

func (h *Hub) State(state fusion.ControllerState) {
	h.mu.Lock()
	h.lastState = state
	h.haveState = true
	h.mu.Unlock()
	h.broadcast(hubMessage{Type: "state", Data: state})
}

func (h *Hub) DeviceFound(device DeviceRecord) {
	h.broadcast(hubMessage{Type: "device-found", Data: device})
}

func (h *Hub) CalibrationStep(step string) {
	h.broadcast(hubMessage{Type: "calibration-step", Data: step})
}

func (h *Hub) CalibrationFinished(kind string, ok bool) {
	h.broadcast(hubMessage{Type: "calibration-result", Data: map[string]any{"kind": kind, "ok": ok}})
}

func (h *Hub) broadcast(msg hubMessage) {
	// Queues are closed only under the write lock, so sending under the
	// read lock cannot race a close.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, send := range h.conns {
		select {
		case send <- msg:
		default: // client not keeping up, drop the frame
		}
	}
}
