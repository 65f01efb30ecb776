package httpapi

import (
	"encoding/json"
	"sync"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/gorilla/websocket"
)

// WebSocketBufferSize is the per-client send-channel buffer, carried
// over from the teacher's internal/server/hub.go.
const WebSocketBufferSize = 256

// wsClient is one connected WS /live listener.
type wsClient struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

// hub fans broadcasts out to every connected WS /live client. Grounded
// on the teacher's internal/server.Hub, narrowed to the one message
// type this surface emits (a broadcast tail) instead of the teacher's
// state/alert/activity/chat message zoo.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*wsClient]bool)}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcastBroadcast fans a blackboard broadcast out to every connected
// client as a JSON message. A client whose send buffer is full is
// disconnected (its channel closed and the client removed) rather than
// blocking the tail for everyone else.
func (h *hub) broadcastBroadcast(evt blackboard.Broadcast) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	for {
		// This surface is read-only: incoming client frames are drained
		// and discarded; the loop ends when ReadMessage returns an error
		// (the client closed or the connection broke). No read deadline
		// is set.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
