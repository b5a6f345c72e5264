// Package ws is the concrete WebSocket transport adapter: it upgrades HTTP
// connections, owns one read pump and one write pump per connection,
// maintains room-group membership, and implements broadcast.Broadcaster so
// the core never has to import gorilla/websocket itself. Grounded in the
// teacher's internal/broadcast hub, generalized from a single-game
// connection set to named groups, and its internal/ws handler, generalized
// from raw-move framing to the RPC envelope in internal/protocol.
package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tictactoe-rooms/internal/protocol"
)

const sendBuffer = 16

// connection wraps one accepted socket. Writes are serialized through send,
// drained by a single writePump goroutine per connection — the standard
// gorilla/websocket rule that only one goroutine may call WriteMessage on a
// given *websocket.Conn. done signals the writePump to stop; it is closed
// exactly once via closeOnce so unregister never races a send against a
// closed channel.
type connection struct {
	id        string
	ws        *websocket.Conn
	send      chan any
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id string, ws *websocket.Conn) *connection {
	return &connection{id: id, ws: ws, send: make(chan any, sendBuffer), done: make(chan struct{})}
}

func (c *connection) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub tracks every live connection and the room-code groups they belong to.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	groups map[string]map[string]struct{} // groupCode -> set of connectionIDs
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]*connection),
		groups: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
	metricActiveConnections.Add(1)
}

// unregister removes a connection from the registry and every group it was
// a member of, and returns the set of group codes it belonged to.
func (h *Hub) unregister(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var codes []string
	for code, members := range h.groups {
		if _, ok := members[connID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.groups, code)
			}
			codes = append(codes, code)
		}
	}
	if c, ok := h.conns[connID]; ok {
		c.stop()
		delete(h.conns, connID)
		metricActiveConnections.Add(-1)
	}
	return codes
}

func (h *Hub) AddToGroup(connectionID string, groupCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[groupCode] == nil {
		h.groups[groupCode] = make(map[string]struct{})
	}
	h.groups[groupCode][connectionID] = struct{}{}
}

func (h *Hub) RemoveFromGroup(connectionID string, groupCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[groupCode]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.groups, groupCode)
		}
	}
}

func (h *Hub) SendToConnection(connectionID string, event string, payload any) {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.enqueue(c, event, payload)
}

func (h *Hub) SendToGroup(groupCode string, event string, payload any) {
	h.broadcastGroup(groupCode, "", event, payload)
}

func (h *Hub) SendToGroupExcept(groupCode string, exceptConnectionID string, event string, payload any) {
	h.broadcastGroup(groupCode, exceptConnectionID, event, payload)
}

func (h *Hub) broadcastGroup(groupCode, except, event string, payload any) {
	h.mu.RLock()
	members := h.groups[groupCode]
	targets := make([]*connection, 0, len(members))
	for id := range members {
		if id == except {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.enqueue(c, event, payload)
	}
}

func (h *Hub) enqueue(c *connection, event string, payload any) {
	h.enqueueRaw(c, protocol.Push{Event: event, Payload: payload})
}

// enqueueRaw queues any outbound frame — a push or an RPC response envelope
// — onto the connection's single writer channel. Never call c.ws.WriteJSON
// directly from outside writePump; that would violate gorilla/websocket's
// one-writer-per-connection rule.
func (h *Hub) enqueueRaw(c *connection, frame any) {
	select {
	case c.send <- frame:
	default:
		log.Warn().Str("conn", c.id).Msg("dropping frame: send buffer full")
	}
}

// SendEnvelope queues an RPC response envelope for connID, routed through
// the same writePump goroutine as group/connection pushes.
func (h *Hub) SendEnvelope(connID string, env protocol.Envelope) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.enqueueRaw(c, env)
}

func (h *Hub) writePump(c *connection) {
	defer c.ws.Close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
