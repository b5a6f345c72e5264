package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tictactoe-rooms/internal/handlers"
	"tictactoe-rooms/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Authentication and origin policy are out of scope for this service;
	// the browser session itself is the only identity it trusts.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// drives each one's read pump, dispatching decoded RPCs to handlers.Handlers
// and writing the uniform result envelope back.
type Handler struct {
	hub *Hub
	h   *handlers.Handlers
}

func NewHandler(hub *Hub, h *handlers.Handlers) *Handler {
	return &Handler{hub: hub, h: h}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	c := newConnection(connID, conn)
	h.hub.register(c)
	go h.hub.writePump(c)

	h.readPump(c)
}

func (h *Handler) readPump(c *connection) {
	defer func() {
		// unregister's return value (every group this connection belonged
		// to) is discarded. HandleDisconnect acts on the single membership
		// handlers.Handlers.conns keeps per connection ID, which is the room
		// the connection most recently created, joined or reconnected to; a
		// seat this connection holds in any other room stays marked connected.
		h.hub.unregister(c.id)
		h.h.HandleDisconnect(c.id)
		c.ws.Close()
	}()

	for {
		var req protocol.Request
		if err := c.ws.ReadJSON(&req); err != nil {
			return
		}
		resp := h.dispatch(context.Background(), c.id, req)
		resp.RequestID = req.RequestID
		resp.CorrelationID = strings.ReplaceAll(uuid.New().String(), "-", "")
		resp.ServerTimestamp = time.Now()
		h.hub.SendEnvelope(c.id, resp)
	}
}
