package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quitline-realtime/internal/domain"
	"quitline-realtime/internal/transport"
	"quitline-realtime/pkg/constants"
	"quitline-realtime/pkg/logger"
)

// Client represents one WebSocket connection for one identity.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity domain.Identity
	rooms    map[uuid.UUID]bool

	// sendMu serializes queueing against channel close. Once closed is set
	// the channel is never written or closed again.
	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

// trySend queues an envelope without blocking. False means the client is
// gone or its buffer is full.
func (c *Client) trySend(message []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound channel. Safe to call more than once.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients (the mobile app) send no origin.
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeWS handles WebSocket upgrade requests. The auth middleware has already
// validated the credential and stored the identity in the gin context.
func (h *Hub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	identityVal, exists := c.Get("identity")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	identity, ok := identityVal.(domain.Identity)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid identity"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", identity.ID.String()),
			zap.Error(err))
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		identity: identity,
		rooms:    make(map[uuid.UUID]bool),
	}

	client.hub.register <- client

	go client.writePump()
	client.readPump()
}

// readPump reads frames from the socket and routes them. Events from one
// connection are handled strictly in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.identity.ID.String()),
					zap.Error(err))
			}
			break
		}

		env, err := transport.Decode(raw)
		if err != nil {
			logger.Warn("invalid frame from client",
				zap.String("user_id", c.identity.ID.String()),
				zap.Error(err))
			continue
		}

		c.hub.route(context.Background(), c, env)
	}
}

// writePump writes frames to the socket and keeps the connection and the
// Redis presence key alive on the ping cycle.
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if err := c.hub.presence.Refresh(context.Background(), c.identity.ID); err != nil {
				logger.Debug("presence refresh failed", zap.Error(err))
			}
		}
	}
}
