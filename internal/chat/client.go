package chat

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 8192                // Maximum frame size allowed from peer; full messages ride in envelopes.
)

// Client is a middleman between one websocket connection and the hub. The
// identity attached at handshake time holds for the connection's whole
// lifetime; no per-event re-authentication happens.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  *slog.Logger

	// Buffered channel of outbound frames.
	Send chan []byte

	UserID   int
	Username string
}

// readPump pumps envelopes from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error", "user", c.UserID, "err", err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.log.Warn("malformed envelope", "user", c.UserID, "err", err)
			continue
		}
		c.dispatch(env)
	}
}

// dispatch routes one client envelope. publish_* events carry a message the
// client already persisted through the REST gateway; the transport only
// controls delivery scope, it never writes to the store.
func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case EventJoinRoom:
		c.hub.Join <- roomRequest{client: c, tribeID: env.TribeID}

	case EventLeaveRoom:
		c.hub.Leave <- roomRequest{client: c, tribeID: env.TribeID}

	case EventPublishMessage:
		if env.Message == nil {
			return
		}
		c.hub.Broadcast(env.TribeID, Envelope{
			Type:    EventMessageReceived,
			TribeID: env.TribeID,
			Message: env.Message,
		})

	case EventPublishReaction:
		if env.Message == nil || env.MessageID == nil {
			return
		}
		c.hub.Broadcast(env.TribeID, Envelope{
			Type:      EventReactionReceived,
			TribeID:   env.TribeID,
			MessageID: env.MessageID,
			Message:   env.Message,
		})

	default:
		c.log.Debug("unknown envelope type", "type", env.Type, "user", c.UserID)
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			// Heartbeat to keep the connection alive through proxies.
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
