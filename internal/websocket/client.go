package websocket

import (
	"time"

	"watermark-gateway/internal/model"
	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/pkg/events"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// SessionID this connection follows
	SessionID string

	// Buffered channel of outbound events.
	Send chan events.SessionEvent

	// last status written; later events that do not move forward are skipped
	last model.SessionStatus
}

// readPump only drains control frames; the stream is server-to-client.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.Hub.logger.Warn(logger.ModuleWS, "readPump error", map[string]interface{}{
					"session_id": c.SessionID,
					"error":      err.Error(),
				})
			}
			return
		}
	}
}

// writePump pushes status updates and closes the stream after a terminal one.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			status := model.SessionStatus(event.Status)
			if c.last != "" && !c.last.CanAdvanceTo(status) {
				continue
			}
			c.last = status

			if err := c.Conn.WriteJSON(event); err != nil {
				return
			}
			if status.IsTerminal() || status == model.SessionNotFound {
				c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(status)))
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs follows sessionID on conn. current is read after the client is
// registered so no transition between the two is lost.
func ServeWs(hub *Hub, conn *websocket.Conn, sessionID string, current func() events.SessionEvent) {
	client := &Client{Hub: hub, Conn: conn, SessionID: sessionID, Send: make(chan events.SessionEvent, sendBuffer)}
	hub.register(client)
	client.Send <- current()

	go client.writePump()
	client.readPump()
}
