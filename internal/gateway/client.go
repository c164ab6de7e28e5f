package gateway

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 1024                // Largest inbound frame; client frames only carry ids.
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	ID       string
	UserID   int
	Username string

	conn *websocket.Conn
	// Buffered channel of outbound frames.
	send chan []byte

	// Guarded by Hub.mu.
	rooms      map[string]struct{}
	sendClosed bool
}

// NewClient creates a client for an authenticated user. conn may be nil for
// in-process consumers that read Outbound directly.
func NewClient(conn *websocket.Conn, userID int, username string, buffer int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		conn:     conn,
		send:     make(chan []byte, buffer),
		rooms:    make(map[string]struct{}),
	}
}

// Outbound exposes the frames queued for this client.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

func (c *Client) closeSendLocked() {
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per websocket message.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
