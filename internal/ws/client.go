package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// WSClient adapts a websocket connection to the Subscriber interface.
type WSClient struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSClient wraps an upgraded websocket connection.
func NewWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{conn: conn}
}

// Send writes one text message to the peer.
func (c *WSClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// Close shuts the connection down. Safe to call more than once.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
