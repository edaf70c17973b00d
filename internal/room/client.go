package room

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// sendBufferSize bounds the per-client outbound queue. A slow reader drops
// frames instead of blocking fan-out to the rest of the room.
const sendBufferSize = 256

// Conn is the transport a client writes to. *websocket.Conn satisfies it;
// tests substitute an in-memory recorder.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one live connection to a room. The id is unique per connection,
// not per user: the same user in two tabs gets two clients.
type Client struct {
	ID       string
	UserID   int64
	Username string
	Avatar   string

	conn Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps a connection and starts its writer goroutine
func NewClient(id string, userID int64, username, avatar string, conn Conn) *Client {
	c := &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		Avatar:   avatar,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}
	go c.writePump()
	return c
}

// Send enqueues one marshaled frame. Delivery is best-effort: a full buffer
// or a closed client drops the frame and reports false.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Printf("[Client %s] send buffer full, dropping frame", c.ID)
		return false
	}
}

// SendJSON marshals v and enqueues it
func (c *Client) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Client %s] marshal failed: %v", c.ID, err)
		return false
	}
	return c.Send(data)
}

// Close stops the writer and closes the transport. Safe to call twice.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[Client %s] write failed: %v", c.ID, err)
		}
	}
	c.conn.Close()
}
