// Package client provides a reusable WebSocket load test client for the
// relay chat server. It connects using gobwas/ws (the same library the
// server uses), tracks the identity assigned by the welcome notification,
// and dispatches incoming messages to registered handlers.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Message types, local equivalents of the server's protocol constants.
const (
	TypeMessage      = "message"
	TypeSetUsername  = "setUsername"
	TypeNotification = "notification"
	TypeError        = "error"
)

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Handler processes one decoded server frame.
type Handler func(msg map[string]interface{})

// Client represents a single simulated user connection to the relay server.
// It manages the WebSocket lifecycle and dispatches incoming frames to
// registered handlers by type.
type Client struct {
	conn     net.Conn
	mu       sync.Mutex
	handlers map[string]Handler
	metrics  Metrics
	username string
	done     chan struct{}
	closed   bool
}

// Dial connects to the relay server at url (e.g. ws://localhost:8080/ws) and
// starts the read loop. The assigned username becomes available once the
// welcome notification arrives.
func Dial(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// On registers a handler for a server frame type.
func (c *Client) On(msgType string, handler Handler) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// SendChat sends a chat message frame.
func (c *Client) SendChat(text string) error {
	return c.send(map[string]interface{}{"type": TypeMessage, "text": text})
}

// SetUsername requests an identity rename.
func (c *Client) SetUsername(name string) error {
	return c.send(map[string]interface{}{"type": TypeSetUsername, "username": name})
}

// Username returns the identity most recently confirmed by the server.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Metrics returns a copy of the connection's counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Close tears the connection down. The read loop exits on the closed socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	return c.conn.Close()
}

// Done is closed when the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) send(payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client: connection closed")
	}
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		c.metrics.Errors++
		return fmt.Errorf("client: write: %w", err)
	}
	c.metrics.MessagesSent++
	return nil
}

// readLoop reads server frames until the connection closes, updating metrics
// and dispatching each frame to its type handler.
func (c *Client) readLoop() {
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			c.mu.Lock()
			alreadyClosed := c.closed
			c.closed = true
			c.mu.Unlock()
			if !alreadyClosed {
				close(c.done)
			}
			return
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			continue
		}

		msgType, _ := msg["type"].(string)

		c.mu.Lock()
		c.metrics.MessagesReceived++
		// Track the confirmed identity from notifications.
		if msgType == TypeNotification {
			if user, ok := msg["user"].(map[string]interface{}); ok {
				if name, ok := user["username"].(string); ok {
					c.username = name
				}
			}
		}
		handler := c.handlers[msgType]
		c.mu.Unlock()

		if handler != nil {
			handler(msg)
		}
	}
}
