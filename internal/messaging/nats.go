// Package messaging provides the NATS bridge that relays broadcast frames
// between relay server instances. Delivery through the bridge keeps the same
// best-effort, fire-and-forget semantics as local fan-out: a lost event is
// a lost message, never an error surfaced to a sender.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectRoomEvents is the subject all instances publish broadcast frames to.
const SubjectRoomEvents = "room.events"

// RoomEvent is the payload exchanged between instances: the origin instance
// name (used to suppress echo of our own events) and the wire-ready outbound
// frame to deliver to local sessions.
type RoomEvent struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name, doubles as the instance origin
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Bridge wraps the NATS connection for cross-instance broadcast relaying.
type Bridge struct {
	conn   *nats.Conn
	origin string
	sub    *nats.Subscription
}

// NewBridge connects to NATS with the given config and returns a ready
// bridge. It returns an error if the initial connection fails.
func NewBridge(config Config) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("messaging: nats disconnected: %v", err)
			} else {
				log.Printf("messaging: nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("messaging: nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("messaging: nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}

	log.Printf("messaging: connected to %s as %q", nc.ConnectedUrl(), config.Name)

	return &Bridge{conn: nc, origin: config.Name}, nil
}

// PublishFrame relays one outbound broadcast frame to peer instances.
func (b *Bridge) PublishFrame(frame []byte) error {
	event := RoomEvent{Origin: b.origin, Frame: frame}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("messaging: marshal room event: %w", err)
	}
	return b.conn.Publish(SubjectRoomEvents, data)
}

// SubscribeFrames registers a handler for frames relayed by other instances.
// Events published by this instance come back over the subscription and are
// dropped here, since their frames were already delivered locally.
func (b *Bridge) SubscribeFrames(handler func(frame []byte)) error {
	sub, err := b.conn.Subscribe(SubjectRoomEvents, func(msg *nats.Msg) {
		var event RoomEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("messaging: bad room event: %v", err)
			return
		}
		if event.Origin == b.origin {
			return // our own broadcast, already delivered
		}
		handler(event.Frame)
	})
	if err != nil {
		return fmt.Errorf("messaging: nats subscribe %s: %w", SubjectRoomEvents, err)
	}
	b.sub = sub
	return nil
}

// Close drains the subscription and closes the NATS connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.conn.Close()
}
